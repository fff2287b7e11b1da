// Package shell implements the line-oriented interactive session.
package shell

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/sqlgpt/sqlgpt/internal/deploy"
	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/observability"
	"github.com/sqlgpt/sqlgpt/internal/pipeline"
	"github.com/sqlgpt/sqlgpt/internal/sqlgen"
)

type Translator interface {
	pipeline.Translator
	Refine(ctx context.Context, in intent.Intent, feedback string) (intent.Intent, error)
}

// Entry is one processed prompt.
type Entry struct {
	Prompt string
	Intent intent.Intent
	SQL    string
}

type Options struct {
	In        io.Reader
	Out       io.Writer
	Logger    *slog.Logger
	WriteFile func(name string, data []byte) error
}

type Session struct {
	translator Translator
	generator  pipeline.Generator
	builder    pipeline.ScriptBuilder
	in         *bufio.Reader
	out        io.Writer
	logger     *slog.Logger
	writeFile  func(string, []byte) error
	styles     styles
	history    []Entry
}

type styles struct {
	panel  lipgloss.Style
	title  lipgloss.Style
	prompt lipgloss.Style
	errTag lipgloss.Style
	ok     lipgloss.Style
	notice lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		panel:  r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		title:  r.NewStyle().Bold(true),
		prompt: r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		errTag: r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		ok:     r.NewStyle().Foreground(lipgloss.Color("10")),
		notice: r.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

func New(translator Translator, generator pipeline.Generator, builder pipeline.ScriptBuilder, opts Options) *Session {
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	writeFile := opts.WriteFile
	if writeFile == nil {
		writeFile = func(name string, data []byte) error { return os.WriteFile(name, data, 0o644) }
	}
	return &Session{
		translator: translator,
		generator:  generator,
		builder:    builder,
		in:         bufio.NewReader(in),
		out:        out,
		logger:     observability.OrDiscard(opts.Logger),
		writeFile:  writeFile,
		styles:     newStyles(lipgloss.NewRenderer(out)),
	}
}

func (s *Session) History() []Entry {
	return append([]Entry(nil), s.history...)
}

// Run reads prompts until exit, end of input or ctx cancellation.
func (s *Session) Run(ctx context.Context) error {
	s.panel("Welcome", lipgloss.Color("12"),
		s.styles.title.Render("SQL-GPT: Natural Language to PostgreSQL Generator")+"\n\n"+
			"Convert natural language prompts to advanced PostgreSQL queries.\n"+
			"Type help for a list of commands or exit to quit.")

	for {
		if err := ctx.Err(); err != nil {
			s.printf("\n%s\n", s.styles.notice.Render("Session interrupted."))
			s.goodbye()
			return nil
		}
		line, err := s.ask("\n" + s.styles.prompt.Render("Enter your prompt") + ": ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.goodbye()
				return nil
			}
			return err
		}
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit", "q":
			s.goodbye()
			return nil
		case "help", "h", "?":
			s.help()
			continue
		case "history", "hist":
			s.showHistory()
			continue
		}

		if err := s.process(ctx, line); err != nil {
			if errors.Is(err, io.EOF) {
				s.goodbye()
				return nil
			}
			s.logger.ErrorContext(ctx, "prompt processing failed", slog.Any("error", err))
			s.printf("%s %v\n", s.styles.errTag.Render("Error:"), err)
		}
	}
}

func (s *Session) process(ctx context.Context, prompt string) error {
	s.printf("%s\n", s.styles.title.Render("Processing..."))

	in, err := s.translator.Process(ctx, prompt)
	if err != nil {
		return err
	}
	s.showIntent(in)

	correct, err := s.confirm("Is this intent correct?", true)
	if err != nil {
		return err
	}
	if !correct {
		if in, err = s.refine(ctx, in, "Please provide feedback to improve the intent"); err != nil {
			return err
		}
		s.showIntent(in)
	}

	sql, err := s.generator.Generate(ctx, in)
	if err != nil {
		return err
	}
	s.showSQL(sql)

	validation := s.generator.Validate(ctx, sql)
	if !validation.Valid {
		s.showValidation(validation)
		regenerate, err := s.confirm("Do you want to regenerate the SQL?", false)
		if err != nil {
			return err
		}
		if regenerate {
			if in, err = s.refine(ctx, in, "Please provide feedback for regeneration"); err != nil {
				return err
			}
			if sql, err = s.generator.Generate(ctx, in); err != nil {
				return err
			}
			s.showSQL(sql)
		}
	}

	if err := s.offerScript(ctx, sql, in); err != nil {
		return err
	}
	s.history = append(s.history, Entry{Prompt: prompt, Intent: in, SQL: sql})
	return nil
}

func (s *Session) refine(ctx context.Context, in intent.Intent, question string) (intent.Intent, error) {
	feedback, err := s.ask(s.styles.title.Render(question) + ": ")
	if err != nil {
		return in, err
	}
	return s.translator.Refine(ctx, in, feedback)
}

func (s *Session) offerScript(ctx context.Context, sql string, in intent.Intent) error {
	want, err := s.confirm("Do you want to generate a deployment script?", false)
	if err != nil || !want {
		return err
	}
	deployment, err := s.builder.CreateScript(ctx, sql, in)
	if err != nil {
		return err
	}
	s.panel("Deployment Script", lipgloss.Color("13"), deployment.Text)
	if deployment.ArchiveKey != "" {
		s.printf("%s\n", s.styles.ok.Render("Archived as "+deployment.ArchiveKey))
	}

	save, err := s.confirm("Do you want to save this script to a file?", false)
	if err != nil || !save {
		return err
	}
	name := deploy.DefaultFilename(in)
	answer, err := s.ask(fmt.Sprintf("%s (%s): ", s.styles.title.Render("Enter filename"), name))
	if err != nil {
		return err
	}
	if answer != "" {
		name = answer
	}
	if err := s.writeFile(name, []byte(deployment.Text)); err != nil {
		return fmt.Errorf("save script: %w", err)
	}
	s.printf("%s\n", s.styles.ok.Render("Script saved to "+name))
	return nil
}

func (s *Session) showIntent(in intent.Intent) {
	encoded, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		encoded = []byte(err.Error())
	}
	s.panel("Structured Intent", lipgloss.Color("14"), string(encoded))
}

func (s *Session) showSQL(sql string) {
	s.panel("Generated SQL", lipgloss.Color("10"), sql)
}

func (s *Session) showValidation(v sqlgen.Validation) {
	var b strings.Builder
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.styles.title.Render(title))
		for _, item := range items {
			b.WriteString("\n- " + item)
		}
	}
	section("Errors:", v.Errors)
	section("Warnings:", v.Warnings)
	section("Suggestions:", v.Suggestions)
	s.panel("Validation Results", lipgloss.Color("9"), b.String())
}

func (s *Session) showHistory() {
	if len(s.history) == 0 {
		s.printf("%s\n", s.styles.notice.Render("No history yet."))
		return
	}
	lines := make([]string, 0, len(s.history))
	for i, entry := range s.history {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, entry.Prompt))
	}
	s.panel("History", lipgloss.Color("11"), strings.Join(lines, "\n"))
}

func (s *Session) help() {
	s.panel("Help", lipgloss.Color("10"), "Available commands:\n\n"+
		"help or h or ? - Show this help message\n"+
		"exit or quit or q - Exit the application\n"+
		"history or hist - Show command history\n\n"+
		"For any other input, I'll try to convert it to SQL!")
}

func (s *Session) goodbye() {
	s.panel("Goodbye", lipgloss.Color("12"), "Thank you for using SQL-GPT!\n\nHave a great day!")
}

func (s *Session) panel(title string, border lipgloss.Color, body string) {
	content := s.styles.title.Render(title) + "\n" + body
	s.printf("%s\n", s.styles.panel.BorderForeground(border).Render(content))
}

// confirm accepts y/yes and n/no; an empty answer takes def.
func (s *Session) confirm(question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	for {
		answer, err := s.ask(fmt.Sprintf("%s %s: ", question, hint))
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		s.printf("%s\n", s.styles.notice.Render("Please enter y or n"))
	}
}

func (s *Session) ask(prompt string) (string, error) {
	s.printf("%s", prompt)
	line, err := s.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *Session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}
