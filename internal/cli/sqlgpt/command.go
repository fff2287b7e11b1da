// Package sqlgpt implements the sqlgpt command line: one-shot generation,
// the interactive shell, the web server and the migration runner.
package sqlgpt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sqlgpt/sqlgpt/internal/api"
	"github.com/sqlgpt/sqlgpt/internal/cli/shell"
	"github.com/sqlgpt/sqlgpt/internal/config"
	"github.com/sqlgpt/sqlgpt/internal/deploy"
	"github.com/sqlgpt/sqlgpt/internal/executor"
	"github.com/sqlgpt/sqlgpt/internal/intent"
	"github.com/sqlgpt/sqlgpt/internal/llm"
	"github.com/sqlgpt/sqlgpt/internal/observability"
	"github.com/sqlgpt/sqlgpt/internal/pipeline"
	"github.com/sqlgpt/sqlgpt/internal/sqlgen"
	"github.com/sqlgpt/sqlgpt/internal/storage"
	s3store "github.com/sqlgpt/sqlgpt/internal/storage/s3"
)

const (
	FormatSQL  = "sql"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Options carries the process surroundings; zero values fall back to the
// real process.
type Options struct {
	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
	Lookup       config.LookupFunc
	NewCompleter func(cfg config.Config, logger *slog.Logger) (llm.Completer, error)
	OpenDB       func(cfg config.Config) (*sql.DB, error)
	WriteFile    func(name string, data []byte) error
	Serve        func(ctx context.Context, srv *Server) error
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error { return &exitError{code: code, err: err} }

type flags struct {
	interactive  bool
	web          bool
	host         string
	port         int
	deploy       bool
	output       string
	dbConnection string
	verbose      bool
	format       string
}

type app struct {
	opts  Options
	flags flags
	red   *color.Color
	green *color.Color
	cyan  *color.Color
}

// Run executes the command line and returns the process exit code.
func Run(ctx context.Context, args []string, opts Options) int {
	cmd := NewCommand(opts)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	return 2
}

func NewCommand(opts Options) *cobra.Command {
	a := &app{
		opts:  withDefaults(opts),
		red:   color.New(color.FgRed, color.Bold),
		green: color.New(color.FgGreen),
		cyan:  color.New(color.FgCyan, color.Bold),
	}

	root := &cobra.Command{
		Use:           "sqlgpt [prompt]",
		Short:         "Generate PostgreSQL from natural language",
		Long:          "SQL-GPT: Natural Language to PostgreSQL Query Generator",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.runRoot,
	}
	root.SetIn(a.opts.Stdin)
	root.SetOut(a.opts.Stdout)
	root.SetErr(a.opts.Stderr)

	f := root.Flags()
	f.BoolVarP(&a.flags.interactive, "interactive", "i", false, "Start interactive mode")
	f.BoolVarP(&a.flags.web, "web", "w", false, "Start web interface")
	f.StringVar(&a.flags.host, "host", "0.0.0.0", "Host for web interface")
	f.IntVar(&a.flags.port, "port", 5000, "Port for web interface")
	f.BoolVarP(&a.flags.deploy, "deploy", "d", false, "Generate deployment script")
	f.StringVarP(&a.flags.output, "output", "o", "", "Output file for SQL or deployment script")
	f.StringVar(&a.flags.format, "format", FormatSQL, "Also print the structured intent: sql (no), yaml or json")
	root.PersistentFlags().StringVar(&a.flags.dbConnection, "db-connection", "", "Database connection string")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(a.migrateCommand())
	return root
}

func withDefaults(opts Options) Options {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.NewCompleter == nil {
		opts.NewCompleter = NewCompleter
	}
	if opts.OpenDB == nil {
		opts.OpenDB = func(cfg config.Config) (*sql.DB, error) {
			return executor.Dial(executor.ConfigFrom(cfg.Database))
		}
	}
	if opts.WriteFile == nil {
		opts.WriteFile = func(name string, data []byte) error { return os.WriteFile(name, data, 0o644) }
	}
	if opts.Serve == nil {
		opts.Serve = func(ctx context.Context, srv *Server) error { return srv.Run(ctx) }
	}
	return opts
}

// NewCompleter builds the configured language model client.
func NewCompleter(cfg config.Config, logger *slog.Logger) (llm.Completer, error) {
	return llm.New(llm.Config{
		Provider:        cfg.AI.Provider,
		BaseURL:         cfg.AI.BaseURL,
		APIKey:          cfg.APIKey(),
		Model:           cfg.AI.Model,
		Temperature:     cfg.AI.Temperature,
		MaxTokens:       cfg.AI.MaxTokens,
		Timeout:         cfg.AI.Timeout,
		MaxRetries:      cfg.AI.MaxRetries,
		InitialInterval: cfg.AI.InitialInterval,
	}, logger)
}

func (a *app) loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load("sqlgpt", a.opts.Lookup)
	if err != nil {
		return config.Config{}, nil, exitWith(1, a.fail(err))
	}
	if a.flags.dbConnection != "" {
		cfg.Database.DSN = a.flags.dbConnection
	}
	if a.flags.verbose {
		cfg.Observability.LogLevel = slog.LevelDebug
	}
	return cfg, observability.NewLogger(cfg, a.opts.Stderr), nil
}

func (a *app) runRoot(cmd *cobra.Command, args []string) error {
	prompt := ""
	if len(args) == 1 {
		prompt = strings.TrimSpace(args[0])
	}
	if prompt == "" && !a.flags.interactive && !a.flags.web {
		return cmd.Help()
	}
	switch a.flags.format {
	case FormatSQL, FormatYAML, FormatJSON:
	default:
		return exitWith(2, a.fail(fmt.Errorf("unknown format %q", a.flags.format)))
	}

	cfg, logger, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return exitWith(1, a.fail(errors.New(api.MissingKeyMessage(cfg.AI.Provider))))
	}
	if cmd.Flags().Changed("host") || cmd.Flags().Changed("port") {
		cfg.HTTP.Address = fmt.Sprintf("%s:%d", a.flags.host, a.flags.port)
	}

	completer, err := a.opts.NewCompleter(cfg, logger)
	if err != nil {
		return exitWith(1, a.fail(err))
	}
	ctx := cmd.Context()

	var archive storage.ObjectStore
	if cfg.Archive.Enabled {
		store, err := s3store.New(ctx, s3store.FromConfig(cfg.ObjectStore))
		if err != nil {
			return exitWith(1, a.fail(fmt.Errorf("initialize object store: %w", err)))
		}
		archive = store
	}

	translator := intent.NewTranslator(completer, logger)
	generator := sqlgen.NewGenerator(completer, logger)
	builderOpts := []deploy.Option{}
	if archive != nil {
		builderOpts = append(builderOpts, deploy.WithArchive(archive))
	}
	builder := deploy.NewBuilder(completer, logger, builderOpts...)

	switch {
	case a.flags.interactive:
		session := shell.New(translator, generator, builder, shell.Options{
			In:        a.opts.Stdin,
			Out:       a.opts.Stdout,
			Logger:    logger,
			WriteFile: a.opts.WriteFile,
		})
		if err := session.Run(ctx); err != nil {
			return exitWith(1, a.fail(err))
		}
		return nil
	case a.flags.web:
		db, err := a.opts.OpenDB(cfg)
		if err != nil {
			return exitWith(1, a.fail(err))
		}
		defer func() { _ = db.Close() }()
		srv, err := NewServer(cfg, ServerDeps{
			Logger:     logger,
			DB:         db,
			Translator: translator,
			Generator:  generator,
			Builder:    builder,
			Archive:    archive,
		})
		if err != nil {
			return exitWith(1, a.fail(err))
		}
		if err := a.opts.Serve(ctx, srv); err != nil {
			return exitWith(1, a.fail(err))
		}
		return nil
	}
	return a.oneShot(ctx, pipeline.New(translator, generator, builder, logger), builder, prompt)
}

func (a *app) oneShot(ctx context.Context, p *pipeline.Pipeline, builder pipeline.ScriptBuilder, prompt string) error {
	out := p.Generate(ctx, prompt)
	if out.Failed() {
		return exitWith(1, a.fail(out.Err))
	}
	if err := a.printIntent(out.Intent); err != nil {
		return exitWith(1, a.fail(err))
	}

	label, text, written := "Generated SQL", out.SQL, "SQL query written to %s"
	if a.flags.deploy {
		deployment, err := builder.CreateScript(ctx, out.SQL, out.Intent)
		if err != nil {
			return exitWith(1, a.fail(err))
		}
		label, text, written = "Deployment Script", deployment.Text, "Deployment script written to %s"
		if deployment.ArchiveKey != "" {
			_, _ = a.green.Fprintf(a.opts.Stderr, "Archived as %s\n", deployment.ArchiveKey)
		}
	}

	if a.flags.output != "" {
		if err := a.opts.WriteFile(a.flags.output, []byte(text)); err != nil {
			return exitWith(1, a.fail(err))
		}
		_, _ = a.green.Fprintf(a.opts.Stdout, written+"\n", a.flags.output)
		return nil
	}
	_, _ = a.cyan.Fprintf(a.opts.Stdout, "\n=== %s ===\n", label)
	_, _ = fmt.Fprintln(a.opts.Stdout, text)
	return nil
}

func (a *app) printIntent(in intent.Intent) error {
	var encoded []byte
	var err error
	switch a.flags.format {
	case FormatYAML:
		encoded, err = yaml.Marshal(in)
	case FormatJSON:
		encoded, err = json.MarshalIndent(in, "", "  ")
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	_, _ = a.cyan.Fprintln(a.opts.Stdout, "=== Structured Intent ===")
	_, _ = fmt.Fprintln(a.opts.Stdout, strings.TrimRight(string(encoded), "\n"))
	return nil
}

// fail prints err the way every command reports errors and returns it.
func (a *app) fail(err error) error {
	_, _ = a.red.Fprint(a.opts.Stderr, "Error: ")
	_, _ = fmt.Fprintln(a.opts.Stderr, err)
	return err
}
