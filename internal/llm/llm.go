package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var ErrEmptyCompletion = errors.New("model returned an empty completion")

// Pipeline stages, used as metric and log labels.
const (
	StageIntent   = "intent"
	StageRefine   = "refine"
	StageSQL      = "sql"
	StageValidate = "validate"
	StageRollback = "rollback"
)

type Request struct {
	Stage  string
	System string
	User   string
	// JSON asks the provider for a JSON object reply when it supports it.
	JSON bool
}

// Completer sends one system+user exchange to a language model and returns
// the text of its reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type Config struct {
	Provider        string
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
}

// New builds the configured provider wrapped with retries and metrics.
func New(cfg Config, logger *slog.Logger) (Completer, error) {
	var provider Completer
	var err error
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		provider, err = NewOpenAI(cfg)
	case "anthropic":
		provider, err = NewAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return &Instrumented{
		Next: &Retrying{
			Next:            provider,
			MaxRetries:      cfg.MaxRetries,
			AttemptTimeout:  cfg.Timeout,
			InitialInterval: cfg.InitialInterval,
			Logger:          logger,
		},
		Logger: logger,
	}, nil
}

// StripCodeFence removes a surrounding markdown code fence such as ```sql.
func StripCodeFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 && !strings.ContainsAny(trimmed[:newline], " ;(") {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
