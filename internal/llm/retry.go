package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sqlgpt/sqlgpt/internal/observability"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retrying retries transient failures of Next with exponential backoff. Each
// attempt gets its own timeout; cancellation of the caller's context stops
// the loop without another attempt.
type Retrying struct {
	Next            Completer
	MaxRetries      int
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	Logger          *slog.Logger
}

func (r *Retrying) Complete(ctx context.Context, req Request) (string, error) {
	logger := observability.OrDiscard(r.Logger)
	attemptTimeout := r.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 60 * time.Second
	}

	policy := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	policy.MaxElapsedTime = 0
	retries := r.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	var out string
	attempt := 0
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		if attempt > 1 {
			observability.IncrementLLMRetry(req.Stage)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()

		text, err := r.Next.Complete(attemptCtx, req)
		if err == nil {
			out = text
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "llm call failed, retrying",
			slog.String("stage", req.Stage),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return "", err
	}
	return out, nil
}
