package sqlgpt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sqlgpt/sqlgpt/internal/api"
	"github.com/sqlgpt/sqlgpt/internal/api/uistatic"
	"github.com/sqlgpt/sqlgpt/internal/auth"
	"github.com/sqlgpt/sqlgpt/internal/browser"
	"github.com/sqlgpt/sqlgpt/internal/config"
	"github.com/sqlgpt/sqlgpt/internal/executor"
	"github.com/sqlgpt/sqlgpt/internal/observability"
	"github.com/sqlgpt/sqlgpt/internal/pipeline"
	"github.com/sqlgpt/sqlgpt/internal/storage"
)

const shutdownTimeout = 10 * time.Second

type ServerDeps struct {
	Logger     *slog.Logger
	DB         *sql.DB
	Translator interface {
		pipeline.Translator
		api.Refiner
	}
	Generator pipeline.Generator
	Builder   pipeline.ScriptBuilder
	Archive   storage.ObjectStore
}

// Server is the web interface: the JSON API plus the embedded UI.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	http   *http.Server
}

func NewServer(cfg config.Config, deps ServerDeps) (*Server, error) {
	logger := observability.OrDiscard(deps.Logger)
	exec := executor.New(deps.DB, logger)

	browserOpts := []browser.Option{browser.WithLimits(cfg.Browser)}
	if deps.Archive != nil {
		browserOpts = append(browserOpts, browser.WithArchive(deps.Archive))
	}
	var storePinger interface{ Ping(context.Context) error }
	if p, ok := deps.Archive.(interface{ Ping(context.Context) error }); ok {
		storePinger = p
	}

	handlerDeps := api.Dependencies{
		Logger:            logger,
		DependencyTimeout: 2 * time.Second,
		Pipeline:          pipeline.New(deps.Translator, deps.Generator, deps.Builder, logger),
		Refiner:           deps.Translator,
		Executor:          exec,
		Browser:           browser.New(deps.DB, logger, browserOpts...),
		UI:                uistatic.Handler(),
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(exec),
			api.CheckObjectStore(cfg, storePinger),
		),
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			return nil, fmt.Errorf("parse static auth keys: %w", err)
		}
		handlerDeps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Addr:         cfg.HTTP.Address,
			Handler:      api.NewHandler(cfg, handlerDeps),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		},
	}, nil
}

func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Addr() string { return s.http.Addr }

// Run listens on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting web interface", slog.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("web interface failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down web interface")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		_ = s.http.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
