package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlgpt/sqlgpt/internal/cli/sqlgpt"
	"github.com/sqlgpt/sqlgpt/internal/config"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := sqlgpt.Run(ctx, os.Args[1:], sqlgpt.Options{})
	stop()
	os.Exit(code)
}
