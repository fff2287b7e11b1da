package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sqlgpt/sqlgpt/internal/cli/sqlgptctl"
	"github.com/sqlgpt/sqlgpt/internal/config"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(2)
	}
	opts, err := sqlgptctl.OptionsFromEnv(os.LookupEnv)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	opts.Stdout, opts.Stderr = os.Stdout, os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := sqlgptctl.Run(ctx, os.Args[1:], opts)
	stop()
	os.Exit(code)
}
