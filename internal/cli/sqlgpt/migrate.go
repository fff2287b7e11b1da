package sqlgpt

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlgpt/sqlgpt/internal/migrations"
)

func (a *app) migrateCommand() *cobra.Command {
	var dir string
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back saved deployment scripts",
		Long:      "Apply (up) or roll back (down) the migration-layout scripts saved in a directory. Steps 0 applies all pending scripts on up and rolls back one on down.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := args[0]
			if direction != "up" && direction != "down" {
				return exitWith(2, a.fail(fmt.Errorf("unknown direction %q, want up or down", direction)))
			}
			cfg, logger, err := a.loadConfig()
			if err != nil {
				return err
			}
			db, err := a.opts.OpenDB(cfg)
			if err != nil {
				return exitWith(1, a.fail(err))
			}
			defer func() { _ = db.Close() }()

			runner := migrations.NewRunner(os.DirFS(dir))
			var count int
			if direction == "up" {
				count, err = runner.Up(cmd.Context(), db, steps)
			} else {
				count, err = runner.Down(cmd.Context(), db, steps)
			}
			if err != nil {
				return exitWith(1, a.fail(fmt.Errorf("migrate %s: %w", direction, err)))
			}
			logger.Info("migrations finished",
				slog.String("direction", direction),
				slog.Int("count", count),
				slog.String("dir", dir),
			)
			_, _ = a.green.Fprintf(a.opts.Stdout, "migrate %s: %d migration(s)\n", direction, count)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "Directory containing saved migration scripts")
	cmd.Flags().IntVar(&steps, "steps", 0, "Number of migrations to apply or roll back")
	return cmd
}
