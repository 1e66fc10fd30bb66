package cmd

import (
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"webrtc-rendezvous/internal/app/directory/migrations"
	"webrtc-rendezvous/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <command> [args]",
	Short: "Run directory database migrations (goose commands: up, down, status, ...)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("empty args: needed at least one arg")
		}

		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}

		goose.SetBaseFS(migrations.FS)

		db, err := goose.OpenDBWithDriver("pgx", cfg.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("goose: failed to open DB: %w", err)
		}
		defer db.Close()

		if err := goose.RunContext(cmd.Context(), args[0], db, ".", args[1:]...); err != nil {
			return fmt.Errorf("goose %s: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
