package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thesisflow/thesisflow/internal/migrate"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back SQL migrations",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(migrate.Up), string(migrate.Down)},
	RunE:      runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "Directory holding *.up.sql and *.down.sql files")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	e, err := connect(ctx, false)
	if err != nil {
		return err
	}
	defer e.Close()

	applied, err := migrate.Run(ctx, e.repo.Pool(), migrationsDir, migrate.Direction(args[0]))
	for _, name := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d migration(s) %s\n", len(applied), args[0])
	return nil
}
