package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Freeeeeet/tutorbook/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Manage the database schema",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		action := "up"
		if len(args) == 1 {
			action = args[0]
		}

		ctx := cmd.Context()
		rt, err := loadRuntime(ctx, false)
		if err != nil {
			return err
		}
		defer rt.Close()

		migrator, err := app.NewMigrator(rt.pool, rt.cfg.MigrationsDir, rt.logger)
		if err != nil {
			return err
		}
		defer migrator.Close()

		switch action {
		case "up":
			return migrator.Up(ctx)
		case "down":
			return migrator.Down(ctx)
		case "version":
			version, err := migrator.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		default:
			return fmt.Errorf("unknown migrate action %q", action)
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
