package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-todo-pipeline/pkg/di"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the store schema and exit",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Store.AutoMigrate = false

	container, err := di.NewContainer(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	if err := container.Migrate(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", cfg.Store.Driver)
	return nil
}
