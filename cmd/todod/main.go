// Package main implements the todod server binary.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-todo-pipeline/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:          "todod",
	Short:        "Todo service with versioned updates, tag invalidated caching and change events",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file (defaults to $"+config.PathEnvVar+" or ./config.yaml)")
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}
