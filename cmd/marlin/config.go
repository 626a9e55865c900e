package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marlin-odm/marlin/internal/odm/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long:  "Resolve marlin.yml, defaults and MARLIN_ environment overrides and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		fmt.Printf("database.uri:       %s\n", cfg.Database.URI)
		fmt.Printf("database.name:      %s\n", cfg.Database.Name)
		fmt.Printf("database.timeout:   %s\n", cfg.Database.Timeout)
		fmt.Printf("indexes.background: %t\n", cfg.Indexes.Background)
		return nil
	},
}
