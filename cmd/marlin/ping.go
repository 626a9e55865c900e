package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marlin-odm/marlin"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify connectivity to the configured deployment",
	Long:  "Dial the configured MongoDB deployment, ping it, and report the round trip",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := marlin.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		start := time.Now()
		session, err := marlin.Connect(context.Background(), cfg)
		if err != nil {
			return err
		}
		defer session.Close(context.Background())

		fmt.Printf("ok: %s/%s (%s)\n", cfg.Database.URI, cfg.Database.Name, time.Since(start).Round(time.Millisecond))
		return nil
	},
}
