package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/segmentry/internal/app"
)

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recalculate all stored segments",
	Long:  `Resolve every stored segment against the current fact data and update cached sizes and member sets, without starting the server.`,
	RunE:  runRecalc,
}

func runRecalc(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	results, err := application.Segments().RecalculateAll(context.Background())
	if err != nil {
		return fmt.Errorf("recalculation failed: %w", err)
	}

	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
			fmt.Printf("  %-30s ERROR: %s\n", res.Name, res.Error)
			continue
		}
		fmt.Printf("  %-30s %d members\n", res.Name, res.Size)
	}

	fmt.Printf("Recalculated %d segments (%d failed)\n", len(results), failed)
	if failed > 0 {
		return fmt.Errorf("%d segments failed", failed)
	}
	return nil
}
