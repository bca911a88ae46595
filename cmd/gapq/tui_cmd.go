package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fentz26/gapq/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse the queue interactively",
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	app := tui.New(h.manager, namespace)
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
