package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fentz26/gapq/internal/config"
	"github.com/fentz26/gapq/internal/connectors/localexec"
	"github.com/fentz26/gapq/internal/scheduler"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run a pool of workers that hand leased gaps to a handler command",
	Long: `work leases gaps from the queue and runs the configured handler for each one.
The gap is written to the handler's stdin as JSON and its id, type, item and
worker are exported as GAPQ_GAP_ID, GAPQ_GAP_TYPE, GAPQ_ITEM_ID and GAPQ_WORKER.
A zero exit completes the gap; anything else releases it.`,
	RunE: runWork,
}

var (
	workWorkers int
	workDrain   bool
	workVerify  bool
	workCommand string
)

func init() {
	workCmd.Flags().IntVar(&workWorkers, "workers", 0, "Number of concurrent workers (default from config)")
	workCmd.Flags().BoolVar(&workDrain, "drain", false, "Exit once no pending gap is left")
	workCmd.Flags().BoolVar(&workVerify, "verify", false, "Only complete gaps a fresh index no longer detects")
	workCmd.Flags().StringVar(&workCommand, "command", "", "Handler command (default from config)")
}

func runWork(cmd *cobra.Command, args []string) error {
	wc := cfg.Worker
	if cmd.Flags().Changed("workers") {
		wc.Workers = workWorkers
	}
	if cmd.Flags().Changed("verify") {
		wc.Verify = workVerify
	}
	if workCommand != "" {
		wc.Command = workCommand
		if len(wc.AllowedCommands) == 0 {
			wc.AllowedCommands = []string{workCommand}
		}
	}

	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	var verifier scheduler.Completer
	if wc.Verify {
		p, err := newPipeline(cfg, namespace, h.manager, config.LoadFilter(cmd.Context(), cfg.FilterFile))
		if err != nil {
			return err
		}
		verifier = p
	}
	conn := localexec.New(wc.WorkDir, wc.AllowedCommands)
	sch := scheduler.New(h.manager, verifier, conn, &wc, defaultTTL(cfg))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if workDrain {
		stats, err := sch.Drain(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	return sch.Run(ctx)
}
