package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fentz26/gapq/internal/controlplane"
	"github.com/fentz26/gapq/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the queue namespace over HTTP",
	RunE:  runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:7466", "Listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := controlplane.NewServer(h.manager, namespace, defaultTTL(cfg), logging.FromContext(ctx))
	return srv.Serve(ctx, serveAddr)
}
