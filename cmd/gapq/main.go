package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/gapq/internal/config"
	"github.com/fentz26/gapq/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "gapq",
	Short: "gapq - knowledge base gap scanner and work queue",
	Long: `gapq scans a YAML knowledge base for missing definitions and fields, and keeps
the problems it finds in a leased work queue that any number of worker processes
can consume.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") || c.Log.Level == "" {
			c.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") || c.Log.Format == "" {
			c.Log.Format = logFormat
		}
		if _, ok := c.Namespaces[namespace]; !ok && namespace != config.NamespaceGaps && namespace != config.NamespaceDedupe {
			return fmt.Errorf("unknown namespace %q", namespace)
		}
		cfg = c

		logger := logging.New(c.Log.Level, c.Log.Format, os.Stderr)
		cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
		return nil
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	namespace  string
	logLevel   string
	logFormat  string

	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the gapq config file")
	rootCmd.PersistentFlags().StringVar(&namespace, "ns", config.NamespaceGaps, "Queue namespace (gaps or dedupe)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text or json)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
