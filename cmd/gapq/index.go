package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/gapq/internal/config"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the knowledge base and reconcile the gap queue",
	RunE:  runIndex,
}

var indexJSON bool

func init() {
	indexCmd.Flags().BoolVar(&indexJSON, "json", false, "Print the pass summary as JSON")
}

func runIndex(cmd *cobra.Command, args []string) error {
	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := cmd.Context()
	p, err := newPipeline(cfg, namespace, h.manager, config.LoadFilter(ctx, cfg.FilterFile))
	if err != nil {
		return err
	}
	res, err := p.Index(ctx)
	if err != nil {
		return err
	}

	if indexJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("Records: %d  Entities: %d\n", res.Records, res.Entities)
	fmt.Printf("Detected: %d  Filtered: %d  Queued: %d\n", res.Filter.Detected, res.Filter.Filtered, res.Filter.Queued)
	r := res.Reconcile
	fmt.Printf("Queue: %d added, %d kept, %d revived, %d retained, %d dropped, %d expired leases reclaimed\n",
		r.Added, r.Kept, r.Revived, r.Retained, r.Dropped, r.Demoted)
	return nil
}
