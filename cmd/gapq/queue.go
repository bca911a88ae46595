package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fentz26/gapq/internal/config"
	"github.com/fentz26/gapq/internal/models"
	"github.com/fentz26/gapq/internal/pipeline"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Lease, complete and inspect queued gaps",
}

var queueLeaseCmd = &cobra.Command{
	Use:   "lease",
	Short: "Lease the next pending gap",
	RunE:  runQueueLease,
}

var queueCompleteCmd = &cobra.Command{
	Use:   "complete",
	Short: "Mark a gap done",
	RunE:  runQueueComplete,
}

var queueReleaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Return a leased gap to pending",
	RunE:  runQueueRelease,
}

var queueGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim expired leases and prune old done gaps",
	RunE:  runQueueGC,
}

var queueLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Show the queue status histogram",
	RunE:  runQueueLs,
}

var queueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Insert gaps by hand",
	RunE:  runQueueAdd,
}

var queueGapTypesCmd = &cobra.Command{
	Use:   "gap-types",
	Short: "List known gap categories with usage counts",
	RunE:  runQueueGapTypes,
}

var (
	agentID     string
	gapID       string
	ttlSec      int
	priorityCSV string
	verify      bool
	pruneAfter  time.Duration
	lsJSON      bool
	lsItems     bool
	addGapType  string
	addItemID   string
	addKind     string
	addDesc     string
	addContext  string
	addFile     string
)

func init() {
	queueCmd.AddCommand(queueLeaseCmd, queueCompleteCmd, queueReleaseCmd, queueGCCmd, queueLsCmd, queueAddCmd, queueGapTypesCmd)

	hostname, _ := os.Hostname()
	defaultAgent := fmt.Sprintf("cli@%s", hostname)

	queueLeaseCmd.Flags().StringVar(&agentID, "agent", defaultAgent, "Worker id holding the lease")
	queueLeaseCmd.Flags().IntVar(&ttlSec, "ttl", 0, "Lease TTL in seconds (default from config)")
	queueLeaseCmd.Flags().StringVar(&priorityCSV, "priority", "", "Comma separated gap types, most urgent first (default worker.priority)")

	queueCompleteCmd.Flags().StringVar(&gapID, "id", "", "Gap id (required)")
	queueCompleteCmd.Flags().StringVar(&agentID, "agent", defaultAgent, "Worker id")
	queueCompleteCmd.Flags().BoolVar(&verify, "verify", false, "Re-run indexing first and refuse if the gap is still detected")
	queueCompleteCmd.MarkFlagRequired("id")

	queueReleaseCmd.Flags().StringVar(&gapID, "id", "", "Gap id (required)")
	queueReleaseCmd.Flags().StringVar(&agentID, "agent", defaultAgent, "Worker id")
	queueReleaseCmd.MarkFlagRequired("id")

	queueGCCmd.Flags().DurationVar(&pruneAfter, "prune-done-older-than", 0, "Delete done gaps completed longer ago than this (e.g. 24h)")

	queueLsCmd.Flags().BoolVar(&lsJSON, "json", false, "Print the histogram as JSON")
	queueLsCmd.Flags().BoolVar(&lsItems, "items", false, "List every entry instead of the histogram")

	queueAddCmd.Flags().StringVar(&addGapType, "gap-type", "", "Gap category")
	queueAddCmd.Flags().StringVar(&addItemID, "item-id", "", "Affected item id")
	queueAddCmd.Flags().StringVar(&addKind, "kind", string(models.KindUnknown), "Kind of the affected item")
	queueAddCmd.Flags().StringVar(&addDesc, "description", "", "Free-text description")
	queueAddCmd.Flags().StringVar(&addContext, "context", "", "Context as a JSON object")
	queueAddCmd.Flags().StringVar(&addFile, "file", "", "JSONL file of gaps to insert ('-' for stdin)")
}

func runQueueLease(cmd *cobra.Command, args []string) error {
	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	ttl := defaultTTL(cfg)
	if ttlSec > 0 {
		ttl = time.Duration(ttlSec) * time.Second
	}
	if priorityCSV == "" {
		priorityCSV = strings.Join(cfg.Worker.Priority, ",")
	}
	item, err := h.manager.Lease(cmd.Context(), agentID, ttl, parsePriority(priorityCSV))
	if err != nil {
		return err
	}
	if item == nil {
		fmt.Println("null")
		return nil
	}
	return json.NewEncoder(os.Stdout).Encode(item)
}

func runQueueComplete(cmd *cobra.Command, args []string) error {
	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := cmd.Context()
	if verify {
		var p *pipeline.Pipeline
		p, err = newPipeline(cfg, namespace, h.manager, config.LoadFilter(ctx, cfg.FilterFile))
		if err == nil {
			err = p.CompleteVerified(ctx, gapID, agentID)
		}
	} else {
		err = h.manager.Complete(ctx, gapID, agentID)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Completed %s\n", gapID)
	return nil
}

func runQueueRelease(cmd *cobra.Command, args []string) error {
	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.manager.Release(cmd.Context(), gapID, agentID); err != nil {
		return err
	}
	fmt.Printf("Released %s\n", gapID)
	return nil
}

func runQueueGC(cmd *cobra.Command, args []string) error {
	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	deleted, err := h.manager.GC(cmd.Context(), pruneAfter)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d done gaps\n", deleted)
	return nil
}

func runQueueLs(cmd *cobra.Command, args []string) error {
	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx := cmd.Context()
	if lsItems {
		items, err := h.manager.List(ctx)
		if err != nil {
			return err
		}
		if lsJSON {
			enc := json.NewEncoder(os.Stdout)
			for _, item := range items {
				if err := enc.Encode(item); err != nil {
					return err
				}
			}
			return nil
		}
		printItems(os.Stdout, items, time.Now())
		return nil
	}

	hist, err := h.manager.Histogram(ctx)
	if err != nil {
		return err
	}
	if lsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hist)
	}
	printHistogram(os.Stdout, hist.ByGapType)
	return nil
}

func printHistogram(out io.Writer, byType map[models.GapType]map[models.ItemStatus]int) {
	types := make([]models.GapType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GAP TYPE\tPENDING\tLEASED\tDONE\tTOTAL")
	var pending, leased, done int
	for _, t := range types {
		c := byType[t]
		p, l, d := c[models.StatusPending], c[models.StatusLeased], c[models.StatusDone]
		pending, leased, done = pending+p, leased+l, done+d
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", t, p, l, d, p+l+d)
	}
	fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t%d\n", pending, leased, done, pending+leased+done)
	w.Flush()
}

func printItems(out io.Writer, items []models.GapItem, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tHOLDER\tWHEN")
	for _, item := range items {
		when := "-"
		switch item.Status {
		case models.StatusLeased:
			when = "expires " + humanize.RelTime(time.Unix(item.LeaseExpiresAt, 0), now, "ago", "from now")
		case models.StatusDone:
			when = "done " + humanize.RelTime(time.Unix(item.CompletedAt, 0), now, "ago", "from now")
		}
		holder := item.LeaseID
		if holder == "" {
			holder = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.ID, item.Status, holder, when)
	}
	w.Flush()
}

func runQueueAdd(cmd *cobra.Command, args []string) error {
	var items []models.GapItem
	switch {
	case addFile != "":
		r := io.Reader(os.Stdin)
		if addFile != "-" {
			f, err := os.Open(addFile)
			if err != nil {
				return fmt.Errorf("open %s: %w", addFile, err)
			}
			defer f.Close()
			r = f
		}
		parsed, err := parseAddLines(r)
		if err != nil {
			return err
		}
		items = parsed
	case addGapType != "" && addItemID != "":
		item, err := addSpec{
			GapType:     addGapType,
			ItemID:      addItemID,
			Kind:        addKind,
			Description: addDesc,
			Context:     json.RawMessage(addContext),
		}.toItem()
		if err != nil {
			return err
		}
		items = []models.GapItem{item}
	default:
		return fmt.Errorf("either --file or both --gap-type and --item-id are required")
	}

	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	res, err := h.manager.Add(cmd.Context(), items)
	if err != nil {
		return err
	}
	for _, id := range res.Added {
		fmt.Printf("Added %s\n", id)
	}
	for _, id := range res.Skipped {
		fmt.Printf("Skipped %s (already queued)\n", id)
	}
	return nil
}

// addSpec is one manual insertion as given on the command line or in a file.
type addSpec struct {
	ID          string          `json:"id"`
	GapType     string          `json:"gap_type"`
	ItemID      string          `json:"item_id"`
	Kind        string          `json:"kind"`
	Reason      string          `json:"reason"`
	Description string          `json:"description"`
	Context     json.RawMessage `json:"context"`
}

func (s addSpec) toItem() (models.GapItem, error) {
	if s.GapType == "" {
		return models.GapItem{}, fmt.Errorf("gap_type is required")
	}
	gt := models.GapType(s.GapType)
	var raw []byte
	if len(bytes.TrimSpace(s.Context)) > 0 {
		raw = s.Context
	}
	ctx, err := models.DecodeContext(gt, raw)
	if err != nil {
		return models.GapItem{}, err
	}
	if s.Description != "" {
		if ff, ok := ctx.(models.FreeformContext); ok {
			ff["description"] = s.Description
		}
	}
	kind := models.EntityKind(s.Kind)
	if kind == "" {
		kind = models.KindUnknown
	}
	reason := s.Reason
	if reason == "" {
		reason = s.Description
	}
	return models.GapItem{
		ID:      s.ID,
		Kind:    kind,
		Reason:  reason,
		GapType: gt,
		ItemID:  s.ItemID,
		Context: ctx,
	}, nil
}

// parseAddLines reads one addSpec per non-blank line.
func parseAddLines(r io.Reader) ([]models.GapItem, error) {
	var items []models.GapItem
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var spec addSpec
		if err := json.Unmarshal([]byte(text), &spec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		item, err := spec.toItem()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, item)
	}
	return items, scanner.Err()
}

func runQueueGapTypes(cmd *cobra.Command, args []string) error {
	h, err := openQueue(cfg, namespace)
	if err != nil {
		return err
	}
	defer h.Close()

	types, err := h.manager.GapTypes(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GAP TYPE\tORIGIN\tCOUNT")
	for _, t := range types {
		origin := "operator"
		if t.Builtin {
			origin = "builtin"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", t.GapType, origin, t.Count)
	}
	return w.Flush()
}

// parsePriority splits a comma separated list of gap types, dropping blanks.
func parsePriority(csv string) []models.GapType {
	var out []models.GapType
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, models.GapType(part))
		}
	}
	return out
}
