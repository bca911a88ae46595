package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/gapq/internal/audit"
	"github.com/fentz26/gapq/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the decision record trail",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent decision records",
	RunE:  runAuditTail,
}

var (
	tailLimit int
	tailAllNS bool
)

func init() {
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 20, "Number of records to show")
	auditTailCmd.Flags().BoolVar(&tailAllNS, "all", false, "Include every namespace")
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	if cfg.AuditDB == "" {
		return fmt.Errorf("no audit_db configured")
	}
	db, err := store.New(cfg.AuditDB)
	if err != nil {
		return err
	}
	defer db.Close()

	ns := namespace
	if tailAllNS {
		ns = ""
	}
	entries, err := audit.NewPDRWriter(db, ns).Tail(tailLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No decision records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tNS\tACTION\tOUTCOME\tGAP\tDETAILS")
	for _, e := range entries {
		gap := e.GapID
		if gap == "" {
			gap = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Namespace, e.Action, e.Outcome, gap, e.Details)
	}
	return w.Flush()
}
