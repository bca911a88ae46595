package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fentz26/gapq/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestQueueSaveLoad(t *testing.T) {
	s := newTestStore(t)
	q := s.Queue()

	items, err := q.Load()
	if err != nil {
		t.Fatalf("Load on empty table failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("Expected empty queue, got %d items", len(items))
	}

	// Ids are deliberately out of alphabetical order to check insertion order survives.
	saved := []models.GapItem{
		{ID: "no_recipe:zeta", GapType: models.GapNoRecipe, ItemID: "zeta", Kind: models.KindPart, Status: models.StatusPending},
		{ID: "missing_field:alpha:bom", GapType: models.GapMissingField, ItemID: "alpha", Kind: models.KindMachine,
			Status: models.StatusLeased, LeaseID: "w1", LeaseExpiresAt: 99,
			Context: &models.MissingFieldContext{Field: "bom"}},
	}
	if err := q.Save(saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	items, err = q.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].ID != "no_recipe:zeta" || items[1].ID != "missing_field:alpha:bom" {
		t.Errorf("Order not preserved: %s, %s", items[0].ID, items[1].ID)
	}
	if items[1].LeaseID != "w1" || items[1].LeaseExpiresAt != 99 {
		t.Errorf("Lease fields lost: %+v", items[1])
	}
	ctx, ok := items[1].Context.(*models.MissingFieldContext)
	if !ok || ctx.Field != "bom" {
		t.Errorf("Context not decoded: %#v", items[1].Context)
	}

	// A second save replaces the whole table.
	if err := q.Save(saved[:1]); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	items, err = q.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 item after rewrite, got %d", len(items))
	}
}

func TestWriteAndTailPDR(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		if _, err := s.WritePDR("gaps", "queue.lease", "hash", "success", fmt.Sprintf("no_recipe:%d", i), ""); err != nil {
			t.Fatalf("WritePDR failed: %v", err)
		}
	}
	if _, err := s.WritePDR("dedupe", "queue.gc", "hash", "success", "", "deleted=0"); err != nil {
		t.Fatalf("WritePDR failed: %v", err)
	}

	entries, err := s.TailPDR("gaps", 3)
	if err != nil {
		t.Fatalf("TailPDR failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].GapID != "no_recipe:2" || entries[2].GapID != "no_recipe:4" {
		t.Errorf("Expected oldest-first tail of the last three, got %s..%s", entries[0].GapID, entries[2].GapID)
	}

	all, err := s.TailPDR("", 100)
	if err != nil {
		t.Fatalf("TailPDR failed: %v", err)
	}
	if len(all) != 6 {
		t.Errorf("Expected 6 entries across namespaces, got %d", len(all))
	}
	if last := all[len(all)-1]; last.Namespace != "dedupe" || last.Details != "deleted=0" {
		t.Errorf("Unexpected last entry: %+v", last)
	}
}
