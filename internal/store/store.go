// Package store provides SQLite-backed persistence for gapq: an alternative
// queue backend and the decision record table.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fentz26/gapq/internal/models"
)

// Store provides access to a gapq SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue_items (
		seq INTEGER NOT NULL,
		id TEXT PRIMARY KEY,
		gap_type TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		gap_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_items_seq ON queue_items(seq);
	CREATE INDEX IF NOT EXISTS idx_pdr_namespace ON pdr(namespace);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Queue Operations ---

// Queue is the queue_items table seen as a whole-queue store.
type Queue struct {
	db *sql.DB
}

// Queue returns the queue view of this database.
func (s *Store) Queue() *Queue {
	return &Queue{db: s.db}
}

// Load returns every entry in insertion order.
func (q *Queue) Load() ([]models.GapItem, error) {
	rows, err := q.db.Query(`SELECT payload FROM queue_items ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var items []models.GapItem
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		var item models.GapItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("decode queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Save replaces the table contents in a single transaction.
func (q *Queue) Save(items []models.GapItem) error {
	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM queue_items`); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO queue_items (seq, id, gap_type, status, payload) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode %s: %w", item.ID, err)
		}
		if _, err := stmt.Exec(i, item.ID, string(item.GapType), string(item.Status), string(payload)); err != nil {
			return fmt.Errorf("insert %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(namespace, action, inputsHash, outcome, gapID, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Namespace:  namespace,
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		GapID:      gapID,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, namespace, action, inputs_hash, outcome, gap_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Namespace, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.GapID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// TailPDR returns the most recent limit records, oldest first. An empty
// namespace matches every namespace.
func (s *Store) TailPDR(namespace string, limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, namespace, action, inputs_hash, outcome, gap_id, details, timestamp
		 FROM pdr WHERE (? = '' OR namespace = ?)
		 ORDER BY rowid DESC LIMIT ?`,
		namespace, namespace, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var gapID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Namespace, &e.Action, &e.InputsHash, &e.Outcome, &gapID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.GapID = gapID.String
		e.Details = details.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
