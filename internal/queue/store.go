package queue

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/fentz26/gapq/internal/models"
)

// Store persists the whole queue. Callers hold the queue lock around every
// Load/Save pair, so implementations need no locking of their own.
type Store interface {
	Load() ([]models.GapItem, error)
	Save([]models.GapItem) error
}

// JSONLStore keeps the queue as one JSON object per line.
type JSONLStore struct {
	path string
}

// NewJSONLStore creates a store backed by the file at path.
func NewJSONLStore(path string) *JSONLStore {
	return &JSONLStore{path: path}
}

// Path returns the queue data file.
func (s *JSONLStore) Path() string {
	return s.path
}

// Load reads every entry. A missing file is an empty queue.
func (s *JSONLStore) Load() ([]models.GapItem, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open queue: %w", err)
	}
	defer f.Close()

	var items []models.GapItem
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var item models.GapItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("queue %s line %d: %w", s.path, line, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	return items, nil
}

// Save rewrites the whole file through an atomic rename.
func (s *JSONLStore) Save(items []models.GapItem) error {
	var buf bytes.Buffer
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode %s: %w", item.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create queue directory: %w", err)
	}
	if err := atomic.WriteFile(s.path, &buf); err != nil {
		return fmt.Errorf("write queue: %w", err)
	}
	return nil
}
