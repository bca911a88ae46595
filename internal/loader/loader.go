// Package loader reads knowledge base records from a directory of YAML files.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/gapq/internal/logging"
	"github.com/fentz26/gapq/internal/models"
)

var (
	ErrUnknownKind = errors.New("unknown entity kind")
	ErrMissingID   = errors.New("record has no id")
	ErrNotARecord  = errors.New("document is not a record mapping")
)

// Loader walks a KB root and turns every YAML record into a models.Record.
type Loader struct {
	root     string
	kindDirs map[string]models.EntityKind
	workers  int
}

// New creates a loader for root. kindDirs maps a directory name to the kind
// of the records below it; an explicit kind field always wins.
func New(root string, kindDirs map[string]models.EntityKind) *Loader {
	return &Loader{root: root, kindDirs: kindDirs, workers: runtime.NumCPU()}
}

// Load parses every *.yaml and *.yml file below the root in parallel.
// Malformed documents and records without a usable id or kind are logged and
// skipped. Records come back in file path order, then document order.
func (l *Loader) Load(ctx context.Context) ([]models.Record, error) {
	logger := logging.FromContext(ctx)

	paths, err := l.files()
	if err != nil {
		return nil, err
	}

	results := make([][]models.Record, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			recs, err := l.parseFile(gctx, path)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var records []models.Record
	for _, recs := range results {
		records = append(records, recs...)
	}
	logger.Info("Knowledge base loaded.", "root", l.root, "files", len(paths), "records", len(records))
	return records, nil
}

func (l *Loader) files() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", l.root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (l *Loader) parseFile(ctx context.Context, path string) ([]models.Record, error) {
	logger := logging.FromContext(ctx)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var docs []map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn("Malformed YAML, rest of file skipped.", "path", path, "error", err)
			break
		}
		switch v := doc.(type) {
		case nil:
		case map[string]any:
			docs = append(docs, v)
		case []any:
			for idx, elem := range v {
				m, ok := elem.(map[string]any)
				if !ok {
					logger.Warn("List element skipped.", "path", path, "index", idx, "error", ErrNotARecord)
					continue
				}
				docs = append(docs, m)
			}
		default:
			logger.Warn("Document skipped.", "path", path, "error", ErrNotARecord)
		}
	}

	records := make([]models.Record, 0, len(docs))
	for _, fields := range docs {
		rec, err := l.toRecord(path, fields)
		if err != nil {
			logger.Warn("Record skipped.", "path", path, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *Loader) toRecord(path string, fields map[string]any) (models.Record, error) {
	id, _ := fields["id"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Record{}, ErrMissingID
	}

	kind, err := l.kindOf(path, fields)
	if err != nil {
		return models.Record{}, fmt.Errorf("%s: %w", id, err)
	}
	return models.Record{ID: id, Kind: kind, Fields: fields, Location: filepath.ToSlash(path)}, nil
}

// kindOf reads the kind field, else the nearest mapped directory above path.
func (l *Loader) kindOf(path string, fields map[string]any) (models.EntityKind, error) {
	if raw, ok := fields["kind"]; ok {
		s, _ := raw.(string)
		kind, known := models.ParseKind(s)
		if !known {
			return "", fmt.Errorf("%w %v", ErrUnknownKind, raw)
		}
		return kind, nil
	}

	rel, err := filepath.Rel(l.root, filepath.Dir(path))
	if err != nil {
		rel = filepath.Dir(path)
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if kind, ok := l.kindDirs[segments[i]]; ok {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: no kind field and no mapped directory", ErrUnknownKind)
}
