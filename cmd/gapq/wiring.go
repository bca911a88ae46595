package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/gapq/internal/audit"
	"github.com/fentz26/gapq/internal/config"
	"github.com/fentz26/gapq/internal/gaps"
	"github.com/fentz26/gapq/internal/loader"
	"github.com/fentz26/gapq/internal/models"
	"github.com/fentz26/gapq/internal/pipeline"
	"github.com/fentz26/gapq/internal/queue"
	"github.com/fentz26/gapq/internal/store"
)

// queueHandle is an opened namespace plus whatever must be closed after use.
type queueHandle struct {
	manager *queue.Manager
	closers []func() error
}

func (h *queueHandle) Close() {
	for _, c := range h.closers {
		c()
	}
}

// openQueue opens the configured backend and audit trail for one namespace.
func openQueue(c *config.Config, ns string) (*queueHandle, error) {
	queuePath, lockPath := c.Paths(ns)
	h := &queueHandle{}

	var st queue.Store
	switch c.Backend {
	case config.BackendSQLite:
		db, err := store.New(queuePath)
		if err != nil {
			return nil, fmt.Errorf("open queue database: %w", err)
		}
		h.closers = append(h.closers, db.Close)
		st = db.Queue()
	default:
		st = queue.NewJSONLStore(queuePath)
	}

	opts := []queue.Option{queue.WithRetention(retentionPolicy(c.Retention))}
	if c.AuditDB != "" {
		db, err := store.New(c.AuditDB)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		h.closers = append(h.closers, db.Close)
		opts = append(opts, queue.WithRecorder(audit.NewPDRWriter(db, ns)))
	}

	h.manager = queue.NewManager(st, lockPath, opts...)
	return h, nil
}

func retentionPolicy(rc config.RetentionConfig) queue.RetentionPolicy {
	p := queue.RetentionPolicy{
		GapTypes:          map[models.GapType]bool{},
		KeepOperatorAdded: rc.KeepOperatorAdded,
		KeepDone:          rc.KeepDone,
		KeepLeased:        rc.KeepLeased,
	}
	for _, t := range rc.GapTypes {
		p.GapTypes[models.GapType(t)] = true
	}
	return p
}

// errDetectorNamespace is returned when indexing or verification targets a
// namespace the gap detector does not feed.
var errDetectorNamespace = errors.New("the gap detector only feeds the " + config.NamespaceGaps + " namespace")

// newPipeline binds the built-in detector to the gaps namespace. Other
// namespaces hold operator-added entries only.
func newPipeline(c *config.Config, ns string, mgr *queue.Manager, filter *config.Filter) (*pipeline.Pipeline, error) {
	if ns != config.NamespaceGaps {
		return nil, fmt.Errorf("%w, not %q", errDetectorNamespace, ns)
	}
	src := loader.New(c.KBRoot, c.KindMapping())
	return pipeline.New(src, gaps.NewDefaultDetector(), filter, mgr), nil
}

func defaultTTL(c *config.Config) time.Duration {
	return time.Duration(c.DefaultTTLSec) * time.Second
}
