// Package pipeline wires one indexing pass: load records, build the graph,
// detect gaps, filter them and reconcile the queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fentz26/gapq/internal/config"
	"github.com/fentz26/gapq/internal/gaps"
	"github.com/fentz26/gapq/internal/graph"
	"github.com/fentz26/gapq/internal/logging"
	"github.com/fentz26/gapq/internal/models"
	"github.com/fentz26/gapq/internal/queue"
)

// ErrStillDetected is returned when verified completion finds the gap again.
var ErrStillDetected = errors.New("gap is still detected")

// Source supplies the records of one pass.
type Source interface {
	Load(ctx context.Context) ([]models.Record, error)
}

// Pipeline runs indexing passes against one queue.
type Pipeline struct {
	source   Source
	detector *gaps.Detector
	filter   *config.Filter
	queue    *queue.Manager
}

// New creates a pipeline. A nil filter queues everything detected.
func New(source Source, detector *gaps.Detector, filter *config.Filter, mgr *queue.Manager) *Pipeline {
	return &Pipeline{source: source, detector: detector, filter: filter, queue: mgr}
}

// Result summarizes one pass.
type Result struct {
	Records   int                  `json:"records"`
	Entities  int                  `json:"entities"`
	Filter    config.FilterStats   `json:"filter"`
	Reconcile queue.ReconcileStats `json:"reconcile"`
	// Detected is the unfiltered detector output.
	Detected []models.GapItem `json:"-"`
}

// Index runs load, build, detect, filter and reconcile once.
func (p *Pipeline) Index(ctx context.Context) (*Result, error) {
	res, queued, err := p.detect(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.reconcile(ctx, res, queued); err != nil {
		return nil, err
	}
	return res, nil
}

// detect runs load, build, detect and filter without touching the queue.
func (p *Pipeline) detect(ctx context.Context) (*Result, []models.GapItem, error) {
	records, err := p.source.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load records: %w", err)
	}
	g := graph.Build(ctx, records)
	detected := p.detector.Detect(ctx, g)
	queued, fstats := p.filter.Apply(detected)
	logging.FromContext(ctx).Info("Gaps detected.", "detected", fstats.Detected, "filtered", fstats.Filtered, "queued", fstats.Queued)

	return &Result{
		Records:  len(records),
		Entities: len(g.Entities),
		Filter:   fstats,
		Detected: detected,
	}, queued, nil
}

func (p *Pipeline) reconcile(ctx context.Context, res *Result, queued []models.GapItem) error {
	rstats, err := p.queue.Reconcile(ctx, queued)
	if err != nil {
		return fmt.Errorf("reconcile queue: %w", err)
	}
	res.Reconcile = rstats
	return nil
}

func detectedID(items []models.GapItem, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// Verify reruns Index and reports whether id is still detected. The filter
// does not hide a gap from verification.
func (p *Pipeline) Verify(ctx context.Context, id string) (bool, *Result, error) {
	res, err := p.Index(ctx)
	if err != nil {
		return false, nil, err
	}
	return detectedID(res.Detected, id), res, nil
}

// CompleteVerified completes id for worker only when a fresh pass no longer
// detects it. On refusal the entry keeps its lease. The entry is completed
// before the pass is reconciled, so a lease that lapsed during the work does
// not let the reconcile drop a fixed gap first.
func (p *Pipeline) CompleteVerified(ctx context.Context, id, worker string) error {
	res, queued, err := p.detect(ctx)
	if err != nil {
		return err
	}
	if detectedID(res.Detected, id) {
		if err := p.reconcile(ctx, res, queued); err != nil {
			return err
		}
		logging.FromContext(ctx).Warn("Completion refused, gap still detected.", "id", id, "worker", worker)
		return fmt.Errorf("%w: %s", ErrStillDetected, id)
	}
	if err := p.queue.Complete(ctx, id, worker); err != nil {
		return err
	}
	return p.reconcile(ctx, res, queued)
}
