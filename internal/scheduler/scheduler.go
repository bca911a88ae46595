package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/gapq/internal/connectors"
	"github.com/fentz26/gapq/internal/logging"
	"github.com/fentz26/gapq/internal/models"
)

var (
	// ErrNoCommand is returned when no handler command is configured.
	ErrNoCommand = errors.New("no handler command configured")
	// ErrNoVerifier is returned when verification is on but nothing can verify.
	ErrNoVerifier = errors.New("verify is set but no verifier was given")
)

// Queue is the part of the lease manager the pool needs.
type Queue interface {
	Lease(ctx context.Context, worker string, ttl time.Duration, priority []models.GapType) (*models.GapItem, error)
	Complete(ctx context.Context, id, worker string) error
	Release(ctx context.Context, id, worker string) error
}

// Completer completes a gap only after a fresh pass no longer detects it.
type Completer interface {
	CompleteVerified(ctx context.Context, id, worker string) error
}

// Stats counts what the pool has done so far.
type Stats struct {
	Active    int `json:"active"`
	Leased    int `json:"leased"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Scheduler manages a pool of gap handlers.
type Scheduler struct {
	queue     Queue
	verifier  Completer
	connector connectors.Connector
	config    *Config
	ttl       time.Duration

	mu    sync.Mutex
	stats Stats
}

// New creates a new scheduler. verifier is only used when cfg.Verify is set.
func New(q Queue, verifier Completer, conn connectors.Connector, cfg *Config, ttl time.Duration) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		queue:     q,
		verifier:  verifier,
		connector: conn,
		config:    cfg,
		ttl:       ttl,
	}
}

// Run keeps every worker polling until ctx is cancelled. A failed gap is
// released straight away.
func (sch *Scheduler) Run(ctx context.Context) error {
	if err := sch.check(); err != nil {
		return err
	}
	return sch.runPool(ctx, func(ctx context.Context, worker string) error {
		for {
			done, err := sch.next(ctx, worker, nil)
			if err != nil {
				return err
			}
			if done {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(sch.config.PollInterval):
				}
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	})
}

// Drain handles pending gaps until none is left, then returns. Failed gaps
// stay leased until the pool is finished so no worker picks them up twice,
// and are released at the end.
func (sch *Scheduler) Drain(ctx context.Context) (Stats, error) {
	if err := sch.check(); err != nil {
		return Stats{}, err
	}

	var (
		mu     sync.Mutex
		failed []leasedGap
	)
	hold := func(l leasedGap) {
		mu.Lock()
		failed = append(failed, l)
		mu.Unlock()
	}

	err := sch.runPool(ctx, func(ctx context.Context, worker string) error {
		for {
			done, err := sch.next(ctx, worker, hold)
			if err != nil || done || ctx.Err() != nil {
				return err
			}
		}
	})

	logger := logging.FromContext(ctx)
	for _, l := range failed {
		if rerr := sch.queue.Release(context.WithoutCancel(ctx), l.id, l.worker); rerr != nil {
			logger.Warn("Failed to release gap.", "id", l.id, "worker", l.worker, "error", rerr)
		}
	}
	return sch.Stats(), err
}

type leasedGap struct {
	id     string
	worker string
}

func (sch *Scheduler) check() error {
	if sch.config.Command == "" {
		return ErrNoCommand
	}
	if sch.config.Verify && sch.verifier == nil {
		return ErrNoVerifier
	}
	if !sch.connector.IsAllowed(sch.config.Command) {
		return fmt.Errorf("handler %s is not in the %s allowlist", sch.config.Command, sch.connector.Name())
	}
	return nil
}

func (sch *Scheduler) runPool(ctx context.Context, loop func(ctx context.Context, worker string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < sch.config.workerCount(); i++ {
		worker := "worker-" + uuid.New().String()
		g.Go(func() error { return loop(gctx, worker) })
	}
	logging.FromContext(ctx).Info("Worker pool started.", "workers", sch.config.workerCount(), "connector", sch.connector.Name())
	err := g.Wait()
	logging.FromContext(ctx).Info("Worker pool stopped.")
	return err
}

func (sch *Scheduler) priority() []models.GapType {
	out := make([]models.GapType, 0, len(sch.config.Priority))
	for _, p := range sch.config.Priority {
		out = append(out, models.GapType(p))
	}
	return out
}

// next leases and handles one gap. It reports done when nothing was pending.
// hold, when set, keeps failed gaps leased instead of releasing them.
func (sch *Scheduler) next(ctx context.Context, worker string, hold func(leasedGap)) (bool, error) {
	item, err := sch.queue.Lease(ctx, worker, sch.ttl, sch.priority())
	if err != nil {
		return false, fmt.Errorf("lease: %w", err)
	}
	if item == nil {
		return true, nil
	}

	sch.mu.Lock()
	sch.stats.Active++
	sch.stats.Leased++
	sch.mu.Unlock()
	defer func() {
		sch.mu.Lock()
		sch.stats.Active--
		sch.mu.Unlock()
	}()

	logger := logging.FromContext(ctx).With("id", item.ID, "worker", worker)
	if err := sch.handle(ctx, worker, item); err != nil {
		sch.mu.Lock()
		sch.stats.Failed++
		sch.mu.Unlock()
		logger.Warn("Gap handling failed.", "error", err)

		if hold != nil {
			hold(leasedGap{id: item.ID, worker: worker})
			return false, nil
		}
		if rerr := sch.queue.Release(context.WithoutCancel(ctx), item.ID, worker); rerr != nil {
			logger.Warn("Failed to release gap.", "error", rerr)
		}
		return false, nil
	}

	sch.mu.Lock()
	sch.stats.Completed++
	sch.mu.Unlock()
	logger.Info("Gap handled.")
	return false, nil
}

// handle runs the handler for one gap, bounded by the lease TTL, then
// completes it.
func (sch *Scheduler) handle(ctx context.Context, worker string, item *models.GapItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode gap: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, sch.ttl)
	defer cancel()
	res, err := sch.connector.Execute(hctx, connectors.Request{
		Command: sch.config.Command,
		Args:    sch.config.Args,
		Stdin:   payload,
		Env: []string{
			"GAPQ_GAP_ID=" + item.ID,
			"GAPQ_GAP_TYPE=" + string(item.GapType),
			"GAPQ_ITEM_ID=" + item.ItemID,
			"GAPQ_WORKER=" + worker,
		},
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("handler exited with code %d: %s", res.ExitCode, res.Stderr)
	}

	if sch.config.Verify {
		return sch.verifier.CompleteVerified(ctx, item.ID, worker)
	}
	return sch.queue.Complete(ctx, item.ID, worker)
}

// Stats returns current pool statistics.
func (sch *Scheduler) Stats() Stats {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.stats
}
