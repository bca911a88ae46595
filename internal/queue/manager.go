// Package queue is the leased work queue of detected gaps. Every operation
// reads the full queue, mutates it in memory and rewrites it while holding an
// exclusive lock on a sentinel file, so concurrent processes see a
// serializable history.
package queue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fentz26/gapq/internal/logging"
	"github.com/fentz26/gapq/internal/models"
)

// Recorder receives a decision record for every state-mutating operation.
type Recorder interface {
	Record(action string, inputs any, outcome, gapID, details string) (*models.PDREntry, error)
}

// Manager runs queue operations against one queue/lock file pair.
type Manager struct {
	store     Store
	lockPath  string
	retention RetentionPolicy
	recorder  Recorder
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRecorder attaches an audit recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithRetention replaces the default retention table.
func WithRetention(p RetentionPolicy) Option {
	return func(m *Manager) { m.retention = p }
}

// NewManager creates a manager over store, serialized by the lock at lockPath.
func NewManager(store Store, lockPath string, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		lockPath:  lockPath,
		retention: DefaultRetention(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewFileManager creates a manager over a JSONL queue file.
func NewFileManager(queuePath, lockPath string, opts ...Option) *Manager {
	return NewManager(NewJSONLStore(queuePath), lockPath, opts...)
}

// update runs fn as one read-modify-write under the lock. The queue is only
// rewritten when fn reports a change.
func (m *Manager) update(fn func(items []models.GapItem, now int64) ([]models.GapItem, bool, error)) error {
	lock, err := AcquireLock(m.lockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	items, err := m.store.Load()
	if err != nil {
		return err
	}
	out, changed, err := fn(items, m.now().Unix())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return m.store.Save(out)
}

func (m *Manager) record(ctx context.Context, action string, inputs any, outcome, gapID, details string) {
	if m.recorder == nil {
		return
	}
	if _, err := m.recorder.Record(action, inputs, outcome, gapID, details); err != nil {
		logging.FromContext(ctx).Warn("Failed to write decision record.", "action", action, "error", err)
	}
}

// demoteExpired resets lapsed leases to pending and reports how many changed.
func demoteExpired(items []models.GapItem, now int64) int {
	n := 0
	for i := range items {
		if items[i].IsExpired(now) {
			items[i].ClearLease()
			n++
		}
	}
	return n
}

func indexOf(items []models.GapItem, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// Reconcile merges a freshly detected set into the queue and rewrites it.
func (m *Manager) Reconcile(ctx context.Context, fresh []models.GapItem) (ReconcileStats, error) {
	var stats ReconcileStats
	err := m.update(func(items []models.GapItem, now int64) ([]models.GapItem, bool, error) {
		var out []models.GapItem
		out, stats = Reconcile(items, fresh, m.retention, now)
		return out, true, nil
	})
	if err != nil {
		return stats, err
	}
	logging.FromContext(ctx).Info("Queue reconciled.",
		"added", stats.Added, "kept", stats.Kept, "revived", stats.Revived,
		"retained", stats.Retained, "dropped", stats.Dropped, "demoted", stats.Demoted)
	m.record(ctx, "queue.reconcile", map[string]int{"fresh": len(fresh)}, "success", "",
		fmt.Sprintf("added=%d dropped=%d revived=%d", stats.Added, stats.Dropped, stats.Revived))
	return stats, nil
}

// Lease demotes expired leases, then claims the highest-priority pending
// entry for worker until now+ttl. Categories listed earlier in priority win;
// unlisted categories rank last; ties go to the earliest entry in the file.
// It returns nil when nothing is pending.
func (m *Manager) Lease(ctx context.Context, worker string, ttl time.Duration, priority []models.GapType) (*models.GapItem, error) {
	if worker == "" {
		return nil, ErrWorkerRequired
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	rank := make(map[models.GapType]int, len(priority))
	for i, t := range priority {
		if _, dup := rank[t]; !dup {
			rank[t] = i
		}
	}
	rankOf := func(t models.GapType) int {
		if r, ok := rank[t]; ok {
			return r
		}
		return len(priority)
	}

	var leased *models.GapItem
	err := m.update(func(items []models.GapItem, now int64) ([]models.GapItem, bool, error) {
		demoted := demoteExpired(items, now)
		best := -1
		for i := range items {
			if items[i].Status != models.StatusPending {
				continue
			}
			if best < 0 || rankOf(items[i].GapType) < rankOf(items[best].GapType) {
				best = i
			}
		}
		if best < 0 {
			return items, demoted > 0, nil
		}
		items[best].Status = models.StatusLeased
		items[best].LeaseID = worker
		items[best].LeaseExpiresAt = now + int64(ttl/time.Second)
		if items[best].LeaseExpiresAt == now {
			items[best].LeaseExpiresAt = now + 1
		}
		item := items[best]
		leased = &item
		return items, true, nil
	})
	if err != nil {
		return nil, err
	}
	if leased == nil {
		return nil, nil
	}
	logging.FromContext(ctx).Info("Gap leased.", "id", leased.ID, "worker", worker, "expires_at", leased.LeaseExpiresAt)
	m.record(ctx, "queue.lease", map[string]any{"worker": worker, "ttl_sec": int64(ttl / time.Second)},
		"success", leased.ID, "leased by "+worker)
	return leased, nil
}

// ownerCheck allows an operation on an unleased entry or one leased by worker.
func ownerCheck(item models.GapItem, worker string) error {
	if item.Status == models.StatusLeased && item.LeaseID != worker {
		return fmt.Errorf("%w: %s is leased by %s", ErrNotOwner, item.ID, item.LeaseID)
	}
	return nil
}

// Complete marks the entry done. Completing an entry that is already done is
// a no-op.
func (m *Manager) Complete(ctx context.Context, id, worker string) error {
	err := m.update(func(items []models.GapItem, now int64) ([]models.GapItem, bool, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := ownerCheck(items[i], worker); err != nil {
			return nil, false, err
		}
		if items[i].Status == models.StatusDone {
			return items, false, nil
		}
		items[i].Status = models.StatusDone
		items[i].LeaseID = ""
		items[i].LeaseExpiresAt = 0
		items[i].CompletedAt = now
		return items, true, nil
	})
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("Gap completed.", "id", id, "worker", worker)
	m.record(ctx, "queue.complete", map[string]string{"id": id, "worker": worker}, "success", id, "completed by "+worker)
	return nil
}

// Release returns the entry to pending. Releasing a pending entry is a no-op.
func (m *Manager) Release(ctx context.Context, id, worker string) error {
	err := m.update(func(items []models.GapItem, now int64) ([]models.GapItem, bool, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := ownerCheck(items[i], worker); err != nil {
			return nil, false, err
		}
		switch items[i].Status {
		case models.StatusDone:
			return nil, false, fmt.Errorf("%w: %s", ErrAlreadyDone, id)
		case models.StatusPending:
			return items, false, nil
		}
		items[i].ClearLease()
		return items, true, nil
	})
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info("Gap released.", "id", id, "worker", worker)
	m.record(ctx, "queue.release", map[string]string{"id": id, "worker": worker}, "success", id, "released by "+worker)
	return nil
}

// GC demotes expired leases and, when pruneOlderThan is positive, deletes done
// entries completed strictly before now-pruneOlderThan. It returns how many
// entries were deleted.
func (m *Manager) GC(ctx context.Context, pruneOlderThan time.Duration) (int, error) {
	var deleted, demoted int
	err := m.update(func(items []models.GapItem, now int64) ([]models.GapItem, bool, error) {
		demoted = demoteExpired(items, now)
		if pruneOlderThan <= 0 {
			return items, demoted > 0, nil
		}
		cutoff := now - int64(pruneOlderThan/time.Second)
		kept := items[:0]
		for _, item := range items {
			if item.Status == models.StatusDone && item.CompletedAt < cutoff {
				deleted++
				continue
			}
			kept = append(kept, item)
		}
		return kept, demoted > 0 || deleted > 0, nil
	})
	if err != nil {
		return 0, err
	}
	logging.FromContext(ctx).Info("Queue garbage collected.", "deleted", deleted, "demoted", demoted)
	m.record(ctx, "queue.gc", map[string]int64{"prune_older_than_sec": int64(pruneOlderThan / time.Second)},
		"success", "", fmt.Sprintf("deleted=%d demoted=%d", deleted, demoted))
	return deleted, nil
}

// AddResult reports what a manual insertion did.
type AddResult struct {
	Added   []string `json:"added"`
	Skipped []string `json:"skipped"`
}

// Add inserts operator-supplied entries as pending. An entry without an id
// gets gap_type:item_id; ids already queued are skipped.
func (m *Manager) Add(ctx context.Context, items []models.GapItem) (AddResult, error) {
	var res AddResult
	for _, item := range items {
		if item.GapType == "" {
			return res, fmt.Errorf("gap_type is required")
		}
		if item.ID == "" && item.ItemID == "" {
			return res, fmt.Errorf("%s entry needs an id or item_id", item.GapType)
		}
	}
	err := m.update(func(queued []models.GapItem, now int64) ([]models.GapItem, bool, error) {
		seen := make(map[string]bool, len(queued))
		for _, q := range queued {
			seen[q.ID] = true
		}
		for _, item := range items {
			if item.ID == "" {
				item.ID = models.GapID(item.GapType, item.ItemID)
			}
			if seen[item.ID] {
				res.Skipped = append(res.Skipped, item.ID)
				continue
			}
			if item.Reason == "" {
				item.Reason = string(item.GapType)
			}
			item.ClearLease()
			item.CompletedAt = 0
			queued = append(queued, item)
			seen[item.ID] = true
			res.Added = append(res.Added, item.ID)
		}
		return queued, len(res.Added) > 0, nil
	})
	if err != nil {
		return AddResult{}, err
	}
	for _, id := range res.Added {
		m.record(ctx, "queue.add", map[string]string{"id": id}, "success", id, "manual insertion")
	}
	logging.FromContext(ctx).Info("Gaps added.", "added", len(res.Added), "skipped", len(res.Skipped))
	return res, nil
}

// List returns a snapshot of every entry in file order.
func (m *Manager) List(ctx context.Context) ([]models.GapItem, error) {
	var snapshot []models.GapItem
	err := m.update(func(items []models.GapItem, _ int64) ([]models.GapItem, bool, error) {
		snapshot = items
		return items, false, nil
	})
	return snapshot, err
}

// Get returns one entry by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.GapItem, error) {
	items, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(items, id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &items[i], nil
}

// Histogram counts entries per status, overall and per category.
type Histogram struct {
	Total     int                                          `json:"total"`
	ByStatus  map[models.ItemStatus]int                    `json:"by_status"`
	ByGapType map[models.GapType]map[models.ItemStatus]int `json:"by_gap_type"`
}

// Histogram summarizes the queue.
func (m *Manager) Histogram(ctx context.Context) (Histogram, error) {
	h := Histogram{
		ByStatus:  map[models.ItemStatus]int{},
		ByGapType: map[models.GapType]map[models.ItemStatus]int{},
	}
	items, err := m.List(ctx)
	if err != nil {
		return h, err
	}
	for _, item := range items {
		h.Total++
		h.ByStatus[item.Status]++
		if h.ByGapType[item.GapType] == nil {
			h.ByGapType[item.GapType] = map[models.ItemStatus]int{}
		}
		h.ByGapType[item.GapType][item.Status]++
	}
	return h, nil
}

// GapTypeUsage is one category known to the queue.
type GapTypeUsage struct {
	GapType models.GapType `json:"gap_type"`
	Builtin bool           `json:"builtin"`
	Count   int            `json:"count"`
}

// GapTypes lists every built-in category in rule order followed by the
// operator-added categories present in the queue, alphabetically.
func (m *Manager) GapTypes(ctx context.Context) ([]GapTypeUsage, error) {
	items, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[models.GapType]int{}
	for _, item := range items {
		counts[item.GapType]++
	}

	var out []GapTypeUsage
	for _, t := range models.BuiltinGapTypes() {
		out = append(out, GapTypeUsage{GapType: t, Builtin: true, Count: counts[t]})
	}
	var custom []models.GapType
	for t := range counts {
		if !t.IsBuiltin() {
			custom = append(custom, t)
		}
	}
	sort.Slice(custom, func(i, j int) bool { return custom[i] < custom[j] })
	for _, t := range custom {
		out = append(out, GapTypeUsage{GapType: t, Count: counts[t]})
	}
	return out, nil
}
