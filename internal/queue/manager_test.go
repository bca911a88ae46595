package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/gapq/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedDecision struct {
	action string
	gapID  string
}

type memRecorder struct {
	mu      sync.Mutex
	entries []recordedDecision
}

func (r *memRecorder) Record(action string, _ any, outcome, gapID, _ string) (*models.PDREntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedDecision{action: action, gapID: gapID})
	return &models.PDREntry{Action: action, Outcome: outcome, GapID: gapID}, nil
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock, string) {
	t.Helper()
	dir := t.TempDir()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	queuePath := filepath.Join(dir, "gaps.jsonl")
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	m := NewFileManager(queuePath, queuePath+".lock", opts...)
	return m, clock, queuePath
}

func seed(t *testing.T, m *Manager, items ...models.GapItem) {
	t.Helper()
	_, err := m.Reconcile(context.Background(), items)
	require.NoError(t, err)
}

func TestManager_ReconcileIsByteIdentical(t *testing.T) {
	m, _, path := newTestManager(t)
	fresh := []models.GapItem{
		gap(models.GapNoRecipe, "gear"),
		gap(models.GapMissingField, "bolt"),
	}
	seed(t, m, fresh...)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	seed(t, m, fresh...)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestManager_LeasePriority(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	seed(t, m,
		gap(models.GapReferencedOnly, "a"),
		gap(models.GapNoRecipe, "b"),
		gap(models.GapMissingField, "c"),
		gap(models.GapNoRecipe, "d"),
	)

	item, err := m.Lease(ctx, "w1", time.Minute, []models.GapType{models.GapNoRecipe, models.GapMissingField})
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "no_recipe:b", item.ID, "listed first, earliest in file")
	assert.Equal(t, "w1", item.LeaseID)

	item, err = m.Lease(ctx, "w1", time.Minute, []models.GapType{models.GapNoRecipe, models.GapMissingField})
	require.NoError(t, err)
	assert.Equal(t, "no_recipe:d", item.ID)

	item, err = m.Lease(ctx, "w1", time.Minute, []models.GapType{models.GapNoRecipe, models.GapMissingField})
	require.NoError(t, err)
	assert.Equal(t, "missing_field:c", item.ID)

	item, err = m.Lease(ctx, "w1", time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, "referenced_only:a", item.ID, "unlisted categories still lease")

	item, err = m.Lease(ctx, "w1", time.Minute, nil)
	require.NoError(t, err)
	assert.Nil(t, item, "nothing pending")
}

func TestManager_LeaseValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Lease(context.Background(), "", time.Minute, nil)
	assert.ErrorIs(t, err, ErrWorkerRequired)
	_, err = m.Lease(context.Background(), "w", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestManager_ConcurrentLeasesAreExclusive(t *testing.T) {
	ctx := context.Background()
	m, _, path := newTestManager(t)
	const n = 20
	var fresh []models.GapItem
	for i := 0; i < n; i++ {
		fresh = append(fresh, gap(models.GapNoRecipe, fmt.Sprintf("item%02d", i)))
	}
	seed(t, m, fresh...)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		leased = map[string]string{}
		errs   []error
	)
	for w := 0; w < n+5; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			// A separate manager per goroutine mimics separate processes.
			own := NewFileManager(path, path+".lock")
			item, err := own.Lease(ctx, worker, time.Minute, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if item == nil {
				return
			}
			if prev, dup := leased[item.ID]; dup {
				errs = append(errs, fmt.Errorf("%s leased by %s and %s", item.ID, prev, worker))
			}
			leased[item.ID] = worker
		}(fmt.Sprintf("w%02d", w))
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, leased, n)

	h, err := m.Histogram(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, h.ByStatus[models.StatusLeased])
}

func TestManager_CompleteAndReleaseOwnership(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)
	seed(t, m, gap(models.GapNoRecipe, "a"), gap(models.GapNoRecipe, "b"))

	item, err := m.Lease(ctx, "w1", time.Minute, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Complete(ctx, item.ID, "w2"), ErrNotOwner)
	assert.ErrorIs(t, m.Release(ctx, item.ID, "w2"), ErrNotOwner)
	assert.ErrorIs(t, m.Complete(ctx, "no_recipe:zzz", "w1"), ErrNotFound)

	clock.Advance(10 * time.Second)
	require.NoError(t, m.Complete(ctx, item.ID, "w1"))
	got, err := m.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.Equal(t, clock.Now().Unix(), got.CompletedAt)
	assert.Empty(t, got.LeaseID)

	require.NoError(t, m.Complete(ctx, item.ID, "anyone"), "completing a done gap is a no-op")
	assert.ErrorIs(t, m.Release(ctx, item.ID, "w1"), ErrAlreadyDone)

	// An unleased entry can be completed or released by anyone.
	require.NoError(t, m.Release(ctx, "no_recipe:b", "w3"))
	require.NoError(t, m.Complete(ctx, "no_recipe:b", "w3"))
}

func TestManager_ReleaseMakesLeaseable(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	seed(t, m, gap(models.GapNoRecipe, "a"))

	item, err := m.Lease(ctx, "w1", time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, item.ID, "w1"))

	again, err := m.Lease(ctx, "w2", time.Minute, nil)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, item.ID, again.ID)
	assert.Equal(t, "w2", again.LeaseID)
}

func TestManager_GCExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)
	seed(t, m, gap(models.GapNoRecipe, "a"))

	item, err := m.Lease(ctx, "w1", 60*time.Second, nil)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = m.GC(ctx, 0)
	require.NoError(t, err)
	got, err := m.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLeased, got.Status, "lease still live")

	clock.Advance(31 * time.Second)
	_, err = m.GC(ctx, 0)
	require.NoError(t, err)
	got, err = m.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.LeaseID)
	assert.Zero(t, got.LeaseExpiresAt)
}

func TestManager_LeaseReclaimsExpired(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)
	seed(t, m, gap(models.GapNoRecipe, "a"))

	_, err := m.Lease(ctx, "w1", time.Second, nil)
	require.NoError(t, err)

	none, err := m.Lease(ctx, "w2", time.Minute, nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	clock.Advance(2 * time.Second)
	item, err := m.Lease(ctx, "w2", time.Minute, nil)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "w2", item.LeaseID)
}

func TestManager_GCPrunesOldDone(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)
	seed(t, m, gap(models.GapNoRecipe, "old"), gap(models.GapNoRecipe, "recent"), gap(models.GapNoRecipe, "open"))

	require.NoError(t, m.Complete(ctx, "no_recipe:old", "w"))
	clock.Advance(time.Hour)
	require.NoError(t, m.Complete(ctx, "no_recipe:recent", "w"))
	clock.Advance(time.Minute)

	deleted, err := m.GC(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	items, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"no_recipe:recent", "no_recipe:open"}, ids(items))

	deleted, err = m.GC(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted, "no window, no pruning")
}

func TestManager_Add(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	seed(t, m, gap(models.GapNoRecipe, "gear"))

	res, err := m.Add(ctx, []models.GapItem{
		{GapType: "needs_photo", ItemID: "gear", Kind: models.KindPart,
			Context: models.FreeformContext{"description": "take a photo"}},
		{GapType: models.GapNoRecipe, ItemID: "gear"},
		{ID: "custom:1", GapType: "needs_review", Status: models.StatusDone, LeaseID: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"needs_photo:gear", "custom:1"}, res.Added)
	assert.Equal(t, []string{"no_recipe:gear"}, res.Skipped)

	got, err := m.Get(ctx, "custom:1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "manual entries start pending")
	assert.Empty(t, got.LeaseID)
	assert.Equal(t, "needs_review", got.Reason)

	_, err = m.Add(ctx, []models.GapItem{{ItemID: "x"}})
	assert.Error(t, err)

	// Operator-added categories survive a rebuild that never detects them.
	seed(t, m, gap(models.GapNoRecipe, "gear"))
	_, err = m.Get(ctx, "needs_photo:gear")
	assert.NoError(t, err)
}

func TestManager_HistogramAndGapTypes(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	seed(t, m, gap(models.GapNoRecipe, "a"), gap(models.GapNoRecipe, "b"), gap(models.GapMissingField, "c"))
	_, err := m.Add(ctx, []models.GapItem{{GapType: "zeta", ItemID: "z"}, {GapType: "alpha", ItemID: "a"}})
	require.NoError(t, err)
	_, err = m.Lease(ctx, "w", time.Minute, []models.GapType{models.GapMissingField})
	require.NoError(t, err)

	h, err := m.Histogram(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, h.Total)
	assert.Equal(t, 4, h.ByStatus[models.StatusPending])
	assert.Equal(t, 1, h.ByGapType[models.GapMissingField][models.StatusLeased])
	assert.Equal(t, 2, h.ByGapType[models.GapNoRecipe][models.StatusPending])

	types, err := m.GapTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, len(models.BuiltinGapTypes())+2)
	assert.Equal(t, models.GapUnresolvedRef, types[0].GapType)
	assert.True(t, types[0].Builtin)
	assert.Equal(t, GapTypeUsage{GapType: "alpha", Count: 1}, types[len(types)-2])
	assert.Equal(t, GapTypeUsage{GapType: "zeta", Count: 1}, types[len(types)-1])
}

func TestManager_RecordsDecisions(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	m, _, _ := newTestManager(t, WithRecorder(rec))
	seed(t, m, gap(models.GapNoRecipe, "a"))

	item, err := m.Lease(ctx, "w", time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, item.ID, "w"))

	require.Len(t, rec.entries, 3)
	assert.Equal(t, "queue.reconcile", rec.entries[0].action)
	assert.Equal(t, recordedDecision{action: "queue.lease", gapID: "no_recipe:a"}, rec.entries[1])
	assert.Equal(t, recordedDecision{action: "queue.complete", gapID: "no_recipe:a"}, rec.entries[2])
}

func TestManager_NamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	gaps := NewFileManager(filepath.Join(dir, "gaps.jsonl"), filepath.Join(dir, "gaps.lock"))
	dedupe := NewFileManager(filepath.Join(dir, "dedupe.jsonl"), filepath.Join(dir, "dedupe.lock"))

	_, err := gaps.Reconcile(ctx, []models.GapItem{gap(models.GapNoRecipe, "a")})
	require.NoError(t, err)

	item, err := dedupe.Lease(ctx, "w", time.Minute, nil)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestManager_MissingFieldLifecycle(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)
	motor := models.GapItem{
		ID:      "missing_field:motor:material_class",
		Kind:    models.KindPart,
		Reason:  string(models.GapMissingField),
		GapType: models.GapMissingField,
		ItemID:  "motor",
		Context: &models.MissingFieldContext{Field: "material_class", SourceFile: "kb/parts/motor.yaml"},
	}

	seed(t, m, motor)
	items, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusPending, items[0].Status)

	leased, err := m.Lease(ctx, "w1", 60*time.Second, nil)
	require.NoError(t, err)
	require.NotNil(t, leased)
	assert.Equal(t, motor.ID, leased.ID)

	seed(t, m, motor)
	got, err := m.Get(ctx, motor.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLeased, got.Status, "rebuild leaves the lease untouched")
	assert.Equal(t, "w1", got.LeaseID)

	require.NoError(t, m.Complete(ctx, motor.ID, "w1"))

	seed(t, m)
	got, err = m.Get(ctx, motor.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status, "no longer detected, stays done")

	deleted, err := m.GC(ctx, 86400*time.Second)
	require.NoError(t, err)
	assert.Zero(t, deleted, "inside the window")

	clock.Advance(86401 * time.Second)
	deleted, err = m.GC(ctx, 86400*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	_, err = m.Get(ctx, motor.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_DoneRevivedWhenStillDetected(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	item := gap(models.GapMissingField, "motor")

	seed(t, m, item)
	require.NoError(t, m.Complete(ctx, item.ID, "w1"))
	seed(t, m, item)

	got, err := m.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Zero(t, got.CompletedAt)
}
