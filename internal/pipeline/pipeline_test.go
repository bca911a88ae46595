package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/gapq/internal/config"
	"github.com/fentz26/gapq/internal/gaps"
	"github.com/fentz26/gapq/internal/loader"
	"github.com/fentz26/gapq/internal/models"
	"github.com/fentz26/gapq/internal/queue"
)

const motorGap = "missing_field:motor:material_class"

func setup(t *testing.T, filter *config.Filter, opts ...queue.Option) (*Pipeline, *queue.Manager, string) {
	t.Helper()
	root := t.TempDir()
	kb := filepath.Join(root, "kb")
	writeMotor(t, kb, "id: motor\nname: Motor\n")

	state := filepath.Join(root, "state")
	mgr := queue.NewFileManager(filepath.Join(state, "gaps.jsonl"), filepath.Join(state, "gaps.jsonl.lock"), opts...)
	src := loader.New(kb, config.DefaultConfig().KindMapping())
	return New(src, gaps.NewDefaultDetector(), filter, mgr), mgr, kb
}

func writeMotor(t *testing.T, kb, body string) {
	t.Helper()
	path := filepath.Join(kb, "parts", "motor.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestIndex_QueuesDetectedGaps(t *testing.T) {
	ctx := context.Background()
	p, mgr, _ := setup(t, nil)

	res, err := p.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.Equal(t, res.Filter.Detected, res.Filter.Queued)
	assert.Equal(t, res.Filter.Queued, res.Reconcile.Added)

	item, err := mgr.Get(ctx, motorGap)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
	assert.Equal(t, models.KindPart, item.Kind)

	again, err := p.Index(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Reconcile.Added)
	assert.Equal(t, res.Filter.Queued, again.Reconcile.Kept)
}

func TestIndex_FilterHidesFromQueueNotFromVerify(t *testing.T) {
	ctx := context.Background()
	filter := &config.Filter{Exclude: config.FilterRules{GapTypes: []string{string(models.GapMissingField)}}}
	p, mgr, _ := setup(t, filter)

	res, err := p.Index(ctx)
	require.NoError(t, err)
	assert.Positive(t, res.Filter.Filtered)

	_, err = mgr.Get(ctx, motorGap)
	assert.ErrorIs(t, err, queue.ErrNotFound)

	still, _, err := p.Verify(ctx, motorGap)
	require.NoError(t, err)
	assert.True(t, still)
}

func TestCompleteVerified(t *testing.T) {
	ctx := context.Background()
	p, mgr, kb := setup(t, nil)

	_, err := p.Index(ctx)
	require.NoError(t, err)
	leased, err := mgr.Lease(ctx, "w1", time.Hour, []models.GapType{models.GapMissingField})
	require.NoError(t, err)
	require.Equal(t, motorGap, leased.ID)

	err = p.CompleteVerified(ctx, motorGap, "w1")
	assert.ErrorIs(t, err, ErrStillDetected)
	item, err := mgr.Get(ctx, motorGap)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLeased, item.Status, "refused completion keeps the lease")
	assert.Equal(t, "w1", item.LeaseID)

	writeMotor(t, kb, "id: motor\nname: Motor\nmaterial_class: steel\n")
	require.NoError(t, p.CompleteVerified(ctx, motorGap, "w1"))

	item, err = mgr.Get(ctx, motorGap)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, item.Status)

	// A later pass that no longer detects it leaves it done.
	_, err = p.Index(ctx)
	require.NoError(t, err)
	item, err = mgr.Get(ctx, motorGap)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, item.Status)

	// The condition returning revives it.
	writeMotor(t, kb, "id: motor\nname: Motor\n")
	_, err = p.Index(ctx)
	require.NoError(t, err)
	item, err = mgr.Get(ctx, motorGap)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, item.Status)
}

func TestCompleteVerified_LapsedLease(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	p, mgr, kb := setup(t, nil, queue.WithClock(func() time.Time { return now }))

	_, err := p.Index(ctx)
	require.NoError(t, err)
	leased, err := mgr.Lease(ctx, "w1", time.Minute, []models.GapType{models.GapMissingField})
	require.NoError(t, err)
	require.Equal(t, motorGap, leased.ID)

	// The fix lands after the lease ran out and nobody else took it.
	now = now.Add(time.Hour)
	writeMotor(t, kb, "id: motor\nname: Motor\nmaterial_class: steel\n")
	require.NoError(t, p.CompleteVerified(ctx, motorGap, "w1"))

	item, err := mgr.Get(ctx, motorGap)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, item.Status)
	assert.Equal(t, now.Unix(), item.CompletedAt)
}
