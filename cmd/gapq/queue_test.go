package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/gapq/internal/config"
	"github.com/fentz26/gapq/internal/models"
)

func TestParsePriority(t *testing.T) {
	assert.Equal(t, []models.GapType{models.GapMissingField, models.GapNoRecipe},
		parsePriority(" missing_field, ,no_recipe "))
	assert.Empty(t, parsePriority(""))
}

func TestParseAddLines(t *testing.T) {
	input := strings.Join([]string{
		`{"gap_type":"needs_photo","item_id":"gear","kind":"part","description":"shoot it","context":{"angle":"top"}}`,
		``,
		`{"gap_type":"missing_field","item_id":"bolt","context":{"field":"material_class"}}`,
	}, "\n")

	items, err := parseAddLines(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, items, 2)

	photo := items[0]
	assert.Equal(t, models.KindPart, photo.Kind)
	assert.Equal(t, "shoot it", photo.Reason)
	ff, ok := photo.Context.(models.FreeformContext)
	require.True(t, ok)
	assert.Equal(t, "top", ff["angle"])
	assert.Equal(t, "shoot it", ff["description"])

	mf, ok := items[1].Context.(*models.MissingFieldContext)
	require.True(t, ok, "built-in categories decode their typed context")
	assert.Equal(t, "material_class", mf.Field)
	assert.Equal(t, models.KindUnknown, items[1].Kind)

	_, err = parseAddLines(strings.NewReader(`{"item_id":"x"}`))
	assert.ErrorContains(t, err, "line 1")
}

func TestPrintHistogram(t *testing.T) {
	var out bytes.Buffer
	printHistogram(&out, map[models.GapType]map[models.ItemStatus]int{
		models.GapNoRecipe:     {models.StatusPending: 2, models.StatusDone: 1},
		models.GapMissingField: {models.StatusLeased: 1},
	})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "missing_field"))
	assert.Equal(t, []string{"TOTAL", "2", "1", "1", "4"}, strings.Fields(lines[3]))
}

func TestRetentionPolicyFromConfig(t *testing.T) {
	p := retentionPolicy(config.DefaultConfig().Retention)
	assert.True(t, p.GapTypes[models.GapUnresolvedRef])
	assert.True(t, p.GapTypes[models.GapImportStub])
	assert.False(t, p.GapTypes[models.GapNoRecipe])
	assert.True(t, p.KeepDone)
}

func TestNewPipelineOnlyFeedsGaps(t *testing.T) {
	c := config.DefaultConfig()

	p, err := newPipeline(c, config.NamespaceGaps, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = newPipeline(c, config.NamespaceDedupe, nil, nil)
	assert.ErrorIs(t, err, errDetectorNamespace)
}

func TestVerifiedCompleteRefusedOutsideGaps(t *testing.T) {
	dir := t.TempDir()
	kb := filepath.Join(dir, "kb", "parts")
	require.NoError(t, os.MkdirAll(kb, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(kb, "motor.yaml"), []byte("id: motor\nname: Motor\n"), 0o644))

	c := config.DefaultConfig()
	c.KBRoot = filepath.Join(dir, "kb")
	c.StateDir = filepath.Join(dir, "state")

	oldCfg, oldNS, oldVerify, oldID, oldAgent := cfg, namespace, verify, gapID, agentID
	t.Cleanup(func() {
		cfg, namespace, verify, gapID, agentID = oldCfg, oldNS, oldVerify, oldID, oldAgent
	})
	cfg, namespace, verify, gapID, agentID = c, config.NamespaceDedupe, true, "dup_pair:a__b", "w1"

	h, err := openQueue(c, config.NamespaceDedupe)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = h.manager.Add(ctx, []models.GapItem{{GapType: "dup_pair", ItemID: "a__b"}})
	require.NoError(t, err)
	h.Close()

	queueCompleteCmd.SetContext(ctx)
	err = runQueueComplete(queueCompleteCmd, nil)
	assert.ErrorIs(t, err, errDetectorNamespace)

	h, err = openQueue(c, config.NamespaceDedupe)
	require.NoError(t, err)
	defer h.Close()
	items, err := h.manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1, "detector output must not leak into dedupe")
	assert.Equal(t, "dup_pair:a__b", items[0].ID)
	assert.Equal(t, models.StatusPending, items[0].Status)
}
