package loader

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/gapq/internal/logging"
	"github.com/fentz26/gapq/internal/models"
)

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

var testKinds = map[string]models.EntityKind{
	"parts":     models.KindPart,
	"processes": models.KindProcess,
}

func TestLoad_KindsAndOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "parts/gear.yaml", "id: gear\nname: Gear\nmaterial_class: steel\n")
	writeFile(t, root, "parts/imported/bolt.yml", "id: bolt\n")
	writeFile(t, root, "processes/all.yaml", `
- id: cut
  inputs: [{item_id: steel_bar}]
- id: weld
`)
	writeFile(t, root, "misc/m.yaml", "id: lathe\nkind: machine\ncapabilities: [power]\n")
	writeFile(t, root, "notes.txt", "not yaml")

	records, err := New(root, testKinds).Load(context.Background())
	require.NoError(t, err)

	var got []string
	for _, r := range records {
		got = append(got, r.ID+"/"+string(r.Kind))
	}
	assert.Equal(t, []string{"lathe/machine", "gear/part", "bolt/part", "cut/process", "weld/process"}, got)

	gear := records[1]
	assert.Equal(t, filepath.ToSlash(filepath.Join(root, "parts/gear.yaml")), gear.Location)
	assert.Equal(t, "steel", gear.Fields["material_class"])

	inputs, ok := records[3].Fields["inputs"].([]any)
	require.True(t, ok)
	first, ok := inputs[0].(map[string]any)
	require.True(t, ok, "nested mappings decode with string keys")
	assert.Equal(t, "steel_bar", first["item_id"])
}

func TestLoad_SkipsBadRecords(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "parts/ok.yaml", "id: ok\n")
	writeFile(t, root, "parts/noid.yaml", "name: anonymous\n")
	writeFile(t, root, "parts/badkind.yaml", "id: x\nkind: gizmo\n")
	writeFile(t, root, "parts/broken.yaml", "id: [unterminated\n")
	writeFile(t, root, "parts/scalar.yaml", "just a string\n")
	writeFile(t, root, "unmapped/y.yaml", "id: y\n")
	writeFile(t, root, ".hidden/z.yaml", "id: z\nkind: part\n")

	var logs bytes.Buffer
	ctx := logging.WithLogger(context.Background(), logging.New("warn", "text", &logs))

	records, err := New(root, testKinds).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].ID)

	out := logs.String()
	assert.Contains(t, out, "record has no id")
	assert.Contains(t, out, "unknown entity kind gizmo")
	assert.Contains(t, out, "Malformed YAML")
	assert.Contains(t, out, "no mapped directory")
}

func TestLoad_MultiDocument(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "parts/many.yaml", "id: a\n---\nid: b\n---\n")

	records, err := New(root, testKinds).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
}

func TestLoad_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), testKinds).Load(context.Background())
	assert.Error(t, err)
}
