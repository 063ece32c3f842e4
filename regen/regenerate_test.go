package regen

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/confsync/diff"
	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/filestore"
	"github.com/c360/confsync/livestate"
	"github.com/c360/confsync/metric"
	"github.com/c360/confsync/pathmap"
)

var defaultRules = []pathmap.Rule{{Prefix: "system", File: "system.json"}}

func defaultFiles() map[string]string {
	return map[string]string{
		"system.json":  `{"site":{"name":"confsync-dev"},"debug":true}`,
		"content.json": `{"types":{"article":{"kind":"document"}}}`,
	}
}

func readJSON(t *testing.T, root, rel string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestRegenerateSnapshot_FirstBoot(t *testing.T) {
	f := newFixture(t, defaultFiles(), defaultRules)
	ctx := context.Background()

	require.NoError(t, f.coord.RegenerateSnapshot(ctx))

	name, err := f.live.Get("system.site.name")
	require.NoError(t, err)
	assert.Equal(t, "confsync-dev", name)
	kind, err := f.live.Get("content.types.article.kind")
	require.NoError(t, err)
	assert.Equal(t, "document", kind)

	snap, err := f.snaps.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.Empty(t, diff.Diff(snap.Tree, f.live.CurrentTree()))
	assert.Contains(t, snap.Modified, "system")
	assert.Contains(t, snap.Modified, "content")
}

func TestRegenerateSnapshot_NoChangeKeepsVersion(t *testing.T) {
	f := newFixture(t, defaultFiles(), defaultRules)
	ctx := context.Background()

	require.NoError(t, f.coord.RegenerateSnapshot(ctx))
	require.NoError(t, f.coord.RegenerateSnapshot(ctx))

	snap, err := f.snaps.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
}

func TestRegenerateSnapshot_AppliesOnlyTheDelta(t *testing.T) {
	f := newFixture(t, defaultFiles(), defaultRules)
	ctx := context.Background()
	require.NoError(t, f.coord.RegenerateSnapshot(ctx))

	var seen []diff.Op
	f.live.Subscribe(func(op diff.Op) { seen = append(seen, op) })

	writeFragment(t, f.files.Root(), "system.json",
		`{"site":{"name":"staging"},"debug":true,"theme":"dark"}`)
	require.NoError(t, f.coord.RegenerateSnapshot(ctx))

	require.Len(t, seen, 2)
	assert.Equal(t, diff.KindUpdate, seen[0].Kind)
	assert.Equal(t, "system.site.name", seen[0].Path)
	assert.Equal(t, "staging", seen[0].New)
	assert.Equal(t, diff.KindAdd, seen[1].Kind)
	assert.Equal(t, "system.theme", seen[1].Path)

	snap, err := f.snaps.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
}

func TestRegenerateSnapshot_NewFileBindsWithoutFullRebuild(t *testing.T) {
	f := newFixture(t, defaultFiles(), defaultRules)
	ctx := context.Background()
	require.NoError(t, f.coord.RegenerateSnapshot(ctx))

	writeFragment(t, f.files.Root(), "schema.json",
		`{"fields":{"slug":{"type":"string"}}}`)
	require.NoError(t, f.coord.RegenerateSnapshot(ctx))

	typ, err := f.live.Get("schema.fields.slug.type")
	require.NoError(t, err)
	assert.Equal(t, "string", typ)

	file, err := f.coord.PathMap().FileFor("schema.fields")
	require.NoError(t, err)
	assert.Equal(t, "schema.json", file)
}

func TestRegenerateSnapshot_HandlerRejectionSkipsSave(t *testing.T) {
	f := newFixture(t, defaultFiles(), defaultRules)
	ctx := context.Background()

	boom := errors.WrapInvalid(errors.ErrInvalidValue, "testHandler", "ConfigChanged", "reject system")
	require.NoError(t, f.live.Attach("system", livestate.HandlerFunc(func(diff.Op) error {
		return boom
	})))

	err := f.coord.RegenerateSnapshot(ctx)
	require.Error(t, err)
	var applyErr *diff.ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, "system", applyErr.Failed.Path)
	assert.Len(t, applyErr.Applied, 1)

	// The pass halted before persistence, so no snapshot exists.
	_, err = f.snaps.Load(ctx)
	assert.ErrorIs(t, err, errors.ErrSnapshotNotFound)

	// Ops before the rejected one stay applied in the live state.
	kind, err := f.live.Get("content.types.article.kind")
	require.NoError(t, err)
	assert.Equal(t, "document", kind)
}

func TestRegenerateSnapshot_ParseErrorSurfaces(t *testing.T) {
	f := newFixture(t, map[string]string{
		"system.json": `{"site":{"name":"dev"}}`,
	}, nil)
	ctx := context.Background()

	writeFragment(t, f.files.Root(), "system.json", `{"broken":`)
	err := f.coord.RegenerateSnapshot(ctx)
	require.Error(t, err)
	var parseErr *filestore.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "system.json", parseErr.File)
}

func TestRegenerateConfig_WritesDriftToOwningFile(t *testing.T) {
	f := newFixture(t, defaultFiles(), defaultRules)
	ctx := context.Background()
	require.NoError(t, f.coord.RegenerateSnapshot(ctx))
	// Bring the hand-seeded files into canonical rendered form first so
	// byte comparisons below see only the drift.
	require.NoError(t, f.coord.RegenerateConfig(ctx))

	contentBefore, err := os.ReadFile(filepath.Join(f.files.Root(), "content.json"))
	require.NoError(t, err)

	require.NoError(t, f.live.Set("system.site.name", "prod"))
	require.NoError(t, f.coord.RegenerateConfig(ctx))

	system := readJSON(t, f.files.Root(), "system.json")
	site, ok := system["site"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "prod", site["name"])

	// The untouched section's file keeps its exact bytes.
	contentAfter, err := os.ReadFile(filepath.Join(f.files.Root(), "content.json"))
	require.NoError(t, err)
	assert.Equal(t, contentBefore, contentAfter)

	snap, err := f.snaps.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.Empty(t, diff.Diff(snap.Tree, f.live.CurrentTree()))

	// A second run has no drift left to fold in.
	require.NoError(t, f.coord.RegenerateConfig(ctx))
	snap, err = f.snaps.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
}

func TestRegenerateConfig_SynthesizesFileViaDirRule(t *testing.T) {
	f := newFixture(t, map[string]string{
		"types/article.json": `{"kind":"document","fields":{"title":{"type":"string"}}}`,
	}, []pathmap.Rule{{Prefix: "content.types", Dir: "types"}})
	ctx := context.Background()
	require.NoError(t, f.coord.RegenerateSnapshot(ctx))
	require.NoError(t, f.coord.RegenerateConfig(ctx))

	articleBefore, err := os.ReadFile(filepath.Join(f.files.Root(), "types", "article.json"))
	require.NoError(t, err)

	require.NoError(t, f.live.Set("content.types.page.kind", "document"))
	require.NoError(t, f.coord.RegenerateConfig(ctx))

	page := readJSON(t, f.files.Root(), "types/page.json")
	assert.Equal(t, "document", page["kind"])

	articleAfter, err := os.ReadFile(filepath.Join(f.files.Root(), "types", "article.json"))
	require.NoError(t, err)
	assert.Equal(t, articleBefore, articleAfter)
}

func TestRegenerateConfig_NoDriftRestoresCanonicalBytes(t *testing.T) {
	f := newFixture(t, defaultFiles(), defaultRules)
	ctx := context.Background()
	require.NoError(t, f.coord.RegenerateSnapshot(ctx))
	require.NoError(t, f.coord.RegenerateConfig(ctx))

	canonical, err := os.ReadFile(filepath.Join(f.files.Root(), "system.json"))
	require.NoError(t, err)

	// Hand-compact the file. Same data, different bytes.
	writeFragment(t, f.files.Root(), "system.json",
		`{"debug":true,"site":{"name":"confsync-dev"}}`)

	require.NoError(t, f.coord.RegenerateConfig(ctx))

	restored, err := os.ReadFile(filepath.Join(f.files.Root(), "system.json"))
	require.NoError(t, err)
	assert.Equal(t, string(canonical), string(restored))

	// Neither run had ops to fold in, so the version never moved.
	snap, err := f.snaps.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
}

func TestRegenerate_RestartConverges(t *testing.T) {
	f := newFixture(t, defaultFiles(), defaultRules)
	ctx := context.Background()
	require.NoError(t, f.coord.RegenerateSnapshot(ctx))

	require.NoError(t, f.live.Set("system.site.name", "prod"))
	require.NoError(t, f.live.Set("content.types.page.kind", "document"))
	require.NoError(t, f.live.Remove("system.debug"))
	require.NoError(t, f.coord.RegenerateConfig(ctx))

	// A fresh process seeds its live state from the stored snapshot and
	// then reconciles against whatever it finds on disk.
	restarted := livestate.New()
	snap, err := f.snaps.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, restarted.Replace(snap.Tree))

	coord, err := New(f.files, f.snaps, restarted, defaultRules)
	require.NoError(t, err)
	require.NoError(t, coord.RegenerateSnapshot(ctx))

	assert.Empty(t, diff.Diff(f.live.CurrentTree(), restarted.CurrentTree()))

	// The files matched the snapshot, so reconciling bumped nothing.
	snap, err = f.snaps.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
}

func TestRegenerate_RecordsMetrics(t *testing.T) {
	m := metric.NewMetrics()
	f := newFixture(t, defaultFiles(), defaultRules, WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, f.coord.RegenerateSnapshot(ctx))

	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.RegenOperations.WithLabelValues("snapshot", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SnapshotVersion))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.RegenOpsApplied.WithLabelValues("snapshot")))

	denied := GateFunc(func(context.Context) error { return errors.ErrUnauthorized })
	gated, err := New(f.files, f.snaps, f.live, defaultRules, WithGate(denied), WithMetrics(m))
	require.NoError(t, err)
	require.Error(t, gated.RegenerateSnapshot(ctx))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.RegenOperations.WithLabelValues("snapshot", "denied")))
}
