package gribidx

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/gribidx/refstore"
)

// msgSpec describes one fake decoded message.
type msgSpec struct {
	varName   string
	levelType string
	stepType  string
	level     float64
	refTime   time.Time
	step      time.Duration
	offset    int64
	length    int64
	empty     bool
	extraVar  string // second variable in the same message, for multiplicity tests
}

// fakeDecoder produces one-message trees from specs, in order.
type fakeDecoder struct {
	specs []msgSpec
}

func (d *fakeDecoder) Messages(uri string) ([]*refstore.Tree, error) {
	trees := make([]*refstore.Tree, 0, len(d.specs))
	for _, spec := range d.specs {
		if spec.empty {
			trees = append(trees, refstore.NewTree())
			continue
		}
		tree := refstore.NewTree()
		addFakeMessage(tree, uri, spec.varName, spec)
		if spec.extraVar != "" {
			addFakeMessage(tree, uri, spec.extraVar, spec)
		}
		trees = append(trees, tree)
	}
	return trees, nil
}

func addFakeMessage(tree *refstore.Tree, uri, varName string, spec msgSpec) {
	byName := tree.Root.AddGroup(varName, map[string]string{"name": varName + " long"})
	byStep := byName.AddGroup(spec.stepType, map[string]string{"stepType": spec.stepType})
	leaf := byStep.AddGroup(spec.levelType, map[string]string{"typeOfLevel": spec.levelType})
	leaf.Vars = []*refstore.Variable{{Name: varName, Dims: []string{"latitude", "longitude"}, Shape: []int{2, 3}}}
	leaf.Coords = []*refstore.Coord{
		{Name: "time", Times: []time.Time{spec.refTime}},
		{Name: "step", Durations: []time.Duration{spec.step}},
		{Name: "valid_time", Times: []time.Time{spec.refTime.Add(spec.step)}},
		{Name: spec.levelType, Floats: []float64{spec.level}},
		{Name: "latitude", Dims: []string{"latitude"}, Shape: []int{2}},
		{Name: "longitude", Dims: []string{"longitude"}, Shape: []int{3}},
	}
	path := leaf.Path()
	tree.Refs[refstore.BuildPath([]string{path, varName}, ".zarray")] = `{"shape":[2,3],"chunks":[2,3]}`
	tree.Refs[refstore.BuildPath([]string{path, varName}, "0.0")] = []any{uri, spec.offset, spec.length}
}

var mappingRunTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// twoMessageFixture returns a source and decoder agreeing on two messages.
func twoMessageFixture() (memSource, *fakeDecoder) {
	src := memSource{
		"gfs.f006":     make([]byte, 250),
		"gfs.f006.idx": []byte("1:0:d=2024010100:UGRD:10 m above ground\n2:100:d=2024010100:VGRD:10 m above ground\n"),
	}
	dec := &fakeDecoder{specs: []msgSpec{
		{varName: "UGRD", levelType: "heightAboveGround", stepType: "instant", level: 10,
			refTime: mappingRunTime, step: 6 * time.Hour, offset: 0, length: 100},
		{varName: "VGRD", levelType: "heightAboveGround", stepType: "instant", level: 10,
			refTime: mappingRunTime, step: 6 * time.Hour, offset: 100, length: 150},
	}}
	return src, dec
}

func TestBuildMapping(t *testing.T) {
	t.Parallel()

	src, dec := twoMessageFixture()
	mapping, err := BuildMapping("gfs.f006",
		MappingWithSource(src),
		MappingWithDecoder(dec),
	)
	require.NoError(t, err)
	require.Len(t, mapping.Entries, 2)
	assert.Equal(t, "gfs.f006", mapping.SourceURI)
	assert.NotEmpty(t, mapping.Horizon)

	first := mapping.Entries[0]
	assert.Equal(t, 1, first.Ordinal)
	assert.Equal(t, JoinKey("UGRD:10 m above ground"), first.Attrs)
	assert.Equal(t, "UGRD", first.VarName)
	assert.Equal(t, "heightAboveGround", first.LevelType)
	assert.Equal(t, "instant", first.StepType)
	assert.Equal(t, float64(10), first.Level)
	assert.Equal(t, 6*time.Hour, first.Step)
	assert.Equal(t, mappingRunTime, first.Time)
	assert.Equal(t, mappingRunTime.Add(6*time.Hour), first.ValidTime)
	assert.Equal(t, int64(0), first.Offset)
	assert.Equal(t, int64(100), first.Length)

	second := mapping.Entries[1]
	assert.Equal(t, "VGRD", second.VarName)
	assert.Equal(t, int64(100), second.Offset)
	assert.Equal(t, int64(150), second.Length)
}

func TestBuildMappingDeterministic(t *testing.T) {
	t.Parallel()

	src, dec := twoMessageFixture()
	a, err := BuildMapping("gfs.f006", MappingWithSource(src), MappingWithDecoder(dec))
	require.NoError(t, err)
	b, err := BuildMapping("gfs.f006", MappingWithSource(src), MappingWithDecoder(dec))
	require.NoError(t, err)

	assert.Equal(t, a.Entries, b.Entries)
	assert.Equal(t, a.Horizon, b.Horizon)
}

func TestBuildMappingRequiresDecoder(t *testing.T) {
	t.Parallel()

	src, _ := twoMessageFixture()
	_, err := BuildMapping("gfs.f006", MappingWithSource(src))
	assert.Error(t, err)
}

func TestBuildMappingOffsetMismatch(t *testing.T) {
	t.Parallel()

	src, dec := twoMessageFixture()
	dec.specs[1].offset = 111 // decoder disagrees with the sidecar

	_, err := BuildMapping("gfs.f006", MappingWithSource(src), MappingWithDecoder(dec))
	require.ErrorIs(t, err, ErrOffsetMismatch)
	assert.Contains(t, err.Error(), "1 matched, 1 mismatched")

	// Without validation the mismatch passes through.
	mapping, err := BuildMapping("gfs.f006",
		MappingWithSource(src),
		MappingWithDecoder(dec),
		MappingWithValidate(false),
	)
	require.NoError(t, err)
	assert.Len(t, mapping.Entries, 2)
}

func TestBuildMappingMultiplicity(t *testing.T) {
	t.Parallel()

	src, dec := twoMessageFixture()
	dec.specs[0].extraVar = "TMP"

	_, err := BuildMapping("gfs.f006", MappingWithSource(src), MappingWithDecoder(dec))
	require.ErrorIs(t, err, ErrMultiplicity)
	assert.Contains(t, err.Error(), "2 rows")
}

func TestBuildMappingEmptyMessage(t *testing.T) {
	t.Parallel()

	src, dec := twoMessageFixture()
	dec.specs[0].empty = true

	capture := &captureHandler{}
	mapping, err := BuildMapping("gfs.f006",
		MappingWithSource(src),
		MappingWithDecoder(dec),
		MappingWithValidate(false),
		MappingWithLogger(slog.New(capture)),
	)
	require.NoError(t, err)
	require.Len(t, mapping.Entries, 2, "sidecar is authoritative for which ordinals exist")

	assert.False(t, mapping.Entries[0].HasMetadata())
	assert.Equal(t, JoinKey("UGRD:10 m above ground"), mapping.Entries[0].Attrs)
	assert.True(t, mapping.Entries[1].HasMetadata())
	assert.Equal(t, 1, capture.count("empty message store"))
}

func TestBuildMappingDuplicateWarnings(t *testing.T) {
	t.Parallel()

	src := memSource{
		"f":     make([]byte, 200),
		"f.idx": []byte("1:0:d=x:UGRD:10 m above ground\n2:100:d=x:UGRD:10 m above ground\n"),
	}
	spec := msgSpec{varName: "UGRD", levelType: "heightAboveGround", stepType: "instant", level: 10,
		refTime: mappingRunTime, step: 6 * time.Hour, offset: 0, length: 100}
	dup := spec
	dup.offset, dup.length = 100, 100
	dec := &fakeDecoder{specs: []msgSpec{spec, dup}}

	capture := &captureHandler{}
	mapping, err := BuildMapping("f",
		MappingWithSource(src),
		MappingWithDecoder(dec),
		MappingWithLogger(slog.New(capture)),
	)
	require.NoError(t, err, "duplicate keys warn, they do not fail the build")
	assert.Len(t, mapping.Entries, 2)
	assert.Equal(t, 1, capture.count("idx attribute mapping is not unique"))
	assert.Equal(t, 1, capture.count("grib hierarchy is not unique"))
}

func TestHorizonDigestIgnoresFileSpecifics(t *testing.T) {
	t.Parallel()

	srcA, decA := twoMessageFixture()
	a, err := BuildMapping("gfs.f006", MappingWithSource(srcA), MappingWithDecoder(decA))
	require.NoError(t, err)

	// Same structure, different run date, offsets, and file size.
	srcB := memSource{
		"other.f006":     make([]byte, 999),
		"other.f006.idx": []byte("1:0:d=2024020212:UGRD:10 m above ground\n2:333:d=2024020212:VGRD:10 m above ground\n"),
	}
	otherRun := time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC)
	decB := &fakeDecoder{specs: []msgSpec{
		{varName: "UGRD", levelType: "heightAboveGround", stepType: "instant", level: 10,
			refTime: otherRun, step: 6 * time.Hour, offset: 0, length: 333},
		{varName: "VGRD", levelType: "heightAboveGround", stepType: "instant", level: 10,
			refTime: otherRun, step: 6 * time.Hour, offset: 333, length: 666},
	}}
	b, err := BuildMapping("other.f006", MappingWithSource(srcB), MappingWithDecoder(decB))
	require.NoError(t, err)

	assert.Equal(t, a.Horizon, b.Horizon, "same horizon layout must fingerprint identically")

	// A structural change must move the fingerprint.
	decB.specs[1].level = 80
	c, err := BuildMapping("other.f006", MappingWithSource(srcB), MappingWithDecoder(decB))
	require.NoError(t, err)
	assert.NotEqual(t, a.Horizon, c.Horizon)
}

func TestSaveLoadMapping(t *testing.T) {
	t.Parallel()

	src, dec := twoMessageFixture()
	mapping, err := BuildMapping("gfs.f006", MappingWithSource(src), MappingWithDecoder(dec))
	require.NoError(t, err)

	for _, name := range []string{"mapping.json", "mapping.json.zst"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, SaveMapping(mapping, path))

			loaded, err := LoadMapping(path)
			require.NoError(t, err)
			assert.Equal(t, mapping.SourceURI, loaded.SourceURI)
			assert.Equal(t, mapping.Horizon, loaded.Horizon)
			assert.Equal(t, mapping.Entries, loaded.Entries)
		})
	}
}

func TestMappingByAttrsUnique(t *testing.T) {
	t.Parallel()

	m := &Mapping{
		SourceURI: "f",
		Entries: []MappingEntry{
			{Ordinal: 1, Attrs: "A:sfc", VarName: "A"},
			{Ordinal: 2, Attrs: "A:sfc", VarName: "B"},
		},
	}
	_, err := MapFromIndex(mappingRunTime, m, []OffsetRecord{{Ordinal: 1, Attrs: "A:sfc", URI: "f"}})
	assert.ErrorIs(t, err, ErrAmbiguousKey)
}

func BenchmarkBuildMapping(b *testing.B) {
	var sidecar []byte
	specs := make([]msgSpec, 0, 200)
	for i := range 200 {
		sidecar = append(sidecar, fmt.Appendf(nil, "%d:%d:d=x:VAR%d:level %d\n", i+1, i*100, i, i)...)
		specs = append(specs, msgSpec{
			varName: fmt.Sprintf("VAR%d", i), levelType: "isobaricInhPa", stepType: "instant",
			level: float64(i), refTime: mappingRunTime, step: time.Hour,
			offset: int64(i * 100), length: 100,
		})
	}
	src := memSource{"f": make([]byte, 200*100), "f.idx": sidecar}
	dec := &fakeDecoder{specs: specs}

	b.ResetTimer()
	for b.Loop() {
		if _, err := BuildMapping("f", MappingWithSource(src), MappingWithDecoder(dec)); err != nil {
			b.Fatal(err)
		}
	}
}
