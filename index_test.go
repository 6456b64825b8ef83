package gribidx

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndexMapping() *Mapping {
	built := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Mapping{
		SourceURI: "gfs.old.f006",
		Entries: []MappingEntry{
			{
				Ordinal: 1, Date: "d=2024010100", Attrs: "UGRD:10 m above ground",
				VarName: "UGRD", Name: "U component of wind",
				LevelType: "heightAboveGround", StepType: "instant", Level: 10,
				Time: built, Step: 6 * time.Hour, ValidTime: built.Add(6 * time.Hour),
				Offset: 0, Length: 100,
			},
			{
				Ordinal: 2, Date: "d=2024010100", Attrs: "VGRD:10 m above ground",
				VarName: "VGRD", Name: "V component of wind",
				LevelType: "heightAboveGround", StepType: "instant", Level: 10,
				Time: built, Step: 6 * time.Hour, ValidTime: built.Add(6 * time.Hour),
				Offset: 100, Length: 150,
			},
		},
	}
}

func newRunRecords() []OffsetRecord {
	return []OffsetRecord{
		{Ordinal: 1, Offset: 0, Length: 120, Date: "d=2024030112", Attrs: "UGRD:10 m above ground",
			URI: "gfs.new.f006", IdxURI: "gfs.new.f006.idx"},
		{Ordinal: 2, Offset: 120, Length: 180, Date: "d=2024030112", Attrs: "VGRD:10 m above ground",
			URI: "gfs.new.f006", IdxURI: "gfs.new.f006.idx"},
	}
}

func TestMapFromIndex(t *testing.T) {
	t.Parallel()

	runTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows, err := MapFromIndex(runTime, testIndexMapping(), newRunRecords())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	ugrd := rows[0]
	assert.Equal(t, "UGRD", ugrd.VarName)
	assert.Equal(t, "U component of wind", ugrd.Name)
	assert.Equal(t, "heightAboveGround", ugrd.LevelType)
	assert.Equal(t, "instant", ugrd.StepType)
	assert.Equal(t, float64(10), ugrd.Level)

	// Offsets, lengths, and the URI come from the sidecar side.
	assert.Equal(t, "gfs.new.f006", ugrd.URI)
	assert.Equal(t, int64(0), ugrd.Offset)
	assert.Equal(t, int64(120), ugrd.Length)

	// Times are recomputed from the supplied run time.
	assert.Equal(t, runTime, ugrd.Time)
	assert.Equal(t, runTime.Add(6*time.Hour), ugrd.ValidTime)
	assert.Nil(t, ugrd.Inline)

	vgrd := rows[1]
	assert.Equal(t, "VGRD", vgrd.VarName)
	assert.Equal(t, int64(120), vgrd.Offset)
	assert.Equal(t, int64(180), vgrd.Length)
}

func TestMapFromIndexIdempotent(t *testing.T) {
	t.Parallel()

	runTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mapping := testIndexMapping()
	records := newRunRecords()

	a, err := MapFromIndex(runTime, mapping, records)
	require.NoError(t, err)
	b, err := MapFromIndex(runTime, mapping, records)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMapFromIndexRoundTrip(t *testing.T) {
	t.Parallel()

	// Index the very file the mapping was built from.
	src, dec := twoMessageFixture()
	mapping, err := BuildMapping("gfs.f006",
		MappingWithSource(src),
		MappingWithDecoder(dec),
	)
	require.NoError(t, err)

	records, err := ParseIdx("gfs.f006", ParseWithSource(src))
	require.NoError(t, err)

	rows, err := MapFromIndex(mappingRunTime, mapping, records)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "gfs.f006", rows[0].URI)
	assert.Equal(t, int64(0), rows[0].Offset)
	assert.Equal(t, int64(100), rows[0].Length)
	assert.Equal(t, int64(100), rows[1].Offset)
	assert.Equal(t, int64(150), rows[1].Length)
	assert.Equal(t, mappingRunTime, rows[0].Time)
	assert.Equal(t, mappingRunTime.Add(6*time.Hour), rows[0].ValidTime)
}

func TestMapFromIndexAmbiguousRecords(t *testing.T) {
	t.Parallel()

	records := newRunRecords()
	records[1].Attrs = records[0].Attrs

	_, err := MapFromIndex(time.Now(), testIndexMapping(), records)
	assert.ErrorIs(t, err, ErrAmbiguousKey)
}

func TestMapFromIndexDropsUnknownMessages(t *testing.T) {
	t.Parallel()

	records := append(newRunRecords(), OffsetRecord{
		Ordinal: 3, Offset: 300, Length: 50, Date: "d=2024030112",
		Attrs: "TMP:2 m above ground", URI: "gfs.new.f006",
	})

	capture := &captureHandler{}
	runTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows, err := MapFromIndex(runTime, testIndexMapping(), records,
		MapWithLogger(slog.New(capture)),
	)
	require.NoError(t, err)
	assert.Len(t, rows, 2, "records unknown to the mapping are dropped")
	assert.Equal(t, 1, capture.count("dropping rows with no varname"))
}

func TestMapFromIndexRawMerged(t *testing.T) {
	t.Parallel()

	records := append(newRunRecords(), OffsetRecord{
		Ordinal: 3, Offset: 300, Length: 50, Date: "d=2024030112",
		Attrs: "TMP:2 m above ground", URI: "gfs.new.f006",
	})

	runTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows, err := MapFromIndex(runTime, testIndexMapping(), records, MapWithRawMerged())
	require.NoError(t, err)
	require.Len(t, rows, 3, "the raw merge keeps unmatched rows")
	assert.Equal(t, "", rows[2].VarName)

	// The raw merge also leaves the mapping's times untouched.
	built := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, built, rows[0].Time)
	assert.Equal(t, built.Add(6*time.Hour), rows[0].ValidTime)
}
