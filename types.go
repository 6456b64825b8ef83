package gribidx

import (
	"time"

	"github.com/meigma/gribidx/refstore"
)

// Re-export refstore types used in public signatures.
type (
	// Scalar is one resolved coordinate value.
	Scalar = refstore.Scalar

	// ChunkRow is one addressable chunk of a variable with its resolved
	// coordinate values and location.
	ChunkRow = refstore.ChunkRow
)

// JoinKey is the attribute-string segment of a sidecar line, used as a
// best-effort join key between sidecar records and decoded metadata.
//
// It is a coincidental surrogate key, not a designed identifier: uniqueness
// within a file or mapping is a precondition checked at every keyed join,
// never assumed. The per-run date segment is deliberately excluded so a key
// built from one forecast run matches the same message slot in any other
// run of the horizon.
type JoinKey string

// OffsetRecord is one parsed sidecar line: the byte extent of a message and
// its textual descriptor. Ordinals are 1-based and dense within a file.
type OffsetRecord struct {
	Ordinal int
	Offset  int64
	Length  int64
	Date    string
	Attrs   JoinKey
	URI     string
	IdxURI  string
}

// MappingEntry is one row of a horizon mapping: a sidecar record joined to
// the metadata of the message it described in the representative file.
// VarName is empty when the message could not be decoded; such rows carry
// sidecar data only.
//
// Offset and Length are the decoder-side values, kept for diagnostics; they
// are file-specific and never copied into a materialized index.
type MappingEntry struct {
	Ordinal   int           `json:"ordinal"`
	Date      string        `json:"date"`
	Attrs     JoinKey       `json:"attrs"`
	VarName   string        `json:"varname,omitempty"`
	Name      string        `json:"name,omitempty"`
	LevelType string        `json:"level_type,omitempty"`
	StepType  string        `json:"step_type,omitempty"`
	Level     float64       `json:"level,omitempty"`
	Time      time.Time     `json:"time,omitzero"`
	Step      time.Duration `json:"step,omitempty"`
	ValidTime time.Time     `json:"valid_time,omitzero"`
	Offset    int64         `json:"offset"`
	Length    int64         `json:"length"`
	Inline    []byte        `json:"inline_value,omitempty"`
}

// HasMetadata reports whether the entry carries decoded message metadata.
func (e *MappingEntry) HasMetadata() bool {
	return e.VarName != ""
}

// IndexRow is one row of a materialized per-file index: everything a
// byte-range reader needs to fetch one variable at one level and step.
type IndexRow struct {
	Attrs     JoinKey       `json:"attrs"`
	VarName   string        `json:"varname"`
	Name      string        `json:"name,omitempty"`
	LevelType string        `json:"level_type"`
	StepType  string        `json:"step_type"`
	Level     float64       `json:"level"`
	Step      time.Duration `json:"step"`
	Time      time.Time     `json:"time"`
	ValidTime time.Time     `json:"valid_time"`
	URI       string        `json:"uri"`
	Offset    int64         `json:"offset"`
	Length    int64         `json:"length"`
	Inline    []byte        `json:"inline_value,omitempty"`
}
