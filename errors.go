package gribidx

import (
	"errors"

	"github.com/meigma/gribidx/refstore"
)

// Errors re-exported from refstore.
var (
	// ErrChunking is returned when a dimension's chunk size is neither one
	// element nor the whole dimension.
	ErrChunking = refstore.ErrChunking

	// ErrBadChunkRef is returned when a chunk reference is neither a
	// 3-element [uri, offset, length] sequence nor an inline scalar.
	ErrBadChunkRef = refstore.ErrBadChunkRef
)

// Sentinel errors specific to the gribidx package.
var (
	// ErrBadSidecar is returned when a sidecar line cannot be parsed or the
	// ordinals are not dense from one.
	ErrBadSidecar = errors.New("gribidx: malformed sidecar")

	// ErrAmbiguousKey is returned when attribute strings are not unique
	// where uniqueness is required for joining.
	ErrAmbiguousKey = errors.New("gribidx: attribute strings are not unique")

	// ErrOffsetMismatch is returned when sidecar and decoded-message
	// offsets or lengths disagree while building a mapping.
	ErrOffsetMismatch = errors.New("gribidx: sidecar and decoded offsets disagree")

	// ErrMultiplicity is returned when decoding a single message yields a
	// number of metadata rows other than one while building a mapping.
	ErrMultiplicity = errors.New("gribidx: message did not yield exactly one metadata row")
)
