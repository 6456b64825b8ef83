package gribidx

import (
	"fmt"
	"io"
)

// FetchChunk reads the raw bytes of one indexed message through the source.
//
// Inline values are returned directly. Sources implementing [RangeReader]
// are read with a single range request; otherwise the file is streamed and
// the preceding bytes discarded.
func FetchChunk(src Source, row IndexRow) ([]byte, error) {
	if len(row.Inline) > 0 {
		out := make([]byte, len(row.Inline))
		copy(out, row.Inline)
		return out, nil
	}
	if row.URI == "" {
		return nil, fmt.Errorf("gribidx: index row for %q has no uri", row.Attrs)
	}
	if row.Offset < 0 || row.Length < 0 {
		return nil, fmt.Errorf("gribidx: index row for %q has invalid range %d+%d", row.Attrs, row.Offset, row.Length)
	}

	if rr, ok := src.(RangeReader); ok {
		rc, err := rr.ReadRange(row.URI, row.Offset, row.Length)
		if err != nil {
			return nil, fmt.Errorf("gribidx: range read %s: %w", row.URI, err)
		}
		defer rc.Close()
		data := make([]byte, row.Length)
		if _, err := io.ReadFull(rc, data); err != nil {
			return nil, fmt.Errorf("gribidx: range read %s: %w", row.URI, err)
		}
		return data, nil
	}

	rc, err := src.Open(row.URI)
	if err != nil {
		return nil, fmt.Errorf("gribidx: opening %s: %w", row.URI, err)
	}
	defer rc.Close()
	if _, err := io.CopyN(io.Discard, rc, row.Offset); err != nil {
		return nil, fmt.Errorf("gribidx: seeking %s to %d: %w", row.URI, row.Offset, err)
	}
	data := make([]byte, row.Length)
	if _, err := io.ReadFull(rc, data); err != nil {
		return nil, fmt.Errorf("gribidx: reading %s: %w", row.URI, err)
	}
	return data, nil
}
