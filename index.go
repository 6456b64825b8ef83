package gribidx

import (
	"fmt"
	"log/slog"
	"time"
)

// MapOption configures MapFromIndex.
type MapOption func(*mapConfig)

type mapConfig struct {
	rawMerged bool
	logger    *slog.Logger
}

func (c *mapConfig) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// MapWithRawMerged returns the raw merged rows without the run-time fixup or
// unmatched-row drops. Debugging aid.
func MapWithRawMerged() MapOption {
	return func(c *mapConfig) {
		c.rawMerged = true
	}
}

// MapWithLogger sets the logger used to report dropped rows.
func MapWithLogger(logger *slog.Logger) MapOption {
	return func(c *mapConfig) {
		c.logger = logger
	}
}

// MapFromIndex materializes the per-file index for a new file of the
// mapping's horizon, without re-decoding any binary payload.
//
// Both the mapping and the offset records are re-keyed on attribute string
// and must be unique on that key. Offsets, lengths, and the URI come from
// the sidecar side (the file actually being indexed); variable identity,
// level, and step come from the mapping, with Time set to runTime and
// ValidTime recomputed as runTime plus the mapping's step. Sidecar records
// with no decoded variable in the mapping are dropped and the drop count is
// reported through the logger.
func MapFromIndex(runTime time.Time, mapping *Mapping, records []OffsetRecord, opts ...MapOption) ([]IndexRow, error) {
	cfg := mapConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	keyed, err := mapping.byAttrs()
	if err != nil {
		return nil, err
	}

	seen := make(map[JoinKey]bool, len(records))
	for _, rec := range records {
		if seen[rec.Attrs] {
			return nil, fmt.Errorf("%w: parsed idx data for %s duplicates %q", ErrAmbiguousKey, rec.URI, rec.Attrs)
		}
		seen[rec.Attrs] = true
	}

	rows := make([]IndexRow, 0, len(records))
	dropped := 0
	for _, rec := range records {
		entry, ok := keyed[rec.Attrs]

		row := IndexRow{
			Attrs:  rec.Attrs,
			URI:    rec.URI,
			Offset: rec.Offset,
			Length: rec.Length,
		}
		if ok {
			row.VarName = entry.VarName
			row.Name = entry.Name
			row.LevelType = entry.LevelType
			row.StepType = entry.StepType
			row.Level = entry.Level
			row.Step = entry.Step
			row.Time = entry.Time
			row.ValidTime = entry.ValidTime
			row.Inline = entry.Inline
		}

		if cfg.rawMerged {
			rows = append(rows, row)
			continue
		}

		if row.VarName == "" {
			// Present in the sidecar but absent from the horizon's known
			// structure.
			dropped++
			continue
		}
		row.Inline = nil
		row.Time = runTime
		row.ValidTime = runTime.Add(row.Step)
		rows = append(rows, row)
	}

	if !cfg.rawMerged && dropped > 0 {
		cfg.log().Info("dropping rows with no varname", "count", dropped)
	}
	return rows, nil
}
