package refstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// reservedCoords are coordinate names kept distinct in grib mode. Every
// other coordinate folds into a single logical "level" axis, since a grib
// message exposes exactly one level coordinate.
var reservedCoords = map[string]bool{
	"valid_time": true,
	"time":       true,
	"step":       true,
	"latitude":   true,
	"longitude":  true,
}

// ChunkRow is one addressable chunk of a variable with its resolved
// coordinate values and location. Exactly one of (URI, Offset, Length) and
// Inline is meaningful.
type ChunkRow struct {
	VarName string
	Attrs   map[string]string
	Coords  map[string]Scalar
	URI     string
	Offset  int64
	Length  int64
	Inline  []byte
}

// ExtractOption configures chunk index extraction.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	grib   bool
	logger *slog.Logger
}

// WithGribCoords folds non-reserved coordinate names into "level" and keeps
// time-like coordinates distinct.
func WithGribCoords(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.grib = enabled
	}
}

// WithLogger sets the logger used for skip warnings.
func WithLogger(logger *slog.Logger) ExtractOption {
	return func(c *extractConfig) {
		c.logger = logger
	}
}

func (c *extractConfig) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// ExtractTree walks every group of the tree and expands each data variable
// into one ChunkRow per addressable chunk.
func ExtractTree(t *Tree, opts ...ExtractOption) ([]ChunkRow, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var rows []ChunkRow
	var walkErr error
	t.Root.walk(func(n *Node) {
		if walkErr != nil || len(n.Vars) == 0 {
			return
		}
		nodeRows, err := extractNode(n, t.Refs, &cfg)
		if err != nil {
			walkErr = err
			return
		}
		rows = append(rows, nodeRows...)
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return rows, nil
}

// ExtractNode expands the data variables of a single group.
func ExtractNode(n *Node, refs map[string]any, opts ...ExtractOption) ([]ChunkRow, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return extractNode(n, refs, &cfg)
}

func extractNode(n *Node, refs map[string]any, cfg *extractConfig) ([]ChunkRow, error) {
	attrs := n.InheritedAttrs()
	path := n.Path()

	var rows []ChunkRow
	for _, v := range n.Vars {
		chunks, err := chunkShape(path, v, refs)
		if err != nil {
			return nil, err
		}

		// Classify each dimension: singleton chunks are enumerated, whole-
		// dimension chunks are dropped from the index, anything else cannot
		// yield one coordinate value per chunk.
		var indexDims []string
		var indexSizes []int
		for i, dim := range v.Dims {
			switch {
			case chunks[i] == 1:
				indexDims = append(indexDims, dim)
				indexSizes = append(indexSizes, v.Shape[i])
			case chunks[i] == v.Shape[i]:
				// whole dimension, nothing to enumerate
			default:
				return nil, fmt.Errorf("%w: %s/%s dimension %s has chunk size %d of %d",
					ErrChunking, path, v.Name, dim, chunks[i], v.Shape[i])
			}
		}
		wholeDims := len(v.Dims) - len(indexDims)

		for idx := range cartesian(indexSizes) {
			dimIdx := make(map[string]int, len(indexDims))
			for i, dim := range indexDims {
				dimIdx[dim] = idx[i]
			}

			coords, err := resolveCoords(n, path, v.Name, dimIdx, cfg)
			if err != nil {
				return nil, err
			}

			key := chunkKey(path, v.Name, idx, wholeDims)
			ref, ok := refs[key]
			if !ok {
				cfg.log().Warn("chunk not found", "key", key)
				continue
			}

			row, err := parseChunkRef(key, ref)
			if err != nil {
				return nil, err
			}
			row.VarName = v.Name
			row.Attrs = attrs
			row.Coords = coords
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// chunkShape reads the chunk sizes for a variable from its ".zarray" entry.
func chunkShape(path string, v *Variable, refs map[string]any) ([]int, error) {
	key := BuildPath([]string{path, v.Name}, ".zarray")
	raw, ok := refs[key]
	if !ok {
		return nil, fmt.Errorf("gribidx: missing array metadata %s", key)
	}

	var data []byte
	switch val := raw.(type) {
	case string:
		data = []byte(val)
	case []byte:
		data = val
	default:
		return nil, fmt.Errorf("gribidx: array metadata %s is not JSON text", key)
	}

	var meta struct {
		Chunks []int `json:"chunks"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("gribidx: decoding array metadata %s: %w", key, err)
	}
	if len(meta.Chunks) != len(v.Dims) {
		return nil, fmt.Errorf("gribidx: array metadata %s has %d chunk dims, variable has %d",
			key, len(meta.Chunks), len(v.Dims))
	}
	return meta.Chunks, nil
}

// resolveCoords resolves one scalar value per coordinate for the chunk at
// dimIdx. A coordinate whose dims are not all enumerable is skipped; a
// coordinate with no dims resolves to its constant.
func resolveCoords(n *Node, path, varName string, dimIdx map[string]int, cfg *extractConfig) (map[string]Scalar, error) {
	coords := make(map[string]Scalar)
	for _, c := range n.Coords {
		name := c.Name
		if cfg.grib && !reservedCoords[name] {
			name = "level"
		}

		covered := true
		for _, dim := range c.Dims {
			if _, ok := dimIdx[dim]; !ok {
				covered = false
				break
			}
		}
		if !covered {
			continue
		}

		flat := 0
		for i, dim := range c.Dims {
			flat = flat*c.Shape[i] + dimIdx[dim]
		}
		val, err := c.At(flat)
		if err != nil {
			return nil, fmt.Errorf("gribidx: reading coord %s for %s/%s: %w", c.Name, path, varName, err)
		}
		coords[name] = val
	}
	return coords, nil
}

// chunkKey builds the storage key for a chunk, padding the index tuple with
// zeros for whole dimensions.
func chunkKey(path, varName string, idx []int, wholeDims int) string {
	parts := make([]string, 0, len(idx)+wholeDims)
	for _, i := range idx {
		parts = append(parts, fmt.Sprintf("%d", i))
	}
	for range wholeDims {
		parts = append(parts, "0")
	}
	suffix := ""
	for i, p := range parts {
		if i > 0 {
			suffix += "."
		}
		suffix += p
	}
	return BuildPath([]string{path, varName}, suffix)
}

// parseChunkRef interprets a raw store value as either an out-of-line
// [uri, offset, length] triple or an inline scalar.
func parseChunkRef(key string, ref any) (ChunkRow, error) {
	switch val := ref.(type) {
	case []any:
		if len(val) != 3 {
			return ChunkRow{}, fmt.Errorf("%w: key %s has %d elements, want 3", ErrBadChunkRef, key, len(val))
		}
		uri, ok := val[0].(string)
		if !ok {
			return ChunkRow{}, fmt.Errorf("%w: key %s has non-string uri", ErrBadChunkRef, key)
		}
		offset, err := asInt64(val[1])
		if err != nil {
			return ChunkRow{}, fmt.Errorf("%w: key %s offset: %v", ErrBadChunkRef, key, err)
		}
		length, err := asInt64(val[2])
		if err != nil {
			return ChunkRow{}, fmt.Errorf("%w: key %s length: %v", ErrBadChunkRef, key, err)
		}
		return ChunkRow{URI: uri, Offset: offset, Length: length}, nil
	case string:
		return ChunkRow{Offset: -1, Length: -1, Inline: []byte(val)}, nil
	case []byte:
		return ChunkRow{Offset: -1, Length: -1, Inline: val}, nil
	default:
		return ChunkRow{}, fmt.Errorf("%w: key %s has bad value %v", ErrBadChunkRef, key, ref)
	}
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// cartesian yields every index tuple over the given sizes. An empty size
// list yields a single empty tuple, so variables without enumerable
// dimensions still produce one chunk.
func cartesian(sizes []int) func(yield func([]int) bool) {
	return func(yield func([]int) bool) {
		for _, n := range sizes {
			if n <= 0 {
				return
			}
		}
		idx := make([]int, len(sizes))
		for {
			out := make([]int, len(idx))
			copy(out, idx)
			if !yield(out) {
				return
			}
			pos := len(sizes) - 1
			for pos >= 0 {
				idx[pos]++
				if idx[pos] < sizes[pos] {
					break
				}
				idx[pos] = 0
				pos--
			}
			if pos < 0 {
				return
			}
		}
	}
}
