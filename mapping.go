package gribidx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/gribidx/refstore"
)

// Decoder turns a binary archive file into one hierarchical reference store
// per message, in stable physical message order. The grib subpackage
// provides the default implementation; any decoder honoring the ordering
// contract is substitutable.
type Decoder interface {
	Messages(uri string) ([]*refstore.Tree, error)
}

// Mapping is the horizon-level join of sidecar records and decoded message
// metadata, keyed by attribute string. It is built once per horizon from a
// representative file and reused to index any file sharing that layout.
//
// Horizon fingerprints the variable/level/step structure: two mappings with
// equal Horizon digests index interchangeably, and a changed digest means
// cached mappings for the horizon are stale.
type Mapping struct {
	SourceURI string         `json:"source_uri"`
	Horizon   digest.Digest  `json:"horizon"`
	Entries   []MappingEntry `json:"entries"`
}

// MappingOption configures BuildMapping.
type MappingOption func(*mappingConfig)

type mappingConfig struct {
	suffix   string
	validate bool
	source   Source
	decoder  Decoder
	logger   *slog.Logger
}

func (c *mappingConfig) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// MappingWithSuffix sets the sidecar suffix (default "idx").
func MappingWithSuffix(suffix string) MappingOption {
	return func(c *mappingConfig) {
		c.suffix = suffix
	}
}

// MappingWithValidate controls offset cross-checking between the sidecar and
// the decoded messages (default true).
func MappingWithValidate(enabled bool) MappingOption {
	return func(c *mappingConfig) {
		c.validate = enabled
	}
}

// MappingWithSource sets the source used for the sidecar and size queries
// (default: local filesystem).
func MappingWithSource(src Source) MappingOption {
	return func(c *mappingConfig) {
		c.source = src
	}
}

// MappingWithDecoder sets the message decoder. Required.
func MappingWithDecoder(dec Decoder) MappingOption {
	return func(c *mappingConfig) {
		c.decoder = dec
	}
}

// MappingWithLogger sets the logger used for duplicate-key warnings.
func MappingWithLogger(logger *slog.Logger) MappingOption {
	return func(c *mappingConfig) {
		c.logger = logger
	}
}

// messageMeta is the decoded metadata of one message, scoped to a single
// mapping build.
type messageMeta struct {
	ordinal   int
	varName   string
	name      string
	levelType string
	stepType  string
	level     float64
	time      time.Time
	step      time.Duration
	validTime time.Time
	uri       string
	offset    int64
	length    int64
	inline    []byte
}

// BuildMapping decodes a representative archive file, joins the decoded
// metadata to its sidecar records by message ordinal, and returns the
// horizon mapping keyed by attribute string.
//
// The sidecar is authoritative for which ordinals exist: decoded messages
// without a sidecar record are dropped, and sidecar records without decoded
// metadata survive with sidecar data only.
func BuildMapping(uri string, opts ...MappingOption) (*Mapping, error) {
	cfg := mappingConfig{
		suffix:   DefaultIdxSuffix,
		validate: true,
		source:   FileSource{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.decoder == nil {
		return nil, fmt.Errorf("gribidx: building mapping for %s: no decoder configured", uri)
	}

	metas, err := extractMessageMetadata(cfg.decoder, uri, &cfg)
	if err != nil {
		return nil, err
	}

	records, err := ParseIdx(uri,
		ParseWithSuffix(cfg.suffix),
		ParseWithSource(cfg.source),
	)
	if err != nil {
		return nil, err
	}

	entries := make([]MappingEntry, 0, len(records))
	for _, rec := range records {
		entry := MappingEntry{
			Ordinal: rec.Ordinal,
			Date:    rec.Date,
			Attrs:   rec.Attrs,
			Offset:  rec.Offset,
			Length:  rec.Length,
		}
		if meta, ok := metas[rec.Ordinal]; ok {
			entry.VarName = meta.varName
			entry.Name = meta.name
			entry.LevelType = meta.levelType
			entry.StepType = meta.stepType
			entry.Level = meta.level
			entry.Time = meta.time
			entry.Step = meta.step
			entry.ValidTime = meta.validTime
			entry.Inline = meta.inline
		}
		entries = append(entries, entry)
	}

	if cfg.validate {
		if err := validateMapping(uri, entries, metas, &cfg); err != nil {
			return nil, err
		}
	}

	return &Mapping{
		SourceURI: uri,
		Horizon:   horizonDigest(entries),
		Entries:   entries,
	}, nil
}

// extractMessageMetadata decodes every message of the file and expands each
// one-message store into exactly one metadata row, keyed by 1-based ordinal.
// Empty messages are skipped with a warning but still consume an ordinal,
// keeping alignment with the sidecar's physical message order.
func extractMessageMetadata(dec Decoder, uri string, cfg *mappingConfig) (map[int]*messageMeta, error) {
	trees, err := dec.Messages(uri)
	if err != nil {
		return nil, fmt.Errorf("gribidx: decoding %s: %w", uri, err)
	}

	metas := make(map[int]*messageMeta, len(trees))
	for i, tree := range trees {
		ordinal := i + 1
		if tree.Empty() {
			cfg.log().Warn("empty message store", "uri", uri, "ordinal", ordinal)
			continue
		}

		rows, err := refstore.ExtractTree(tree,
			refstore.WithGribCoords(true),
			refstore.WithLogger(cfg.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("gribidx: expanding message %d of %s: %w", ordinal, uri, err)
		}
		if len(rows) != 1 {
			return nil, fmt.Errorf("%w: message %d of %s yielded %d rows", ErrMultiplicity, ordinal, uri, len(rows))
		}

		metas[ordinal] = metaFromChunkRow(ordinal, rows[0])
	}
	return metas, nil
}

// metaFromChunkRow flattens one expanded chunk row into message metadata.
// Level coordinates were already folded to "level" by grib-mode expansion.
func metaFromChunkRow(ordinal int, row refstore.ChunkRow) *messageMeta {
	meta := &messageMeta{
		ordinal:   ordinal,
		varName:   row.VarName,
		name:      row.Attrs["name"],
		levelType: row.Attrs["typeOfLevel"],
		stepType:  row.Attrs["stepType"],
		uri:       row.URI,
		offset:    row.Offset,
		length:    row.Length,
		inline:    row.Inline,
	}
	if v, ok := row.Coords["level"]; ok {
		meta.level = v.Float
	}
	if v, ok := row.Coords["time"]; ok {
		meta.time = v.Time
	}
	if v, ok := row.Coords["step"]; ok {
		meta.step = v.Duration
	}
	if v, ok := row.Coords["valid_time"]; ok {
		meta.validTime = v.Time
	}
	return meta
}

// validateMapping cross-checks sidecar and decoded byte extents and warns on
// duplicate keys. Offset disagreement is fatal; duplicates are not, since
// some horizons legitimately carry benign duplicates the caller may
// tolerate.
func validateMapping(uri string, entries []MappingEntry, metas map[int]*messageMeta, cfg *mappingConfig) error {
	matched, mismatched := 0, 0
	for _, entry := range entries {
		meta, ok := metas[entry.Ordinal]
		if !ok || meta.inline != nil {
			continue
		}
		if meta.offset == entry.Offset && meta.length == entry.Length {
			matched++
		} else {
			mismatched++
		}
	}
	if mismatched > 0 {
		return fmt.Errorf("%w: grib file %s: %d matched, %d mismatched", ErrOffsetMismatch, uri, matched, mismatched)
	}

	type hierarchyKey struct {
		varName   string
		levelType string
		stepType  string
		level     float64
		validTime time.Time
	}
	attrsSeen := make(map[JoinKey]bool, len(entries))
	hierSeen := make(map[hierarchyKey]bool, len(entries))
	var dupAttrs, dupHier []string
	for _, entry := range entries {
		if attrsSeen[entry.Attrs] {
			dupAttrs = append(dupAttrs, entry.VarName)
		}
		attrsSeen[entry.Attrs] = true

		if !entry.HasMetadata() {
			continue
		}
		hk := hierarchyKey{entry.VarName, entry.LevelType, entry.StepType, entry.Level, entry.ValidTime}
		if hierSeen[hk] {
			dupHier = append(dupHier, entry.VarName)
		}
		hierSeen[hk] = true
	}
	if len(dupAttrs) > 0 {
		cfg.log().Warn("idx attribute mapping is not unique",
			"uri", uri, "count", len(dupAttrs), "varnames", strings.Join(dupAttrs, ","))
	}
	if len(dupHier) > 0 {
		cfg.log().Warn("grib hierarchy is not unique",
			"uri", uri, "count", len(dupHier), "varnames", strings.Join(dupHier, ","))
	}
	return nil
}

// horizonDigest fingerprints the structural layout of the mapping: the set
// of (attrs, variable, level type, step type, level, step) rows, independent
// of file-specific offsets and run times.
func horizonDigest(entries []MappingEntry) digest.Digest {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%g\x00%s",
			e.Attrs, e.VarName, e.LevelType, e.StepType, e.Level, e.Step))
	}
	sort.Strings(lines)
	return digest.FromString(strings.Join(lines, "\n"))
}

// byAttrs re-keys the mapping on attribute string, failing when the key is
// not unique. Uniqueness is a structural invariant of materialization, not
// a per-call choice.
func (m *Mapping) byAttrs() (map[JoinKey]*MappingEntry, error) {
	keyed := make(map[JoinKey]*MappingEntry, len(m.Entries))
	for i := range m.Entries {
		entry := &m.Entries[i]
		if _, ok := keyed[entry.Attrs]; ok {
			return nil, fmt.Errorf("%w: mapping for %s duplicates %q", ErrAmbiguousKey, m.SourceURI, entry.Attrs)
		}
		keyed[entry.Attrs] = entry
	}
	return keyed, nil
}

// SaveMapping writes the mapping as JSON to the named file, compressed with
// zstd when the path ends in ".zst".
func SaveMapping(m *Mapping, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("gribidx: encoding mapping: %w", err)
	}
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("gribidx: creating zstd encoder: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("gribidx: writing mapping %s: %w", path, err)
	}
	return nil
}

// LoadMapping reads a mapping written by SaveMapping.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gribidx: reading mapping %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gribidx: creating zstd decoder: %w", err)
		}
		data, err = io.ReadAll(dec)
		dec.Close()
		if err != nil {
			return nil, fmt.Errorf("gribidx: decompressing mapping %s: %w", path, err)
		}
	}
	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("gribidx: decoding mapping %s: %w", path, err)
	}
	return &m, nil
}
