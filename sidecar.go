package gribidx

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// DefaultIdxSuffix is the conventional sidecar suffix.
const DefaultIdxSuffix = "idx"

// ParseOption configures ParseIdx.
type ParseOption func(*parseConfig)

type parseConfig struct {
	suffix   string
	validate bool
	source   Source
}

// ParseWithSuffix sets the sidecar suffix (default "idx").
func ParseWithSuffix(suffix string) ParseOption {
	return func(c *parseConfig) {
		c.suffix = suffix
	}
}

// ParseWithValidate fails parsing when attribute strings are not unique
// across records, which makes downstream matching ambiguous.
func ParseWithValidate(enabled bool) ParseOption {
	return func(c *parseConfig) {
		c.validate = enabled
	}
}

// ParseWithSource sets the source used to read the sidecar and query the
// archive size (default: local filesystem).
func ParseWithSource(src Source) ParseOption {
	return func(c *parseConfig) {
		c.source = src
	}
}

// ParseIdx parses the sidecar of the named archive file into offset records.
//
// The sidecar is read from "<uri>.<suffix>" as newline-delimited lines of
// the form "ordinal:offset:date:attrs", where attrs is the remainder of the
// line and may itself contain colons. Byte lengths are derived from
// consecutive offsets; the last record's length comes from the archive
// file's actual size, not from the sidecar. Gzip-compressed sidecars are
// decompressed transparently.
func ParseIdx(uri string, opts ...ParseOption) ([]OffsetRecord, error) {
	cfg := parseConfig{
		suffix: DefaultIdxSuffix,
		source: FileSource{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	fileSize, err := cfg.source.Size(uri)
	if err != nil {
		return nil, fmt.Errorf("gribidx: sizing %s: %w", uri, err)
	}

	idxURI := uri + "." + cfg.suffix
	f, err := cfg.source.Open(idxURI)
	if err != nil {
		return nil, fmt.Errorf("gribidx: opening sidecar %s: %w", idxURI, err)
	}
	defer f.Close()

	records, err := parseIdxLines(f, uri, idxURI)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s has no records", ErrBadSidecar, idxURI)
	}

	for i := range records {
		if i+1 < len(records) {
			records[i].Length = records[i+1].Offset - records[i].Offset
		} else {
			records[i].Length = fileSize - records[i].Offset
		}
		if records[i].Length < 0 {
			return nil, fmt.Errorf("%w: %s record %d has negative length", ErrBadSidecar, idxURI, records[i].Ordinal)
		}
	}

	if cfg.validate {
		seen := make(map[JoinKey]bool, len(records))
		for _, rec := range records {
			if seen[rec.Attrs] {
				return nil, fmt.Errorf("%w: attribute mapping for %s is not unique (%q)", ErrAmbiguousKey, uri, rec.Attrs)
			}
			seen[rec.Attrs] = true
		}
	}

	return records, nil
}

func parseIdxLines(r io.Reader, uri, idxURI string) ([]OffsetRecord, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gribidx: decompressing sidecar %s: %w", idxURI, err)
		}
		defer gz.Close()
		return scanIdxLines(gz, uri, idxURI)
	}
	return scanIdxLines(br, uri, idxURI)
}

func scanIdxLines(r io.Reader, uri, idxURI string) ([]OffsetRecord, error) {
	var records []OffsetRecord
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 4)
		if len(parts) < 4 {
			return nil, fmt.Errorf("%w: %s line %d has %d fields, want 4", ErrBadSidecar, idxURI, lineNo, len(parts))
		}
		ordinal, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d ordinal %q: %v", ErrBadSidecar, idxURI, lineNo, parts[0], err)
		}
		offset, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d offset %q: %v", ErrBadSidecar, idxURI, lineNo, parts[1], err)
		}
		if ordinal != len(records)+1 {
			return nil, fmt.Errorf("%w: %s line %d ordinal %d breaks the 1..n sequence", ErrBadSidecar, idxURI, lineNo, ordinal)
		}
		if offset < 0 {
			return nil, fmt.Errorf("%w: %s line %d has negative offset", ErrBadSidecar, idxURI, lineNo)
		}

		records = append(records, OffsetRecord{
			Ordinal: ordinal,
			Offset:  offset,
			Date:    parts[2],
			Attrs:   JoinKey(parts[3]),
			URI:     uri,
			IdxURI:  idxURI,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gribidx: reading sidecar %s: %w", idxURI, err)
	}
	return records, nil
}
