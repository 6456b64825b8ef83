// Package grib scans GRIB2 archive files into one-message reference stores.
//
// The scanner walks edition-2 messages by their section framing and reads
// only the metadata sections: identification (reference time), grid
// definition (grid extent), and product definition (parameter, fixed
// surface, forecast time). Packed data payloads are skipped by length and
// never decoded. Each message becomes one refstore.Tree whose chunk
// reference points at the message's byte extent in the archive, which is
// exactly what byte-range indexing needs.
package grib

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/meigma/gribidx/refstore"
)

var gribMagic = []byte("GRIB")

// Source opens archives for scanning. gribidx.FileSource satisfies it.
type Source interface {
	Open(name string) (io.ReadCloser, error)
}

// fileSource is the default local-filesystem source.
type fileSource struct{}

func (fileSource) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// Scanner decodes GRIB2 message metadata in physical message order. It
// implements the gribidx Decoder contract.
type Scanner struct {
	source Source
	logger *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithSource sets the source used to open archives (default: local
// filesystem).
func WithSource(src Source) Option {
	return func(s *Scanner) {
		s.source = src
	}
}

// WithLogger sets the logger for skip warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// NewScanner creates a Scanner.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		source: fileSource{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// message is the metadata of one scanned GRIB2 message.
type message struct {
	offset    int64
	length    int64
	shortName string
	longName  string
	levelType string
	stepType  string
	level     float64
	refTime   time.Time
	step      time.Duration
	validTime time.Time
	ni        int
	nj        int
	complete  bool
}

// Messages scans the named archive and returns one reference store per
// message, in file order. Messages that cannot be interpreted (unsupported
// edition or template) yield an empty store and a warning, preserving the
// ordinal alignment with the sidecar.
func (s *Scanner) Messages(uri string) ([]*refstore.Tree, error) {
	rc, err := s.source.Open(uri)
	if err != nil {
		return nil, fmt.Errorf("grib: opening %s: %w", uri, err)
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 1<<20)
	var trees []*refstore.Tree
	var pos int64

	for {
		skipped, err := seekMagic(br, &pos)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("grib: scanning %s: %w", uri, err)
		}
		if skipped > 0 {
			s.log().Warn("skipped bytes between messages", "uri", uri, "bytes", skipped)
		}

		msg, err := s.readMessage(br, uri, pos)
		if err != nil {
			return nil, fmt.Errorf("grib: reading message at %d of %s: %w", pos, uri, err)
		}
		pos += msg.length

		if !msg.complete {
			s.log().Warn("skipping uninterpretable message", "uri", uri, "offset", msg.offset)
			trees = append(trees, refstore.NewTree())
			continue
		}
		trees = append(trees, buildTree(uri, msg))
	}

	return trees, nil
}

// seekMagic advances the reader to the next "GRIB" magic, updating pos and
// returning how many bytes were discarded. io.EOF means no further message.
func seekMagic(br *bufio.Reader, pos *int64) (int64, error) {
	var skipped int64
	for {
		head, err := br.Peek(len(gribMagic))
		if err != nil {
			if len(head) == 0 && err == io.EOF {
				return skipped, io.EOF
			}
			if err == io.EOF {
				// trailing partial bytes
				discarded, _ := br.Discard(len(head))
				skipped += int64(discarded)
				*pos += int64(discarded)
				return skipped, io.EOF
			}
			return skipped, err
		}
		if bytes.Equal(head, gribMagic) {
			return skipped, nil
		}
		if _, err := br.Discard(1); err != nil {
			return skipped, err
		}
		skipped++
		*pos++
	}
}

// readMessage consumes one message starting at the magic and parses its
// metadata sections.
func (s *Scanner) readMessage(br *bufio.Reader, uri string, offset int64) (*message, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("indicator section: %w", err)
	}

	edition := header[7]
	if edition != 2 {
		// Edition 1 carries its total length in octets 5-7; consume it so
		// scanning can continue, but emit nothing for the message.
		if edition == 1 {
			length := int64(header[4])<<16 | int64(header[5])<<8 | int64(header[6])
			if length < 16 {
				return nil, fmt.Errorf("edition 1 message with implausible length %d", length)
			}
			if _, err := io.CopyN(io.Discard, br, length-16); err != nil {
				return nil, fmt.Errorf("skipping edition 1 message: %w", err)
			}
			return &message{offset: offset, length: length}, nil
		}
		return nil, fmt.Errorf("unsupported edition %d", edition)
	}

	discipline := header[6]
	length := int64(binary.BigEndian.Uint64(header[8:16])) //nolint:gosec // lengths are bounded by format
	if length < 16 {
		return nil, fmt.Errorf("implausible message length %d", length)
	}
	body := make([]byte, length-16)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, fmt.Errorf("message body: %w", err)
	}

	msg := &message{offset: offset, length: length}
	if err := s.parseSections(msg, discipline, body, uri); err != nil {
		return nil, err
	}
	return msg, nil
}

// parseSections walks the section framing of a message body (everything
// after the 16-byte indicator) up to the "7777" end marker.
func (s *Scanner) parseSections(msg *message, discipline uint8, body []byte, uri string) error {
	var haveIdent, haveProduct bool
	i := 0
	for {
		if i+4 <= len(body) && bytes.Equal(body[i:i+4], []byte("7777")) {
			break
		}
		if i+5 > len(body) {
			return fmt.Errorf("truncated section header at %d", i)
		}
		secLen := int(binary.BigEndian.Uint32(body[i : i+4]))
		secNum := body[i+4]
		if secLen < 5 || i+secLen > len(body) {
			return fmt.Errorf("section %d at %d has bad length %d", secNum, i, secLen)
		}
		sec := body[i : i+secLen]

		switch secNum {
		case 1:
			if err := parseIdentification(msg, sec); err != nil {
				return err
			}
			haveIdent = true
		case 3:
			parseGrid(msg, sec)
		case 4:
			if haveProduct {
				s.log().Warn("message carries multiple product definitions, using the first",
					"uri", uri, "offset", msg.offset)
				break
			}
			if err := parseProduct(msg, discipline, sec); err != nil {
				return err
			}
			haveProduct = true
		}
		i += secLen
	}

	msg.complete = haveIdent && haveProduct && msg.shortName != ""
	return nil
}

// parseIdentification reads the reference time from section 1.
func parseIdentification(msg *message, sec []byte) error {
	if len(sec) < 19 {
		return fmt.Errorf("identification section too short (%d bytes)", len(sec))
	}
	year := int(binary.BigEndian.Uint16(sec[12:14]))
	msg.refTime = time.Date(year, time.Month(sec[14]), int(sec[15]),
		int(sec[16]), int(sec[17]), int(sec[18]), 0, time.UTC)
	return nil
}

// parseGrid reads the grid extent from section 3. Only the regular lat/lon
// and Gaussian templates carry Ni/Nj at fixed octets; other grids fall back
// to a flat one-dimensional extent.
func parseGrid(msg *message, sec []byte) {
	if len(sec) < 14 {
		return
	}
	template := binary.BigEndian.Uint16(sec[12:14])
	if (template == 0 || template == 40) && len(sec) >= 38 {
		msg.ni = int(binary.BigEndian.Uint32(sec[30:34]))
		msg.nj = int(binary.BigEndian.Uint32(sec[34:38]))
		return
	}
	if len(sec) >= 10 {
		msg.ni = int(binary.BigEndian.Uint32(sec[6:10]))
		msg.nj = 1
	}
}

// parseProduct reads parameter identity, fixed surface, and forecast time
// from section 4.
func parseProduct(msg *message, discipline uint8, sec []byte) error {
	if len(sec) < 9 {
		return fmt.Errorf("product section too short (%d bytes)", len(sec))
	}
	template := binary.BigEndian.Uint16(sec[7:9])
	switch template {
	case 0, 1, 2, 8:
		// octets 10-28 are shared across these templates
	default:
		// Unknown product template; leave the message incomplete so it is
		// skipped with a warning rather than misread.
		return nil
	}
	if len(sec) < 28 {
		return fmt.Errorf("product template %d too short (%d bytes)", template, len(sec))
	}

	info := lookupParam(discipline, sec[9], sec[10])
	msg.shortName = info.short
	msg.longName = info.long

	unit, ok := timeUnits[sec[17]]
	if !ok {
		unit = time.Hour
	}
	forecastTime := int32(binary.BigEndian.Uint32(sec[18:22])) //nolint:gosec // signed in the GRIB2 format
	msg.step = time.Duration(forecastTime) * unit

	surfType := sec[22]
	msg.levelType = lookupLevelType(surfType)
	msg.level = surfaceValue(sec[23], binary.BigEndian.Uint32(sec[24:28]))
	if surfType == 100 {
		// isobaric surfaces are coded in Pa, reported in hPa
		msg.level /= 100
	}

	msg.stepType = "instant"
	msg.validTime = msg.refTime.Add(msg.step)

	if template == 8 {
		if len(sec) < 47 {
			return fmt.Errorf("statistical template %d too short (%d bytes)", template, len(sec))
		}
		msg.stepType = lookupStepType(sec[46])
		endYear := int(binary.BigEndian.Uint16(sec[34:36]))
		msg.validTime = time.Date(endYear, time.Month(sec[36]), int(sec[37]),
			int(sec[38]), int(sec[39]), int(sec[40]), 0, time.UTC)
		// idx descriptors use end-of-interval step semantics
		msg.step = msg.validTime.Sub(msg.refTime)
	}
	return nil
}

// surfaceValue decodes a scaled fixed-surface value.
func surfaceValue(scale uint8, value uint32) float64 {
	if value == math.MaxUint32 {
		return 0
	}
	factor := int8(scale) //nolint:gosec // signed in the GRIB2 format
	return float64(value) / math.Pow10(int(factor))
}

// buildTree assembles the one-message hierarchical store. The group path is
// <shortName>/<stepType>/<typeOfLevel> with attributes spread across the
// levels, and the lone chunk reference spans the whole message.
func buildTree(uri string, msg *message) *refstore.Tree {
	t := refstore.NewTree()
	byName := t.Root.AddGroup(msg.shortName, map[string]string{"name": msg.longName})
	byStep := byName.AddGroup(msg.stepType, map[string]string{"stepType": msg.stepType})
	leaf := byStep.AddGroup(msg.levelType, map[string]string{"typeOfLevel": msg.levelType})

	leaf.Vars = []*refstore.Variable{{
		Name:  msg.shortName,
		Dims:  []string{"latitude", "longitude"},
		Shape: []int{msg.nj, msg.ni},
	}}
	leaf.Coords = []*refstore.Coord{
		{Name: "time", Times: []time.Time{msg.refTime}},
		{Name: "step", Durations: []time.Duration{msg.step}},
		{Name: "valid_time", Times: []time.Time{msg.validTime}},
		{Name: msg.levelType, Floats: []float64{msg.level}},
		{Name: "latitude", Dims: []string{"latitude"}, Shape: []int{msg.nj}},
		{Name: "longitude", Dims: []string{"longitude"}, Shape: []int{msg.ni}},
	}

	path := leaf.Path()
	meta, _ := json.Marshal(map[string]any{ //nolint:errcheck // plain ints and slices cannot fail
		"shape":       []int{msg.nj, msg.ni},
		"chunks":      []int{msg.nj, msg.ni},
		"zarr_format": 2,
	})
	t.Refs[refstore.BuildPath([]string{path, msg.shortName}, ".zarray")] = string(meta)
	t.Refs[refstore.BuildPath([]string{path, msg.shortName}, "0.0")] = []any{uri, msg.offset, msg.length}
	return t
}
