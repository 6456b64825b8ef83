package gribidx

import (
	"fmt"
	"io"
	"os"
)

// Source resolves a URI to readable content and a size query.
//
// Implementations exist for the local filesystem ([FileSource]) and HTTP
// range requests (the http subpackage).
type Source interface {
	Open(name string) (io.ReadCloser, error)
	Size(name string) (int64, error)
}

// RangeReader is implemented by sources that can read a byte range without
// streaming the preceding content. [FetchChunk] uses it when available.
type RangeReader interface {
	ReadRange(name string, off, length int64) (io.ReadCloser, error)
}

// FileSource reads from the local filesystem.
type FileSource struct{}

var (
	_ Source      = FileSource{}
	_ RangeReader = FileSource{}
)

// Open opens the named file for reading.
func (FileSource) Open(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// Size returns the size of the named file in bytes.
func (FileSource) Size(name string) (int64, error) {
	info, err := os.Stat(name)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadRange returns a reader over the given byte range of the named file.
func (fs FileSource) ReadRange(name string, off, length int64) (io.ReadCloser, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("gribidx: invalid range %d+%d for %s", off, length, name)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return &sectionReadCloser{
		SectionReader: io.NewSectionReader(f, off, length),
		closer:        f,
	}, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	closer io.Closer
}

func (s *sectionReadCloser) Close() error {
	return s.closer.Close()
}
