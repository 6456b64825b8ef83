// Package http provides a gribidx Source backed by HTTP requests, with
// byte-range reads for chunk fetches.
package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
)

// Source resolves URIs over HTTP. It satisfies the gribidx Source and
// RangeReader interfaces: sidecars are streamed with plain GETs, sizes come
// from HEAD (falling back to a one-byte range probe), and chunk reads use
// range requests.
type Source struct {
	client  *nethttp.Client
	headers nethttp.Header
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) {
		s.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers == nil {
			return
		}
		s.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = make(nethttp.Header)
		}
		s.headers.Set(key, value)
	}
}

// NewSource creates an HTTP-backed source.
func NewSource(opts ...Option) *Source {
	s := &Source{
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	return s
}

// Open streams the content at the given URL.
func (s *Source) Open(name string) (io.ReadCloser, error) {
	req, err := s.newRequest(nethttp.MethodGet, name)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != nethttp.StatusOK {
		drain(resp)
		return nil, fmt.Errorf("fetching %s: %s", name, resp.Status)
	}
	return resp.Body, nil
}

// Size returns the content size at the given URL, preferring HEAD and
// falling back to a one-byte range probe when HEAD omits the length.
func (s *Source) Size(name string) (int64, error) {
	req, err := s.newRequest(nethttp.MethodHead, name)
	if err != nil {
		return 0, err
	}
	if resp, err := s.client.Do(req); err == nil {
		size := resp.ContentLength
		drain(resp)
		if resp.StatusCode == nethttp.StatusOK && size >= 0 {
			return size, nil
		}
	}
	return s.rangeProbe(name)
}

// ReadRange returns a reader over the given byte range using a range
// request.
func (s *Source) ReadRange(name string, off, length int64) (io.ReadCloser, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("read range %d+%d of %s: invalid range", off, length, name)
	}
	if length == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	req, err := s.newRequest(nethttp.MethodGet, name)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+length-1))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		// ok
	case nethttp.StatusRequestedRangeNotSatisfiable:
		drain(resp)
		return io.NopCloser(bytes.NewReader(nil)), io.EOF
	case nethttp.StatusOK:
		drain(resp)
		return nil, errors.New("range requests not supported")
	default:
		drain(resp)
		return nil, fmt.Errorf("range request for %s failed: %s", name, resp.Status)
	}

	return &rangeReadCloser{
		body:   resp.Body,
		reader: io.LimitReader(resp.Body, length),
	}, nil
}

// rangeProbe requests the first byte and reads the total size from the
// Content-Range header.
func (s *Source) rangeProbe(name string) (int64, error) {
	req, err := s.newRequest(nethttp.MethodGet, name)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer drain(resp)

	if resp.StatusCode != nethttp.StatusPartialContent {
		if resp.StatusCode == nethttp.StatusOK {
			return 0, errors.New("range requests not supported")
		}
		return 0, fmt.Errorf("range probe for %s failed: %s", name, resp.Status)
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return 0, errors.New("range probe missing Content-Range")
	}
	return parseContentRange(crange)
}

func (s *Source) newRequest(method, url string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

func drain(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

type rangeReadCloser struct {
	body   io.ReadCloser
	reader io.Reader
}

func (r *rangeReadCloser) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *rangeReadCloser) Close() error {
	_, _ = io.Copy(io.Discard, r.body)
	return r.body.Close()
}

func parseContentRange(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}
