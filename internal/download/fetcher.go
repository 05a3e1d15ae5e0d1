package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Fetcher opens a byte stream for url starting at offset. Implementations
// report the offset the stream actually starts at: a server that ignores
// the range request restarts from zero.
type Fetcher interface {
	Fetch(ctx context.Context, url string, offset int64) (*Stream, error)
}

// Stream is an open download body.
type Stream struct {
	Body io.ReadCloser
	// Offset is the position of the first byte of Body within the file.
	Offset int64
	// Size is the full file size when known, otherwise -1.
	Size int64
}

// ErrRangeNotSatisfiable is returned when the requested offset is past the
// end of the remote file.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: http %d", e.URL, e.Status)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}

// HTTPFetcher fetches over HTTP(S) with Range support.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns a fetcher using a client without a global timeout;
// callers bound requests through the context.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 0}, UserAgent: "modelhost"}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, url string, offset int64) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	cli := h.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		return &Stream{Body: resp.Body, Offset: offset, Size: contentRangeSize(resp.Header.Get("Content-Range"))}, nil
	case resp.StatusCode == http.StatusOK:
		size := resp.ContentLength
		if size < 0 {
			size = -1
		}
		return &Stream{Body: resp.Body, Offset: 0, Size: size}, nil
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, ErrRangeNotSatisfiable
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}
}

// contentRangeSize parses the total from "bytes 100-199/2000".
func contentRangeSize(v string) int64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || v[i+1:] == "*" {
		return -1
	}
	n, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}
