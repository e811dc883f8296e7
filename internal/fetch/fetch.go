// Package fetch performs conditional HTTP retrieval of remote artifacts.
//
// The Fetcher never writes files; it only decides whether a remote resource
// changed and hands back its body. Downloader is the persisting caller.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"crusty/internal/logging"
)

// Request describes one conditional retrieval.
type Request struct {
	URL string
	// ETag of the previously stored artifact, if any.
	ETag string
	// LastModified of the previously stored artifact. Zero means no artifact.
	LastModified time.Time
	// Offline forbids network access when a previous artifact exists.
	Offline bool
	// Compressed asks the server for a gzip or zstd transfer encoding.
	Compressed bool
}

// Outcome is the result of a Fetch. When Unchanged is true Body is nil and
// the caller keeps its existing artifact. Otherwise the caller must close Body.
type Outcome struct {
	Unchanged     bool
	Body          io.ReadCloser
	LastModified  time.Time
	ETag          string
	ContentLength int64
}

// TransportError reports a response status that is neither 2xx nor 304.
type TransportError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s for %s", e.Status, e.URL)
}

// Fetcher issues conditional GETs. The zero value uses http.DefaultClient.
type Fetcher struct {
	Client    *http.Client
	Logger    *zap.Logger
	UserAgent string
}

// New returns a Fetcher. A non-zero timeout bounds each request.
func New(logger *zap.Logger, timeout time.Duration, userAgent string) *Fetcher {
	return &Fetcher{
		Client:    &http.Client{Timeout: timeout},
		Logger:    logger,
		UserAgent: userAgent,
	}
}

// Fetch retrieves req.URL unless the stored copy is still current.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Outcome, error) {
	log := logging.OrNop(f.Logger).With(zap.String("url", req.URL))
	done := logging.Timer(log, "Validated remote artifact")

	hasPrevious := !req.LastModified.IsZero()
	if hasPrevious && req.Offline {
		done()
		return &Outcome{Unchanged: true}, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		done()
		return nil, fmt.Errorf("building request: %w", err)
	}
	if hasPrevious {
		httpReq.Header.Set("If-Modified-Since", req.LastModified.UTC().Format(http.TimeFormat))
	}
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.Compressed {
		// Setting the header disables net/http's transparent gzip handling.
		httpReq.Header.Set("Accept-Encoding", "gzip, zstd")
	}
	if f.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.client().Do(httpReq)
	if err != nil {
		done()
		return nil, fmt.Errorf("requesting %s: %w", req.URL, err)
	}

	code := resp.StatusCode
	if (code < 200 || code > 299) && code != http.StatusNotModified {
		resp.Body.Close()
		done()
		return nil, &TransportError{URL: req.URL, StatusCode: code, Status: resp.Status}
	}

	serverTime := parseLastModified(resp.Header.Get("Last-Modified"))
	if code == http.StatusNotModified ||
		(hasPrevious && !serverTime.IsZero() && !req.LastModified.Before(serverTime)) {
		resp.Body.Close()
		log.Info("Not modified, skipping")
		done()
		return &Outcome{Unchanged: true}, nil
	}

	if resp.ContentLength >= 0 {
		log.Info("Changed, downloading " + humanize.IBytes(uint64(resp.ContentLength)))
	}

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		done()
		return nil, fmt.Errorf("decoding %s: %w", req.URL, err)
	}

	return &Outcome{
		Body:          &timedBody{ReadCloser: body, done: done},
		LastModified:  serverTime,
		ETag:          resp.Header.Get("ETag"),
		ContentLength: resp.ContentLength,
	}, nil
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func parseLastModified(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &layeredBody{Reader: zr, closers: []func() error{zr.Close, resp.Body.Close}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return &layeredBody{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			resp.Body.Close,
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

type layeredBody struct {
	io.Reader
	closers []func() error
}

func (b *layeredBody) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// timedBody logs the fetch duration once the caller is done with the body.
type timedBody struct {
	io.ReadCloser
	done   func()
	closed bool
}

func (b *timedBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.closed {
		b.closed = true
		b.done()
	}
	return err
}
