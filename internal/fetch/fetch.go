package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"filingkit/pkg/logger"
)

const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxBytes = 20 << 20

	// Some agency hosts refuse requests without a browser-like agent.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// ErrTemplateUnavailable covers every reason a template could not be used.
var ErrTemplateUnavailable = errors.New("template unavailable")

var pdfMagic = []byte("%PDF-")

// Template is a downloaded template document.
type Template struct {
	URL   string
	Bytes []byte
}

// Source retrieves templates by URL.
type Source interface {
	Fetch(ctx context.Context, url string) (Template, error)
}

// Fetcher performs one bounded GET per template. It never retries.
type Fetcher struct {
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

// New returns a fetcher with the given timeout and agent; zero values use defaults.
func New(timeout time.Duration, userAgent string) *Fetcher {
	return &Fetcher{Timeout: timeout, UserAgent: userAgent}
}

func (f *Fetcher) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return DefaultTimeout
}

func (f *Fetcher) maxBytes() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxBytes
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

// Fetch downloads url. Any failure is reported as ErrTemplateUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Template, error) {
	if strings.TrimSpace(url) == "" {
		return Template{}, fmt.Errorf("%w: no template url", ErrTemplateUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Template{}, fmt.Errorf("%w: %v", ErrTemplateUnavailable, err)
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")
	resp, err := f.client().Do(req)
	if err != nil {
		logger.Warn(ctx, "template fetch failed", "url", url, "error", err, "elapsed", time.Since(start))
		return Template{}, fmt.Errorf("%w: %v", ErrTemplateUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn(ctx, "template fetch rejected", "url", url, "status", resp.StatusCode)
		return Template{}, fmt.Errorf("%w: status %d", ErrTemplateUnavailable, resp.StatusCode)
	}
	limit := f.maxBytes()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Template{}, fmt.Errorf("%w: read body: %v", ErrTemplateUnavailable, err)
	}
	if int64(len(data)) > limit {
		return Template{}, fmt.Errorf("%w: body exceeds %d bytes", ErrTemplateUnavailable, limit)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\r\n\t "), pdfMagic) {
		return Template{}, fmt.Errorf("%w: response is not a pdf", ErrTemplateUnavailable)
	}
	logger.Debug(ctx, "template fetched", "url", url, "bytes", len(data), "elapsed", time.Since(start))
	return Template{URL: url, Bytes: data}, nil
}

// Disabled reports every template as unavailable. Used in offline mode.
type Disabled struct{}

func (Disabled) Fetch(_ context.Context, url string) (Template, error) {
	return Template{}, fmt.Errorf("%w: offline (%s)", ErrTemplateUnavailable, url)
}
