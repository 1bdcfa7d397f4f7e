// Package fetch downloads a URL to a local file, following redirects by hand.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Fetcher resolves a URL to a local file. It follows redirects itself so that
// the hop count is bounded and 404 bodies can be inspected at any hop.
type Fetcher struct {
	opts   options
	client *http.Client
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	o := options{
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(&o)
	}

	client := &http.Client{}
	if o.client != nil {
		c := *o.client
		client = &c
	}
	if o.timeout > 0 {
		client.Timeout = o.timeout
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Fetcher{opts: o, client: client}
}

// Fetch downloads rawURL into dst and returns dst. The file is complete and
// closed when Fetch returns without error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dst string) (string, error) {
	current := rawURL
	for redirects := 0; ; {
		resp, err := f.get(ctx, current)
		if err != nil {
			return "", &TransportError{URL: current, Err: err}
		}

		switch {
		case isRedirect(resp.StatusCode):
			next, err := resp.Location()
			resp.Body.Close()
			if err != nil {
				return "", &StatusError{URL: current, StatusCode: resp.StatusCode, Status: resp.Status + " without valid Location"}
			}
			if redirects >= f.opts.maxRedirects {
				return "", &TooManyRedirectsError{URL: rawURL, Max: f.opts.maxRedirects, Last: next.String()}
			}
			redirects++
			log.Debug().
				Int("hop", redirects).
				Str("location", next.Redacted()).
				Msg("following redirect")
			current = next.String()

		case resp.StatusCode == http.StatusNotFound:
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return "", &TransportError{URL: current, Err: err}
			}
			return "", NewNotFoundError(current, body)

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body := &trackingReader{r: resp.Body}
			err := writeBody(body, dst)
			resp.Body.Close()
			if body.err != nil {
				return "", &TransportError{URL: current, Err: body.err}
			}
			if err != nil {
				return "", err
			}
			log.Debug().
				Str("url", redact(rawURL)).
				Str("path", dst).
				Int("redirects", redirects).
				Msg("download complete")
			return dst, nil

		default:
			resp.Body.Close()
			return "", &StatusError{URL: current, StatusCode: resp.StatusCode, Status: resp.Status}
		}
	}
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if f.opts.userAgent != "" {
		req.Header.Set("User-Agent", f.opts.userAgent)
	}
	// Host on URL contains the port if present, so credentials never leak
	// to a different service on the same machine.
	if f.opts.username != "" || f.opts.password != "" {
		if req.URL.Host == f.opts.credentialHost {
			req.SetBasicAuth(f.opts.username, f.opts.password)
		}
	}
	return f.client.Do(req)
}

func writeBody(body io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory for %q: %w", dst, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create destination file %q: %w", dst, err)
	}

	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		return fmt.Errorf("write %q: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %q: %w", dst, err)
	}
	return nil
}

// trackingReader remembers the first read error so that a broken response
// body is reported as a transport failure rather than a local write failure.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Redacted()
}
