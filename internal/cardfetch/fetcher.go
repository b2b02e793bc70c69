// Package cardfetch retrieves remote documents (agent cards, peer indexes)
// with hard limits on time, size, and redirects. The fetcher is stateless;
// callers own caching and retry policy.
package cardfetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	// MaxBodyBytes caps any fetched response body.
	MaxBodyBytes = 256 << 10

	maxRedirects   = 3
	connectTimeout = 3 * time.Second
	totalTimeout   = 10 * time.Second
)

// Err is returned for any failed fetch. Status is the HTTP status for
// non-2xx responses, zero for transport-level failures.
type Err struct {
	URL    string
	Status int
	TLS    bool
	cause  error
}

func (e *Err) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	case e.TLS:
		return fmt.Sprintf("fetch %s: TLS error: %v", e.URL, e.cause)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.cause)
	}
}

func (e *Err) Unwrap() error { return e.cause }

// Result is a successful fetch.
type Result struct {
	Body        []byte
	ContentType string
}

// Fetcher performs bounded GETs. The zero value is not usable; call New.
type Fetcher struct {
	client       *http.Client
	sameHostOnly bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// SameHostRedirects restricts redirects to the original host. Used for peer
// sync, where the peer controls the index it serves.
func SameHostRedirects() Option {
	return func(f *Fetcher) { f.sameHostOnly = true }
}

// New builds a Fetcher with the standard limits.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{}
	for _, o := range opts {
		o(f)
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	f.client = &http.Client{
		Timeout: totalTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: connectTimeout,
			MaxIdleConnsPerHost: 4,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if f.sameHostOnly && req.URL.Host != via[0].URL.Host {
				return errors.New("cross-host redirect refused")
			}
			return nil
		},
	}
	return f
}

// Get fetches rawURL. bearer, when non-empty, is sent as a Bearer token.
// The context deadline applies on top of the fetcher's own total timeout.
func (f *Fetcher) Get(ctx context.Context, rawURL, bearer string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &Err{URL: rawURL, cause: errors.New("not an absolute http(s) URL")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Err{URL: rawURL, cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		var tlsErr *tls.CertificateVerificationError
		if errors.As(err, &tlsErr) {
			return nil, &Err{URL: rawURL, TLS: true, cause: err}
		}
		return nil, &Err{URL: rawURL, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Err{URL: rawURL, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, &Err{URL: rawURL, cause: err}
	}
	if len(body) > MaxBodyBytes {
		return nil, &Err{URL: rawURL, cause: fmt.Errorf("response exceeds %d bytes", MaxBodyBytes)}
	}

	return &Result{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}
