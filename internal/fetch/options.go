package fetch

import (
	"net/http"
	"time"
)

// DefaultMaxRedirects bounds the redirect chain followed by a single Fetch.
const DefaultMaxRedirects = 10

type options struct {
	client       *http.Client
	timeout      time.Duration
	maxRedirects int
	userAgent    string

	// credentials are only attached to requests whose host equals credentialHost
	username       string
	password       string
	credentialHost string
}

// Option configures a Fetcher.
type Option func(*options)

// WithHTTPClient replaces the default client. Its redirect policy is overridden.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithTimeout sets an overall per-request timeout. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithMaxRedirects sets how many redirects a single Fetch may follow.
func WithMaxRedirects(n int) Option {
	return func(o *options) {
		o.maxRedirects = n
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(o *options) {
		o.userAgent = userAgent
	}
}

// WithBasicAuth attaches credentials to requests for host only. Redirects to
// other hosts (blob storage, CDNs) are followed without them.
func WithBasicAuth(host, username, password string) Option {
	return func(o *options) {
		o.credentialHost = host
		o.username = username
		o.password = password
	}
}
