package httpclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/0x-ximon/portman/bots/internal/tracing"
)

const userAgent = "portman-bots"

// ErrInvalidBaseURL is returned for a base URL that is not an absolute
// http(s) URL with a host.
var ErrInvalidBaseURL = errors.New("invalid base url")

// Observer receives one notification per completed API call. err is nil on
// success and a *failure.Error otherwise.
type Observer interface {
	RecordCall(op string, latency time.Duration, status int, err error)
}

// Options configures an API client.
type Options struct {
	// Timeout bounds every call. Zero means no per-call deadline.
	Timeout time.Duration
	// Headers are sent on every request after the defaults.
	Headers map[string]string
	// Tracer creates one client span per call; nil disables spans.
	Tracer trace.Tracer
	// Propagate injects W3C trace context into outgoing requests.
	Propagate bool
	Observer  Observer
	// Client overrides the default transport.
	Client *http.Client
}

// API is a client for the Portman REST API. It is safe for concurrent use
// and its configuration never changes after NewAPI returns.
type API struct {
	base      *url.URL
	client    *http.Client
	headers   http.Header
	timeout   time.Duration
	tracer    trace.Tracer
	propagate bool
	observer  Observer
}

// NewAPI validates baseURL and builds a client sending
// Content-Type: application/json by default.
func NewAPI(baseURL string, opts Options) (*API, error) {
	base, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	headers.Set("User-Agent", userAgent)
	for key, value := range opts.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(key, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}

	client := opts.Client
	if client == nil {
		client = NewClient(0)
	}

	timeout := opts.Timeout
	if timeout < 0 {
		timeout = 0
	}

	return &API{
		base:      base,
		client:    client,
		headers:   headers,
		timeout:   timeout,
		tracer:    tracing.OrNoop(opts.Tracer),
		propagate: opts.Propagate,
		observer:  opts.Observer,
	}, nil
}

// ParseBaseURL checks that raw is an absolute http or https URL with a host.
func ParseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidBaseURL)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrInvalidBaseURL, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidBaseURL, raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// BaseURL returns a copy of the API base URL.
func (a *API) BaseURL() *url.URL {
	u := *a.base
	return &u
}

// Headers returns a copy of the headers sent on every request.
func (a *API) Headers() http.Header {
	return a.headers.Clone()
}

// Close releases idle connections held by the client.
func (a *API) Close() {
	if a == nil || a.client == nil {
		return
	}
	a.client.CloseIdleConnections()
}

func (a *API) endpoint(path string) string {
	return a.base.JoinPath(path).String()
}

// NewClient returns an HTTP client tuned for many concurrent short calls
// against a single host.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
