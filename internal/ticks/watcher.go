package ticks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0x-ximon/portman/bots/internal/auth"
)

// WebSocketURL maps an http(s) API base URL to the ws(s) URL of path.
func WebSocketURL(base *url.URL, path string) (string, error) {
	if base == nil {
		return "", fmt.Errorf("ticks: base url is nil")
	}
	u := *base
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("ticks: unsupported scheme %q", base.Scheme)
	}
	return u.JoinPath(path).String(), nil
}

// Watcher opens a fresh stream connection per Watch call.
type Watcher struct {
	url         string
	headers     http.Header
	readTimeout time.Duration
}

// NewWatcher builds a watcher for the stream at path under base. headers
// are copied onto every handshake.
func NewWatcher(base *url.URL, path string, headers http.Header, readTimeout time.Duration) (*Watcher, error) {
	wsURL, err := WebSocketURL(base, path)
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	for k, vals := range headers {
		// the dialer sets these itself
		if k == "Content-Type" || k == "Accept" {
			continue
		}
		for _, v := range vals {
			hdr.Add(k, v)
		}
	}
	return &Watcher{url: wsURL, headers: hdr, readTimeout: readTimeout}, nil
}

func (w *Watcher) URL() string {
	return w.url
}

// Watch subscribes to symbol with apiKey and reads up to limit ticks. It
// returns how many arrived before the limit, an error, or cancellation.
func (w *Watcher) Watch(ctx context.Context, apiKey, symbol string, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	headers := w.headers.Clone()
	headers.Set(auth.APIKeyHeader, apiKey)

	client := NewClient(Config{
		URL:         w.url,
		Headers:     headers,
		ReadTimeout: w.readTimeout,
	})
	if err := client.Connect(ctx); err != nil {
		return 0, err
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, client.abort)
	defer stop()

	if err := client.Subscribe(symbol); err != nil {
		return 0, err
	}

	received := 0
	for received < limit {
		if _, err := client.Next(ctx); err != nil {
			return received, fmt.Errorf("watch %s: %w", symbol, err)
		}
		received++
	}
	return received, nil
}
