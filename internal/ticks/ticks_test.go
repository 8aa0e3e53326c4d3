package ticks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// createTickServer upgrades every request and hands the connection and the
// handshake headers to handler.
func createTickServer(handler func(*websocket.Conn, http.Header)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r.Header.Clone())
	}))
}

// streamTicks waits for a symbol and then pushes n ticks for it.
func streamTicks(n int) func(*websocket.Conn, http.Header) {
	return func(conn *websocket.Conn, _ http.Header) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		for i := 0; i < n; i++ {
			payload := fmt.Sprintf(`{"symbol":%q,"last":"%d.5"}`, string(msg), 100+i)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}
		}
		// keep the connection open until the client leaves
		_, _, _ = conn.ReadMessage()
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		base, path, want string
		wantErr          bool
	}{
		{"http://localhost:8080", "/tickers/ticks", "ws://localhost:8080/tickers/ticks", false},
		{"https://api.example.com/v1", "/tickers/ticks", "wss://api.example.com/v1/tickers/ticks", false},
		{"ftp://example.com", "/x", "", true},
	}
	for _, tt := range tests {
		got, err := WebSocketURL(mustParse(t, tt.base), tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("WebSocketURL(%q) error = %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("WebSocketURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestParseTick(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantSym   string
		wantPrice string
	}{
		{"last field", `{"symbol":"ETHUSDT","last":"3100.25"}`, "ETHUSDT", "3100.25"},
		{"price number", `{"price":42}`, "BTCUSDT", "42"},
		{"nested", `{"data":{"last":"7"}}`, "BTCUSDT", "7"},
		{"plain text", `hello`, "BTCUSDT", "0"},
		{"array", `[1,2]`, "BTCUSDT", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick := ParseTick("BTCUSDT", []byte(tt.data))
			if tick.Symbol != tt.wantSym {
				t.Errorf("Symbol = %q, want %q", tick.Symbol, tt.wantSym)
			}
			if !tick.Price.Equal(decimal.RequireFromString(tt.wantPrice)) {
				t.Errorf("Price = %s, want %s", tick.Price, tt.wantPrice)
			}
			if string(tick.Raw) != tt.data {
				t.Errorf("Raw = %q", tick.Raw)
			}
		})
	}
}

func TestClientSubscribeAndNext(t *testing.T) {
	server := createTickServer(streamTicks(2))
	defer server.Close()

	client := NewClient(Config{URL: "ws" + strings.TrimPrefix(server.URL, "http"), ReadTimeout: time.Second})
	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.Subscribe("SOLUSDT"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	tick, err := client.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if tick.Symbol != "SOLUSDT" || !tick.Price.Equal(decimal.RequireFromString("100.5")) {
		t.Errorf("tick = %+v", tick)
	}

	stats := client.Stats()
	if stats.MessagesSent != 1 || stats.MessagesReceived != 1 || stats.BytesReceived == 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestClientNotConnected(t *testing.T) {
	client := NewClient(Config{URL: "ws://127.0.0.1:1"})
	if err := client.Subscribe("BTCUSDT"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if _, err := client.Next(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Next() error = %v, want ErrNotConnected", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() without connection error = %v", err)
	}
}

func TestClientConnectTwice(t *testing.T) {
	server := createTickServer(streamTicks(0))
	defer server.Close()

	client := NewClient(Config{URL: "ws" + strings.TrimPrefix(server.URL, "http")})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()
	if err := client.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestWatcherReadsLimitAndSendsKey(t *testing.T) {
	gotKey := make(chan string, 1)
	server := createTickServer(func(conn *websocket.Conn, hdr http.Header) {
		gotKey <- hdr.Get("X-API-KEY")
		streamTicks(5)(conn, hdr)
	})
	defer server.Close()

	base := mustParse(t, server.URL)
	w, err := NewWatcher(base, "/tickers/ticks", http.Header{"Content-Type": {"application/json"}, "X-Run": {"1"}}, time.Second)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if !strings.HasPrefix(w.URL(), "ws://") {
		t.Errorf("URL() = %q", w.URL())
	}

	n, err := w.Watch(context.Background(), "credential", "BTCUSDT", 3)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Watch() = %d, want 3", n)
	}
	if key := <-gotKey; key != "credential" {
		t.Errorf("X-API-KEY = %q", key)
	}
}

func TestWatcherReadTimeout(t *testing.T) {
	server := createTickServer(streamTicks(1))
	defer server.Close()

	w, _ := NewWatcher(mustParse(t, server.URL), "/", nil, 100*time.Millisecond)
	start := time.Now()
	n, err := w.Watch(context.Background(), "k", "BTCUSDT", 3)
	if err == nil {
		t.Fatal("Watch() error = nil, want read timeout")
	}
	if n != 1 {
		t.Errorf("Watch() = %d, want 1 tick before the timeout", n)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("Watch() took %s", time.Since(start))
	}
}

func TestWatcherCancel(t *testing.T) {
	server := createTickServer(streamTicks(0))
	defer server.Close()

	w, _ := NewWatcher(mustParse(t, server.URL), "/", nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := w.Watch(ctx, "k", "BTCUSDT", 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch() error = %v, want context.Canceled", err)
	}
}

func TestWatcherZeroLimit(t *testing.T) {
	w, _ := NewWatcher(mustParse(t, "http://127.0.0.1:1"), "/", nil, 0)
	n, err := w.Watch(context.Background(), "k", "BTCUSDT", 0)
	if n != 0 || err != nil {
		t.Errorf("Watch(limit=0) = %d, %v", n, err)
	}
}

func TestWatcherHandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	w, _ := NewWatcher(mustParse(t, server.URL), "/tickers/ticks", nil, time.Second)
	_, err := w.Watch(context.Background(), "bad", "BTCUSDT", 1)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Watch() error = %v, want 401 handshake failure", err)
	}
}
