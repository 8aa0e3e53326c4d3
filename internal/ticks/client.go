// Package ticks subscribes connected bots to the ticker websocket stream.
package ticks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var (
	ErrNotConnected     = errors.New("ticks: not connected")
	ErrAlreadyConnected = errors.New("ticks: already connected")
)

// Tick is one message pushed by the stream. Price is zero when the payload
// carries no recognizable price field.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	Raw    []byte
}

// Stats counts stream traffic for one connection.
type Stats struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesReceived      int64
	Errors             int64
}

type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// Client is a single tick stream connection.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	connectTime  time.Time
	symbol       string
	messagesSent int64
	messagesRecv int64
	bytesRecv    int64
	errors       int64
}

func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 64 * 1024
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.errors++
		if resp != nil {
			return fmt.Errorf("tick stream dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("tick stream dial failed: %w", err)
	}
	conn.SetReadLimit(c.cfg.MaxMessageSize)

	c.conn = conn
	c.connectTime = time.Now()
	return nil
}

// Subscribe asks the server to stream ticks for symbol. A later call
// replaces the subscription.
func (c *Client) Subscribe(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(symbol)); err != nil {
		c.errors++
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}
	c.symbol = symbol
	c.messagesSent++
	return nil
}

// Next blocks until the next tick, the read timeout, or ctx's deadline.
func (c *Client) Next(ctx context.Context) (Tick, error) {
	c.mu.Lock()
	conn := c.conn
	symbol := c.symbol
	c.mu.Unlock()

	if conn == nil {
		return Tick{}, ErrNotConnected
	}

	deadline := time.Time{}
	if c.cfg.ReadTimeout > 0 {
		deadline = time.Now().Add(c.cfg.ReadTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	_, data, err := conn.ReadMessage()
	if err != nil {
		c.mu.Lock()
		c.errors++
		c.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Tick{}, ctxErr
		}
		return Tick{}, fmt.Errorf("read tick: %w", err)
	}

	c.mu.Lock()
	c.messagesRecv++
	c.bytesRecv += int64(len(data))
	c.mu.Unlock()

	return ParseTick(symbol, data), nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	closeErr := c.conn.Close()
	c.conn = nil

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

// abort drops the connection without a close handshake so a blocked Next
// returns immediately.
func (c *Client) abort() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.UnderlyingConn().Close()
	}
}

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Duration(0)
	if !c.connectTime.IsZero() {
		duration = time.Since(c.connectTime)
	}
	return Stats{
		ConnectionDuration: duration,
		MessagesSent:       c.messagesSent,
		MessagesReceived:   c.messagesRecv,
		BytesReceived:      c.bytesRecv,
		Errors:             c.errors,
	}
}

// ParseTick reads the symbol and price out of a tick payload. Payloads that
// are not JSON objects are kept raw under the subscribed symbol.
func ParseTick(subscribed string, data []byte) Tick {
	tick := Tick{Symbol: subscribed, Raw: append([]byte(nil), data...)}
	if !gjson.ValidBytes(data) {
		return tick
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return tick
	}
	if sym := parsed.Get("symbol"); sym.Exists() && sym.String() != "" {
		tick.Symbol = sym.String()
	}
	for _, key := range []string{"last", "price", "data.last"} {
		if v := parsed.Get(key); v.Exists() {
			if price, err := decimal.NewFromString(v.String()); err == nil {
				tick.Price = price
				break
			}
		}
	}
	return tick
}
