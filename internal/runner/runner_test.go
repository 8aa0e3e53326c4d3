package runner_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/0x-ximon/portman/bots/internal/bot"
	"github.com/0x-ximon/portman/bots/internal/failure"
	"github.com/0x-ximon/portman/bots/internal/httpclient"
	"github.com/0x-ximon/portman/bots/internal/identity"
	"github.com/0x-ximon/portman/bots/internal/metrics"
	"github.com/0x-ximon/portman/bots/internal/mockapi"
	"github.com/0x-ximon/portman/bots/internal/runner"
)

const secret = "s3cr3t"

func startMock(t *testing.T, opts mockapi.Options) (*mockapi.Server, string) {
	t.Helper()
	opts.Secret = secret
	opts.BcryptCost = bcrypt.MinCost
	if opts.TickInterval == 0 {
		opts.TickInterval = 5 * time.Millisecond
	}
	s := mockapi.New(opts)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv.URL
}

// syncBuffer guards a bytes.Buffer written by concurrent workers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStartRegistersAndReconnects(t *testing.T) {
	s, url := startMock(t, mockapi.Options{})
	m := runner.NewManager(runner.Options{Secret: secret, Timeout: 2 * time.Second})

	first, err := m.Start(context.Background(), url, 5)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.Connected != 5 || first.Registered != 5 || first.Failed != 0 {
		t.Fatalf("first run = %+v", first)
	}
	if s.Users() != 5 {
		t.Fatalf("users = %d, want 5", s.Users())
	}

	second, err := m.Start(context.Background(), url, 5)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if second.Connected != 5 || second.Registered != 0 {
		t.Fatalf("second run = %+v", second)
	}
	counts := s.Counts()
	if counts.GetUser != 10 || counts.CreateUser != 5 {
		t.Fatalf("counts = %+v, want 10 gets and 5 creates", counts)
	}

	for i, out := range second.Outcomes {
		if out.BotID != i+1 {
			t.Errorf("outcome %d has bot id %d", i, out.BotID)
		}
		if out.User.EmailAddress != identity.Email(i+1) {
			t.Errorf("bot %d connected as %q", i+1, out.User.EmailAddress)
		}
	}
}

func TestStartIsolatesFailures(t *testing.T) {
	failing, err := identity.Derive(3, secret)
	if err != nil {
		t.Fatal(err)
	}
	_, url := startMock(t, mockapi.Options{
		Drop: func(key string) bool { return key == failing.Credential },
	})

	done := make(chan runner.Result, 1)
	go func() {
		res, err := runner.NewManager(runner.Options{Secret: secret, Timeout: 2 * time.Second}).
			Start(context.Background(), url, 5)
		if err != nil {
			t.Errorf("Start: %v", err)
		}
		done <- res
	}()

	var res runner.Result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("manager did not return")
	}

	if res.Total != 5 || res.Connected != 4 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Outcomes[2].State != bot.StateFailed {
		t.Fatalf("bot 3 state = %s", res.Outcomes[2].State)
	}
	for _, out := range res.Outcomes {
		if !out.State.Terminal() {
			t.Errorf("bot %d not terminal: %s", out.BotID, out.State)
		}
	}
}

func TestStartZeroBots(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	res, err := runner.NewManager(runner.Options{Secret: secret}).Start(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Total != 0 || len(res.Outcomes) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no HTTP calls, got %d", hits.Load())
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	m := runner.NewManager(runner.Options{Secret: secret})

	if _, err := m.Start(context.Background(), "http://localhost", -1); !errors.Is(err, runner.ErrNegativeBotCount) {
		t.Errorf("negative count: got %v", err)
	}
	for _, raw := range []string{"::not a url", "localhost:8080", "ftp://example.com", "http://"} {
		if _, err := m.Start(context.Background(), raw, 1); !errors.Is(err, httpclient.ErrInvalidBaseURL) {
			t.Errorf("Start(%q) error = %v, want ErrInvalidBaseURL", raw, err)
		}
	}
}

func TestStartMissingSecret(t *testing.T) {
	s, url := startMock(t, mockapi.Options{})
	res, err := runner.NewManager(runner.Options{Timeout: time.Second}).Start(context.Background(), url, 3)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Failed != 3 || res.ByKind[failure.KindConfig] != 3 {
		t.Fatalf("result = %+v", res)
	}
	if c := s.Counts(); c.GetUser != 0 || c.CreateUser != 0 {
		t.Fatalf("expected no user calls, got %+v", c)
	}
}

func TestStartBoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64
	s := mockapi.New(mockapi.Options{Secret: secret, BcryptCost: bcrypt.MinCost})
	handler := s.Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		handler.ServeHTTP(w, r)
		inFlight.Add(-1)
	}))
	defer srv.Close()

	res, err := runner.NewManager(runner.Options{Secret: secret, Concurrency: 2, Timeout: 2 * time.Second}).
		Start(context.Background(), srv.URL, 6)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Connected != 6 {
		t.Fatalf("result = %+v", res)
	}
	if peak.Load() > 2 {
		t.Fatalf("peak in-flight requests = %d, want <= 2", peak.Load())
	}
}

func TestStartCancelledContext(t *testing.T) {
	_, url := startMock(t, mockapi.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := runner.NewManager(runner.Options{Secret: secret}).Start(ctx, url, 2)
	if err != nil {
		t.Fatalf("cancellation must not surface as a manager error: %v", err)
	}
	if res.Failed != 2 {
		t.Fatalf("result = %+v", res)
	}
	for _, out := range res.Outcomes {
		if out.Err == nil || out.Err.Cause != "Canceled" {
			t.Errorf("bot %d err = %v", out.BotID, out.Err)
		}
	}
}

func TestStartRecordsMetrics(t *testing.T) {
	_, url := startMock(t, mockapi.Options{})
	collector := metrics.NewCollector()
	var transitions atomic.Int64

	res, err := runner.NewManager(runner.Options{
		Secret:        secret,
		Timeout:       2 * time.Second,
		Recorder:      collector,
		OnStateChange: func(int, bot.State) { transitions.Add(1) },
	}).Start(context.Background(), url, 3)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	stats := collector.Stats(res.Duration)
	if stats.Connected != 3 || stats.Registered != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	get, ok := stats.Call(httpclient.OpGetUser)
	if !ok || get.Total != 3 || get.Failures != 3 {
		t.Fatalf("get user stats = %+v", get)
	}
	if get.FailedWith("404") != 3 {
		t.Fatalf("get user failures = %v", get.FailedBy)
	}
	// deriving, fetching, creating, connected
	if transitions.Load() != 12 {
		t.Fatalf("transitions = %d, want 12", transitions.Load())
	}
}

func TestStartWatchesTicks(t *testing.T) {
	s, url := startMock(t, mockapi.Options{})
	logs := &syncBuffer{}

	res, err := runner.NewManager(runner.Options{
		Secret:  secret,
		Timeout: 2 * time.Second,
		Logger:  zerolog.New(logs),
		Tickers: true,
		Ticks:   runner.TicksOptions{Count: 2, ReadTimeout: time.Second},
	}).Start(context.Background(), url, 2)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.TickersErr != nil {
		t.Fatalf("TickersErr = %v", res.TickersErr)
	}
	for _, out := range res.Outcomes {
		if out.Ticks != 2 || out.TickErr != nil {
			t.Errorf("bot %d ticks = %d err = %v", out.BotID, out.Ticks, out.TickErr)
		}
		if out.Symbol != "BTCUSD" && out.Symbol != "ETHUSD" {
			t.Errorf("bot %d watched %q, want an open market", out.BotID, out.Symbol)
		}
	}
	if s.Counts().Streams != 2 {
		t.Errorf("streams = %d, want 2", s.Counts().Streams)
	}
	if got := strings.Count(logs.String(), `"message":"bot connected"`); got != 2 {
		t.Errorf("terminal lines = %d, want 2\n%s", got, logs.String())
	}
}

func TestStartTickerRefreshFailure(t *testing.T) {
	s := mockapi.New(mockapi.Options{Secret: secret, BcryptCost: bcrypt.MinCost})
	handler := s.Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tickers" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()
	logs := &syncBuffer{}

	res, err := runner.NewManager(runner.Options{
		Secret:  secret,
		Timeout: 2 * time.Second,
		Logger:  zerolog.New(logs),
		Tickers: true,
		Ticks:   runner.TicksOptions{Count: 1},
	}).Start(context.Background(), srv.URL, 2)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.TickersErr == nil {
		t.Fatal("expected TickersErr")
	}
	if res.Connected != 2 {
		t.Fatalf("bots must still connect: %+v", res)
	}
	for _, out := range res.Outcomes {
		if out.Ticks != 0 || out.TickErr != nil {
			t.Errorf("bot %d should not watch ticks: %d %v", out.BotID, out.Ticks, out.TickErr)
		}
	}
	if !strings.Contains(logs.String(), "ticker refresh failed") {
		t.Errorf("missing warning in logs:\n%s", logs.String())
	}
}
