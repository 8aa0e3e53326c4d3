package metrics

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/0x-ximon/portman/bots/internal/bot"
	"github.com/0x-ximon/portman/bots/internal/failure"
)

// Collector aggregates API call latencies and bot outcomes for one run.
// All methods are safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	start time.Time

	calls map[string]*callStats

	connected  int64
	failed     int64
	registered int64
	ticks      int64
	tickErrors int64
	byKind     map[failure.Kind]int64

	planned int64
	// live state per bot id, fed by RecordState
	states map[int]bot.State
}

type callStats struct {
	hist      *hdrhistogram.Histogram
	successes int64
	failures  int64
	min       time.Duration
	max       time.Duration
	sum       time.Duration
	// failed calls by HTTP status, or by failure kind when nothing answered
	failedBy map[string]int
}

// CallStats summarizes the calls made for one API operation.
type CallStats struct {
	Op          string        `json:"op" yaml:"op"`
	Total       int64         `json:"total" yaml:"total"`
	Successes   int64         `json:"successes" yaml:"successes"`
	Failures    int64         `json:"failures" yaml:"failures"`
	MinLatency  time.Duration `json:"-" yaml:"-"`
	MaxLatency  time.Duration `json:"-" yaml:"-"`
	MeanLatency time.Duration `json:"-" yaml:"-"`
	P50Latency  time.Duration `json:"-" yaml:"-"`
	P90Latency  time.Duration `json:"-" yaml:"-"`
	P99Latency  time.Duration `json:"-" yaml:"-"`
	SumLatency  time.Duration `json:"-" yaml:"-"`

	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`

	FailedBy []FailureCount `json:"failed_by,omitempty" yaml:"failed_by,omitempty"`
}

// FailureCount is how many calls of one operation failed with Label, an
// HTTP status code such as "404" or a failure kind such as "timeout".
type FailureCount struct {
	Label string `json:"label" yaml:"label"`
	Count int    `json:"count" yaml:"count"`
}

// FailedWith returns the number of failed calls labelled label.
func (cs CallStats) FailedWith(label string) int {
	for _, fc := range cs.FailedBy {
		if fc.Label == label {
			return fc.Count
		}
	}
	return 0
}

// Stats is a point-in-time view of a Collector.
type Stats struct {
	Bots       int64            `json:"bots" yaml:"bots"`
	Connected  int64            `json:"connected" yaml:"connected"`
	Failed     int64            `json:"failed" yaml:"failed"`
	Registered int64            `json:"registered" yaml:"registered"`
	InFlight   int64            `json:"in_flight" yaml:"in_flight"`
	ByKind     map[string]int64 `json:"failures_by_kind,omitempty" yaml:"failures_by_kind,omitempty"`
	ByState    map[string]int64 `json:"-" yaml:"-"`
	Ticks      int64            `json:"ticks" yaml:"ticks"`
	TickErrors int64            `json:"tick_errors" yaml:"tick_errors"`

	Calls      []CallStats   `json:"calls,omitempty" yaml:"calls,omitempty"`
	Duration   time.Duration `json:"-" yaml:"-"`
	DurationMs float64       `json:"duration_ms" yaml:"duration_ms"`
	BotsPerSec float64       `json:"bots_per_sec" yaml:"bots_per_sec"`
}

func NewCollector() *Collector {
	return &Collector{
		start:    time.Now(),
		calls:  make(map[string]*callStats),
		byKind: make(map[failure.Kind]int64),
		states: make(map[int]bot.State),
	}
}

// Start resets the reference time used for the run duration.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Plan sets the number of bots expected in the run.
func (c *Collector) Plan(bots int) {
	c.mu.Lock()
	c.planned = int64(bots)
	c.mu.Unlock()
}

// Elapsed returns the time since Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

func newCallStats() *callStats {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &callStats{
		hist:     hdrhistogram.New(1, 60_000_000, 3),
		failedBy: make(map[string]int),
	}
}

// RecordCall records one completed API call. A failed call is bucketed by
// its HTTP status, or by failure kind when the server never answered.
func (c *Collector) RecordCall(op string, latency time.Duration, status int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.calls[op]
	if !ok {
		cs = newCallStats()
		c.calls[op] = cs
	}

	if latency > 0 {
		us := latency.Microseconds()
		if us < cs.hist.LowestTrackableValue() {
			us = cs.hist.LowestTrackableValue()
		}
		if us > cs.hist.HighestTrackableValue() {
			us = cs.hist.HighestTrackableValue()
		}
		_ = cs.hist.RecordValue(us)
	}
	cs.sum += latency
	if cs.min == 0 || latency < cs.min {
		cs.min = latency
	}
	if latency > cs.max {
		cs.max = latency
	}

	if err == nil {
		cs.successes++
		return
	}
	cs.failures++
	cs.failedBy[failureLabel(status, err)]++
}

func failureLabel(status int, err error) string {
	if status > 0 {
		return strconv.Itoa(status)
	}
	var ferr *failure.Error
	if errors.As(err, &ferr) {
		return ferr.Kind.String()
	}
	return failure.KindUnknown.String()
}

// RecordState tracks the live state of a bot. Terminal outcomes are only
// counted by RecordOutcome.
func (c *Collector) RecordState(botID int, s bot.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[botID] = s
}

// RecordOutcome records the terminal outcome of one bot.
func (c *Collector) RecordOutcome(out bot.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states[out.BotID] = out.State
	if out.Connected() {
		c.connected++
		if out.Registered {
			c.registered++
		}
	} else {
		c.failed++
		kind, _ := out.Kind()
		c.byKind[kind]++
	}
	c.ticks += int64(out.Ticks)
	if out.TickErr != nil {
		c.tickErrors++
	}
}

// Stats computes the current aggregate. elapsed is the run duration used
// for throughput; pass c.Elapsed() for a live view.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Bots:       int64(len(c.states)),
		Connected:  c.connected,
		Failed:     c.failed,
		Registered: c.registered,
		Ticks:      c.ticks,
		TickErrors: c.tickErrors,
		Duration:   elapsed,
		DurationMs: float64(elapsed) / float64(time.Millisecond),
	}
	if c.planned > stats.Bots {
		stats.Bots = c.planned
	}
	stats.InFlight = int64(len(c.states)) - c.connected - c.failed

	if len(c.byKind) > 0 {
		stats.ByKind = make(map[string]int64, len(c.byKind))
		for k, v := range c.byKind {
			stats.ByKind[k.String()] = v
		}
	}
	if len(c.states) > 0 {
		stats.ByState = make(map[string]int64)
		for _, s := range c.states {
			stats.ByState[s.String()]++
		}
	}

	ops := make([]string, 0, len(c.calls))
	for op := range c.calls {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		stats.Calls = append(stats.Calls, c.calls[op].snapshot(op))
	}

	done := c.connected + c.failed
	if elapsed > 0 && done > 0 {
		stats.BotsPerSec = float64(done) / elapsed.Seconds()
	}
	return stats
}

func (cs *callStats) snapshot(op string) CallStats {
	total := cs.successes + cs.failures
	s := CallStats{
		Op:         op,
		Total:      total,
		Successes:  cs.successes,
		Failures:   cs.failures,
		MinLatency: cs.min,
		MaxLatency: cs.max,
		SumLatency: cs.sum,
	}
	if total > 0 {
		s.MeanLatency = time.Duration(int64(cs.sum) / total)
	}
	if cs.hist.TotalCount() > 0 {
		s.P50Latency = time.Duration(cs.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P90Latency = time.Duration(cs.hist.ValueAtQuantile(90)) * time.Microsecond
		s.P99Latency = time.Duration(cs.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	s.MinLatencyMs = ms(s.MinLatency)
	s.MaxLatencyMs = ms(s.MaxLatency)
	s.MeanLatencyMs = ms(s.MeanLatency)
	s.P50LatencyMs = ms(s.P50Latency)
	s.P90LatencyMs = ms(s.P90Latency)
	s.P99LatencyMs = ms(s.P99Latency)

	for label, n := range cs.failedBy {
		s.FailedBy = append(s.FailedBy, FailureCount{Label: label, Count: n})
	}
	// most frequent first
	sort.Slice(s.FailedBy, func(i, j int) bool {
		a, b := s.FailedBy[i], s.FailedBy[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Label < b.Label
	})
	return s
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Call returns the stats for op, if any call was recorded.
func (s Stats) Call(op string) (CallStats, bool) {
	for _, cs := range s.Calls {
		if cs.Op == op {
			return cs, true
		}
	}
	return CallStats{}, false
}

// FailedCalls returns the number of failed API calls across operations.
func (s Stats) FailedCalls() int64 {
	var n int64
	for _, cs := range s.Calls {
		n += cs.Failures
	}
	return n
}
