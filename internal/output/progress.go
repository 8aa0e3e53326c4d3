package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/0x-ximon/portman/bots/internal/metrics"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and prints a final line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer, ProgressLine(p.collector.Stats(p.collector.Elapsed())))
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			stats := p.collector.Stats(p.collector.Elapsed())
			fmt.Fprint(p.writer, ProgressLine(stats))
		case <-p.done:
			return
		}
	}
}

// ProgressLine renders stats as a single carriage-return prefixed line.
func ProgressLine(stats metrics.Stats) string {
	line := fmt.Sprintf("\rBots: %d/%d | Connected: %d | Failed: %d | In flight: %d | Bots/sec: %.1f",
		stats.Connected+stats.Failed, stats.Bots, stats.Connected, stats.Failed, stats.InFlight, stats.BotsPerSec)
	if stats.Ticks > 0 {
		line += fmt.Sprintf(" | Ticks: %d", stats.Ticks)
	}
	return line
}
