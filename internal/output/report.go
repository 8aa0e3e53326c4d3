package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0x-ximon/portman/bots/internal/bot"
	"github.com/0x-ximon/portman/bots/internal/metrics"
	"github.com/0x-ximon/portman/bots/internal/runner"
)

// Report is the end-of-run summary written by every output format.
type Report struct {
	RunID        string        `json:"run_id" yaml:"run_id"`
	APIURL       string        `json:"api_url" yaml:"api_url"`
	StartedAt    time.Time     `json:"started_at" yaml:"started_at"`
	Requested    int           `json:"requested" yaml:"requested"`
	TickersError string        `json:"tickers_error,omitempty" yaml:"tickers_error,omitempty"`
	Stats        metrics.Stats `json:"stats" yaml:"stats"`
	Bots         []BotLine     `json:"bots" yaml:"bots"`
}

// BotLine is the terminal outcome of one bot.
type BotLine struct {
	ID         int     `json:"id" yaml:"id"`
	State      string  `json:"state" yaml:"state"`
	UserID     string  `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Email      string  `json:"email,omitempty" yaml:"email,omitempty"`
	Registered bool    `json:"registered" yaml:"registered"`
	Kind       string  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Op         string  `json:"op,omitempty" yaml:"op,omitempty"`
	Status     int     `json:"status,omitempty" yaml:"status,omitempty"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
	Symbol     string  `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	Ticks      int     `json:"ticks,omitempty" yaml:"ticks,omitempty"`
	TickError  string  `json:"tick_error,omitempty" yaml:"tick_error,omitempty"`
	DurationMs float64 `json:"duration_ms" yaml:"duration_ms"`
}

// NewReport assembles a report from a finished run.
func NewReport(runID, apiURL string, startedAt time.Time, requested int, res runner.Result, stats metrics.Stats) Report {
	r := Report{
		RunID:     runID,
		APIURL:    apiURL,
		StartedAt: startedAt.UTC(),
		Requested: requested,
		Stats:     stats,
		Bots:      make([]BotLine, 0, len(res.Outcomes)),
	}
	if res.TickersErr != nil {
		r.TickersError = res.TickersErr.Error()
	}
	for _, out := range res.Outcomes {
		r.Bots = append(r.Bots, botLine(out))
	}
	return r
}

func botLine(out bot.Outcome) BotLine {
	line := BotLine{
		ID:         out.BotID,
		State:      out.State.String(),
		Registered: out.Registered,
		Symbol:     out.Symbol,
		Ticks:      out.Ticks,
		DurationMs: float64(out.Duration) / float64(time.Millisecond),
	}
	if out.Connected() {
		line.UserID = out.User.ID.String()
		line.Email = out.User.EmailAddress
	}
	if out.Err != nil {
		line.Kind = out.Err.Kind.String()
		line.Op = out.Err.Op
		line.Status = out.Err.StatusCode
		line.Error = out.Err.Error()
	}
	if out.TickErr != nil {
		line.TickError = out.TickErr.Error()
	}
	return line
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintln(w, "\n--- Bot Run Results ---")
	if r.RunID != "" {
		fmt.Fprintf(w, "Run:               %s\n", r.RunID)
	}
	fmt.Fprintf(w, "API:               %s\n", r.APIURL)
	fmt.Fprintf(w, "Bots:              %d\n", r.Requested)
	fmt.Fprintf(w, "Connected:         %d\n", stats.Connected)
	fmt.Fprintf(w, "  Registered:      %d\n", stats.Registered)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failed)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Bots/sec:          %.2f\n", stats.BotsPerSec)

	if len(stats.ByKind) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		kinds := make([]string, 0, len(stats.ByKind))
		for k := range stats.ByKind {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool {
			if stats.ByKind[kinds[i]] == stats.ByKind[kinds[j]] {
				return kinds[i] < kinds[j]
			}
			return stats.ByKind[kinds[i]] > stats.ByKind[kinds[j]]
		})
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-24s %d\n", k+":", stats.ByKind[k])
		}
	}

	if len(stats.Calls) > 0 {
		fmt.Fprintln(w, "\nAPI Calls:")
		for _, cs := range stats.Calls {
			fmt.Fprintf(w, "  - %s: total=%d, successes=%d, failures=%d, p50=%s, p90=%s, p99=%s\n",
				cs.Op, cs.Total, cs.Successes, cs.Failures, cs.P50Latency, cs.P90Latency, cs.P99Latency)
		}
	}

	if stats.FailedCalls() > 0 {
		fmt.Fprintln(w, "\nFailed Calls:")
		for _, cs := range stats.Calls {
			for _, fc := range cs.FailedBy {
				fmt.Fprintf(w, "  %s %s: %d\n", cs.Op, fc.Label, fc.Count)
			}
		}
	}

	if stats.Ticks > 0 || stats.TickErrors > 0 || r.TickersError != "" {
		fmt.Fprintln(w, "\nTicks:")
		fmt.Fprintf(w, "  Received:        %d\n", stats.Ticks)
		fmt.Fprintf(w, "  Errors:          %d\n", stats.TickErrors)
		if r.TickersError != "" {
			fmt.Fprintf(w, "  Tickers:         %s\n", r.TickersError)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

