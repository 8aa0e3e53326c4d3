package dashboard

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/0x-ximon/portman/bots/internal/bot"
	"github.com/0x-ximon/portman/bots/internal/failure"
	"github.com/0x-ximon/portman/bots/internal/metrics"
)

func TestStateCounts(t *testing.T) {
	got := stateCounts(map[string]int64{
		"fetching_user": 2,
		"connected":     5,
		"failed":        1,
	})
	want := []float64{0, 0, 2, 0, 5, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %s = %v, want %v", stateLabels[i], got[i], want[i])
		}
	}
}

func TestFormatCallRows(t *testing.T) {
	if rows := formatCallRows(nil); len(rows) != 1 || !strings.Contains(rows[0], "No calls") {
		t.Fatalf("empty rows = %v", rows)
	}
	rows := formatCallRows([]metrics.CallStats{
		{Op: "create user", Total: 3, Failures: 1, P99LatencyMs: 45.5},
		{Op: "get user", Total: 10},
	})
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if !strings.Contains(rows[0], "create user") || !strings.Contains(rows[0], "Err    1") {
		t.Errorf("row 0 = %q", rows[0])
	}
	if !strings.Contains(rows[0], "P99    45.5ms") {
		t.Errorf("row 0 missing p99: %q", rows[0])
	}
}

func TestFormatKindRows(t *testing.T) {
	rows := formatKindRows(map[string]int64{"timeout": 1, "network_unreachable": 4, "config_error": 1})
	if len(rows) != 3 {
		t.Fatalf("rows = %v", rows)
	}
	if !strings.Contains(rows[0], "network_unreachable") {
		t.Errorf("expected largest kind first, got %q", rows[0])
	}
	// ties are ordered by name
	if !strings.Contains(rows[1], "config_error") || !strings.Contains(rows[2], "timeout") {
		t.Errorf("unexpected tie order: %v", rows)
	}
}

func TestFormatFailedCallRows(t *testing.T) {
	rows := formatFailedCallRows([]metrics.CallStats{
		{Op: "create user", FailedBy: []metrics.FailureCount{{Label: "409", Count: 2}}},
		{Op: "get user", FailedBy: []metrics.FailureCount{
			{Label: "404", Count: 3},
			{Label: "timeout", Count: 1},
		}},
	})
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %v", rows)
	}
	if !strings.Contains(rows[0], "create user 409") || !strings.Contains(rows[1], "get user 404") {
		t.Fatalf("rows not grouped by op: %v", rows)
	}
	if !strings.Contains(rows[2], "TIMEOUT") {
		t.Errorf("expected upper-cased kind label, got %s", rows[2])
	}
	if empty := formatFailedCallRows([]metrics.CallStats{{Op: "get user", Total: 4}}); !strings.Contains(empty[0], "No failures") {
		t.Errorf("empty rows = %v", empty)
	}
}

func TestFormatFailedCallRowsCapped(t *testing.T) {
	var counts []metrics.FailureCount
	for code := 400; code < 420; code++ {
		counts = append(counts, metrics.FailureCount{Label: fmt.Sprint(code), Count: 1})
	}
	rows := formatFailedCallRows([]metrics.CallStats{{Op: "get user", FailedBy: counts}})
	if len(rows) != maxFailedCallRows {
		t.Fatalf("expected %d rows, got %d", maxFailedCallRows, len(rows))
	}
}

func TestUpdateFromCollector(t *testing.T) {
	c := metrics.NewCollector()
	c.Plan(4)
	c.RecordState(3, bot.StateFetchingUser)
	c.RecordCall("get user", 10*time.Millisecond, 200, nil)
	c.RecordOutcome(bot.Outcome{BotID: 1, State: bot.StateConnected, Registered: true})
	c.RecordOutcome(bot.Outcome{BotID: 2, State: bot.StateFailed, Err: &failure.Error{Kind: failure.KindTimeout}})

	d := newDashboard(c, RunConfig{APIURL: "http://api.local", Bots: 4}, nil)
	d.update(c.Stats(2 * time.Second))

	if d.progressGauge.Percent != 50 {
		t.Errorf("gauge percent = %d, want 50", d.progressGauge.Percent)
	}
	if d.progressGauge.Label != "2 / 4" {
		t.Errorf("gauge label = %q", d.progressGauge.Label)
	}
	if d.stateChart.Data[2] != 1 || d.stateChart.Data[4] != 1 || d.stateChart.Data[5] != 1 {
		t.Errorf("state chart = %v", d.stateChart.Data)
	}
	if !strings.Contains(d.summaryPara.Text, "http://api.local") || !strings.Contains(d.summaryPara.Text, "Registered: 1") {
		t.Errorf("summary = %q", d.summaryPara.Text)
	}
	if !strings.Contains(d.failureList.Rows[0], "timeout") {
		t.Errorf("failure rows = %v", d.failureList.Rows)
	}
	if !strings.Contains(d.callList.Rows[0], "get user") {
		t.Errorf("call rows = %v", d.callList.Rows)
	}
	if len(d.rateHistory) != 1 || d.rateHistory[0] != 1 {
		t.Errorf("rate history = %v", d.rateHistory)
	}
}

func TestFormatRunParams(t *testing.T) {
	tests := []struct {
		name     string
		config   RunConfig
		contains []string
		excludes []string
	}{
		{
			name:     "all at once",
			config:   RunConfig{Bots: 50},
			contains: []string{"Bots: 50", "Concurrency: all"},
			excludes: []string{"Ticks:", "Config:", "Timeout:"},
		},
		{
			name:     "bounded",
			config:   RunConfig{Bots: 10, Concurrency: 2, Timeout: 5 * time.Second},
			contains: []string{"Concurrency: 2", "Timeout: 5s"},
		},
		{
			name:     "ticks and config file",
			config:   RunConfig{Bots: 1, TickCount: 3, ConfigFile: "bots.yml"},
			contains: []string{"Ticks: 3", "Config: bots.yml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Dashboard{runConfig: tt.config}
			result := d.formatRunParams()

			for _, s := range tt.contains {
				if !strings.Contains(result, s) {
					t.Errorf("expected result to contain %q, got %q", s, result)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(result, s) {
					t.Errorf("expected result NOT to contain %q, got %q", s, result)
				}
			}
		})
	}
}
