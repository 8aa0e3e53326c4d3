package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/0x-ximon/portman/bots/internal/bot"
	"github.com/0x-ximon/portman/bots/internal/metrics"
)

// RunConfig holds the run parameters shown in the summary panel.
type RunConfig struct {
	APIURL      string
	Bots        int
	Concurrency int           // 0 = all bots at once
	Timeout     time.Duration // per API call
	TickCount   int           // ticks watched per bot, 0 = disabled
	ConfigFile  string
}

// stateOrder is the column order of the state bar chart.
var stateOrder = []bot.State{
	bot.StateInit,
	bot.StateDerivingCredential,
	bot.StateFetchingUser,
	bot.StateCreatingUser,
	bot.StateConnected,
	bot.StateFailed,
}

var stateLabels = []string{"init", "derive", "fetch", "create", "conn", "fail"}

// Dashboard renders a live terminal UI for a bot run.
type Dashboard struct {
	collector    *metrics.Collector
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid          *ui.Grid
	summaryPara   *widgets.Paragraph
	progressGauge *widgets.Gauge
	stateChart    *widgets.BarChart
	rateSparkline *widgets.SparklineGroup
	callList      *widgets.List
	failureList   *widgets.List
	statusList    *widgets.List
	rateHistory   []float64
	startTime     time.Time
	runDuration   time.Duration
	runConfig     RunConfig
}

// New creates a new Dashboard. It takes over the terminal until Stop.
func New(collector *metrics.Collector, cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	d := newDashboard(collector, cfg, shutdownFunc)
	d.setupGrid()
	return d, nil
}

func newDashboard(collector *metrics.Collector, cfg RunConfig, shutdownFunc func()) *Dashboard {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		collector:    collector,
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		rateHistory:  make([]float64, 0, 100),
		startTime:    time.Now(),
		runConfig:    cfg,
	}
	d.initWidgets()
	return d
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.progressGauge = widgets.NewGauge()
	d.progressGauge.Title = "Bots Finished"
	d.progressGauge.BarColor = ui.ColorBlue
	d.progressGauge.BorderStyle.Fg = ui.ColorCyan
	d.progressGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.stateChart = widgets.NewBarChart()
	d.stateChart.Title = "Bots by State"
	d.stateChart.Labels = stateLabels
	d.stateChart.Data = make([]float64, len(stateOrder))
	d.stateChart.BarWidth = 6
	d.stateChart.BarColors = []ui.Color{ui.ColorWhite, ui.ColorYellow, ui.ColorYellow, ui.ColorMagenta, ui.ColorGreen, ui.ColorRed}
	d.stateChart.BorderStyle.Fg = ui.ColorCyan

	sparkline := widgets.NewSparkline()
	sparkline.Title = "bots/sec"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}
	d.rateSparkline = widgets.NewSparklineGroup(sparkline)
	d.rateSparkline.Title = "Throughput"
	d.rateSparkline.BorderStyle.Fg = ui.ColorCyan

	d.callList = widgets.NewList()
	d.callList.Title = "API Calls"
	d.callList.Rows = []string{"Awaiting data"}
	d.callList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.callList.BorderStyle.Fg = ui.ColorCyan

	d.failureList = widgets.NewList()
	d.failureList.Title = "Failures by Kind"
	d.failureList.Rows = []string{"No failures"}
	d.failureList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.failureList.BorderStyle.Fg = ui.ColorCyan

	d.statusList = widgets.NewList()
	d.statusList.Title = "Failed Calls"
	d.statusList.Rows = []string{"No failures"}
	d.statusList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.statusList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(0.6, d.summaryPara),
			ui.NewCol(0.4, d.progressGauge),
		),
		ui.NewRow(0.32,
			ui.NewCol(0.5, d.stateChart),
			ui.NewCol(0.5, d.rateSparkline),
		),
		ui.NewRow(0.24,
			ui.NewCol(1.0, d.callList),
		),
		ui.NewRow(0.28,
			ui.NewCol(0.5, d.failureList),
			ui.NewCol(0.5, d.statusList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	d.runDuration = time.Since(d.startTime)
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// FinalStats returns the statistics as of Stop.
func (d *Dashboard) FinalStats() metrics.Stats {
	return d.collector.Stats(d.runDuration)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop cancels the context once the run unwinds.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update(d.collector.Stats(time.Since(d.startTime)))
			d.render()
		}
	}
}

// update refreshes all widget data from stats.
func (d *Dashboard) update(stats metrics.Stats) {
	d.mu.Lock()
	defer d.mu.Unlock()

	finished := stats.Connected + stats.Failed
	percent := 0
	if stats.Bots > 0 {
		percent = int(finished * 100 / stats.Bots)
	}
	d.progressGauge.Percent = percent
	d.progressGauge.Label = fmt.Sprintf("%d / %d", finished, stats.Bots)

	d.rateHistory = append(d.rateHistory, stats.BotsPerSec)
	if len(d.rateHistory) > 100 {
		d.rateHistory = d.rateHistory[1:]
	}
	d.rateSparkline.Sparklines[0].Data = d.rateHistory
	d.rateSparkline.Title = fmt.Sprintf("Throughput | %.1f bots/sec", stats.BotsPerSec)

	d.stateChart.Data = stateCounts(stats.ByState)

	d.summaryPara.Text = fmt.Sprintf(
		"API: %s\n%s\nElapsed: %s | Connected: %d | Registered: %d | Failed: %d",
		d.runConfig.APIURL,
		d.formatRunParams(),
		stats.Duration.Round(time.Second),
		stats.Connected,
		stats.Registered,
		stats.Failed,
	)

	d.callList.Rows = formatCallRows(stats.Calls)
	d.failureList.Rows = formatKindRows(stats.ByKind)
	d.statusList.Rows = formatFailedCallRows(stats.Calls)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func stateCounts(byState map[string]int64) []float64 {
	data := make([]float64, len(stateOrder))
	for i, s := range stateOrder {
		data[i] = float64(byState[s.String()])
	}
	return data
}

func formatCallRows(calls []metrics.CallStats) []string {
	if len(calls) == 0 {
		return []string{"[No calls yet](fg:green)"}
	}
	rows := make([]string, 0, len(calls))
	for _, cs := range calls {
		rows = append(rows, fmt.Sprintf("[%-12s](fg:cyan) | Total %4d | Err %4d | P50 %7.1fms | P90 %7.1fms | P99 %7.1fms",
			cs.Op, cs.Total, cs.Failures, cs.P50LatencyMs, cs.P90LatencyMs, cs.P99LatencyMs))
	}
	return rows
}

func formatKindRows(byKind map[string]int64) []string {
	if len(byKind) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if byKind[kinds[i]] == byKind[kinds[j]] {
			return kinds[i] < kinds[j]
		}
		return byKind[kinds[i]] > byKind[kinds[j]]
	})
	rows := make([]string, 0, len(kinds))
	for _, k := range kinds {
		rows = append(rows, fmt.Sprintf("[%s](fg:red) %d", k, byKind[k]))
	}
	return rows
}

const maxFailedCallRows = 10

// formatFailedCallRows lists failed calls per operation, most frequent
// label first within each operation.
func formatFailedCallRows(calls []metrics.CallStats) []string {
	var rows []string
	for _, cs := range calls {
		for _, fc := range cs.FailedBy {
			if len(rows) == maxFailedCallRows {
				return rows
			}
			rows = append(rows, fmt.Sprintf("[%s %s](fg:red) %d", cs.Op, strings.ToUpper(fc.Label), fc.Count))
		}
	}
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	return rows
}

// formatRunParams formats the run parameters for display.
func (d *Dashboard) formatRunParams() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Bots: %d", d.runConfig.Bots))

	if d.runConfig.Concurrency > 0 {
		parts = append(parts, fmt.Sprintf("Concurrency: %d", d.runConfig.Concurrency))
	} else {
		parts = append(parts, "Concurrency: all")
	}

	if d.runConfig.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", d.runConfig.Timeout))
	}

	if d.runConfig.TickCount > 0 {
		parts = append(parts, fmt.Sprintf("Ticks: %d", d.runConfig.TickCount))
	}

	if d.runConfig.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.runConfig.ConfigFile))
	}

	return strings.Join(parts, " | ")
}
