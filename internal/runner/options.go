package runner

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/0x-ximon/portman/bots/internal/bot"
	"github.com/0x-ximon/portman/bots/internal/httpclient"
)

// Recorder receives call, state and outcome notifications during a run.
// metrics.Collector implements it.
type Recorder interface {
	httpclient.Observer
	RecordState(botID int, state bot.State)
	RecordOutcome(out bot.Outcome)
}

// TicksOptions enables tick watching after a bot connects.
type TicksOptions struct {
	Count       int           // messages to read per bot; 0 disables watching
	Path        string        // stream path under the API base URL
	ReadTimeout time.Duration // per-message read deadline
}

// Options configure the Manager.
type Options struct {
	Secret      string
	Concurrency int           // bots running at once; 0 means all of them
	Timeout     time.Duration // per API call
	Headers     map[string]string

	Logger    zerolog.Logger
	Tracer    trace.Tracer
	Propagate bool
	Recorder  Recorder
	Client    *http.Client // optional transport override

	// Tickers loads the ticker directory before bots start.
	Tickers bool
	Ticks   TicksOptions

	// OnStateChange, when set, observes every worker transition.
	OnStateChange func(botID int, state bot.State)
}

func (o *Options) normalize() {
	if o.Concurrency < 0 {
		o.Concurrency = 0
	}
	if o.Ticks.Count < 0 {
		o.Ticks.Count = 0
	}
	if o.Ticks.Path == "" {
		o.Ticks.Path = "/tickers/ticks"
	}
}

func (o Options) workers(botCount int) int {
	if o.Concurrency > 0 && o.Concurrency < botCount {
		return o.Concurrency
	}
	return botCount
}
