package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/0x-ximon/portman/bots/internal/bot"
	"github.com/0x-ximon/portman/bots/internal/failure"
	"github.com/0x-ximon/portman/bots/internal/httpclient"
	"github.com/0x-ximon/portman/bots/internal/tickers"
	"github.com/0x-ximon/portman/bots/internal/ticks"
)

// ErrNegativeBotCount is returned by Start for a bot count below zero.
var ErrNegativeBotCount = errors.New("runner: negative bot count")

// Result summarizes a run.
type Result struct {
	Total      int
	Connected  int
	Failed     int
	Registered int
	Duration   time.Duration
	ByKind     map[failure.Kind]int
	// Outcomes is indexed by bot id minus one.
	Outcomes []bot.Outcome
	// TickersErr is the ticker directory refresh error, if any. The run
	// continues without symbols when it is set.
	TickersErr error
}

// Manager launches bots against one API and waits for all of them.
type Manager struct {
	opt Options
}

func NewManager(opt Options) *Manager {
	opt.normalize()
	return &Manager{opt: opt}
}

// Start runs botCount bots with ids 1..botCount against baseURL and returns
// once every bot reached a terminal state. Bot failures are reported in the
// Result, never as an error. A zero count returns at once without any
// network activity.
func (m *Manager) Start(ctx context.Context, baseURL string, botCount int) (Result, error) {
	if botCount < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeBotCount, botCount)
	}
	if botCount == 0 {
		return Result{}, nil
	}

	start := time.Now()
	api, err := httpclient.NewAPI(baseURL, httpclient.Options{
		Timeout:   m.opt.Timeout,
		Headers:   m.opt.Headers,
		Tracer:    m.opt.Tracer,
		Propagate: m.opt.Propagate,
		Observer:  m.observer(),
		Client:    m.opt.Client,
	})
	if err != nil {
		return Result{}, err
	}
	defer api.Close()

	res := Result{Total: botCount}
	cfg := bot.Config{
		Secret:        m.opt.Secret,
		API:           api,
		Logger:        m.opt.Logger,
		Tracer:        m.opt.Tracer,
		OnStateChange: m.stateHook(),
	}

	if m.opt.Tickers {
		dir := tickers.NewDirectory(api)
		if err := dir.Refresh(ctx); err != nil {
			res.TickersErr = err
			m.opt.Logger.Warn().Err(err).Msg("ticker refresh failed, bots will not watch ticks")
		} else if m.opt.Ticks.Count > 0 {
			watcher, err := ticks.NewWatcher(api.BaseURL(), m.opt.Ticks.Path, api.Headers(), m.opt.Ticks.ReadTimeout)
			if err != nil {
				return Result{}, err
			}
			cfg.Symbols = dir
			cfg.Ticks = watcher
			cfg.TickCount = m.opt.Ticks.Count
		}
	}

	res.Outcomes = m.run(ctx, cfg, botCount)
	res.Duration = time.Since(start)

	for _, out := range res.Outcomes {
		if out.Connected() {
			res.Connected++
			if out.Registered {
				res.Registered++
			}
			continue
		}
		res.Failed++
		if res.ByKind == nil {
			res.ByKind = make(map[failure.Kind]int)
		}
		kind, _ := out.Kind()
		res.ByKind[kind]++
	}
	return res, nil
}

func (m *Manager) run(ctx context.Context, cfg bot.Config, botCount int) []bot.Outcome {
	outcomes := make([]bot.Outcome, botCount)
	ids := make(chan int, botCount)
	for id := 1; id <= botCount; id++ {
		ids <- id
	}
	close(ids)

	n := m.opt.workers(botCount)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for id := range ids {
				out := bot.NewWorker(id, cfg).Run(ctx)
				outcomes[id-1] = out
				if m.opt.Recorder != nil {
					m.opt.Recorder.RecordOutcome(out)
				}
			}
		}()
	}
	wg.Wait()
	return outcomes
}

func (m *Manager) observer() httpclient.Observer {
	if m.opt.Recorder == nil {
		return nil
	}
	return m.opt.Recorder
}

func (m *Manager) stateHook() func(int, bot.State) {
	rec, hook := m.opt.Recorder, m.opt.OnStateChange
	if rec == nil && hook == nil {
		return nil
	}
	return func(id int, s bot.State) {
		if rec != nil {
			rec.RecordState(id, s)
		}
		if hook != nil {
			hook(id, s)
		}
	}
}
