// Package runner launches a fleet of bots against one Portman API.
//
// A [Manager] shares a single HTTP client between all bots, runs every
// bot's state machine concurrently and waits until each one has connected
// or failed:
//
//	m := runner.NewManager(runner.Options{
//		Secret:  secret,
//		Timeout: 5 * time.Second,
//		Logger:  logger,
//	})
//	res, err := m.Start(ctx, "https://api.portman.example", 50)
//
// Start only returns an error for input it cannot act on: a negative bot
// count or a malformed base URL. Individual bot failures never stop the
// other bots and are reported in [Result]. A zero bot count returns at once
// without touching the network.
//
// # Concurrency
//
// With Options.Concurrency unset every bot runs in its own goroutine.
// Otherwise at most Concurrency bots run at a time, pulling bot ids from a
// shared queue.
//
// # Tickers and ticks
//
// When Options.Tickers is set the ticker directory is loaded once before
// any bot starts. A refresh failure is logged and recorded in
// Result.TickersErr and the run goes on without tick watching.
package runner
