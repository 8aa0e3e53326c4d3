// Command portman-mockapi serves an in-memory Portman API for exercising
// portman-bots locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/0x-ximon/portman/bots/internal/logging"
	"github.com/0x-ximon/portman/bots/internal/mockapi"
)

type serverFlags struct {
	addr         string
	secret       string
	tickInterval time.Duration
	bcryptCost   int
	logLevel     string
	logFormat    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f serverFlags
	cmd := &cobra.Command{
		Use:           "portman-mockapi",
		Short:         "Serve an in-memory Portman API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&f.secret, "secret", os.Getenv("SYSTEM_SECRET"), "Shared secret used to check API keys (defaults to SYSTEM_SECRET)")
	cmd.Flags().DurationVar(&f.tickInterval, "tick-interval", mockapi.DefaultTickInterval, "Delay between tick stream messages")
	cmd.Flags().IntVar(&f.bcryptCost, "bcrypt-cost", mockapi.DefaultBcryptCost, "bcrypt cost for stored passwords")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format: text or json")
	return cmd
}

func (f serverFlags) options() (mockapi.Options, error) {
	if f.secret == "" {
		return mockapi.Options{}, errors.New("secret is required (set SYSTEM_SECRET or use --secret)")
	}
	if f.tickInterval <= 0 {
		return mockapi.Options{}, fmt.Errorf("tick-interval must be > 0, got %s", f.tickInterval)
	}
	return mockapi.Options{
		Secret:       f.secret,
		TickInterval: f.tickInterval,
		BcryptCost:   f.bcryptCost,
		Logger:       logging.New(logging.Options{Level: f.logLevel, Format: f.logFormat}),
	}, nil
}

func serve(ctx context.Context, f serverFlags) error {
	opts, err := f.options()
	if err != nil {
		return err
	}
	srv := mockapi.New(opts)

	errCh := make(chan error, 1)
	go func() {
		opts.Logger.Info().Str("addr", f.addr).Msg("mock API listening")
		errCh <- srv.Start(f.addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
