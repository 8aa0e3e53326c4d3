package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "portman-bots",
		Short:         "Provision and connect a fleet of trading bots against the Portman API",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Fleet flags
	flags.IntP("amount", "a", DefaultAmount, "Number of bots to connect")
	flags.String("api-url", "", "Base URL of the Portman API (overrides API_URL)")
	flags.IntP("concurrency", "c", 0, "Max bots connecting at once (0 means all at once)")
	flags.Duration("timeout", DefaultTimeout, "Per-call API timeout")
	flags.StringSlice("header", nil, "Additional request header in key=value form")

	// Logging flags
	flags.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")
	flags.String("log-file", "", "Write logs to this file instead of stderr")

	// Output flags
	flags.Bool("summary", false, "Print a text summary after the run")
	flags.Bool("json-output", false, "Emit the run report as JSON")
	flags.Bool("yaml-output", false, "Emit the run report as YAML")
	flags.Bool("progress", false, "Show a live progress line on stderr")
	flags.Bool("dashboard", false, "Show live terminal dashboard")
	flags.String("history-file", "", "Append a run record to this JSONL file")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9100)")

	// Market flags
	flags.Bool("tickers", false, "Fetch the ticker directory before connecting bots")
	flags.Int("watch-ticks", 0, "Ticks each connected bot reads from the tick stream (requires --tickers and a server routing --ticks-path)")
	flags.String("ticks-path", DefaultTicksPath, "Tick stream websocket path")
	flags.Duration("ticks-timeout", DefaultTicksTimeout, "Read timeout for the tick stream")

	// Tracing flags
	flags.String("trace-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("trace-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("trace-insecure", false, "Disable TLS for the OTLP exporter")
	flags.String("trace-service-name", "", "Service name reported to the collector")
	flags.Float64("trace-sample-rate", 1.0, "Trace sampling ratio between 0.0 and 1.0")
	flags.Bool("trace-propagate", true, "Inject W3C trace context into API requests")

	flags.String("env-file", DefaultEnvFile, "Path to a .env file with SYSTEM_SECRET and API_URL")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n%s\n\nFlags:\n", cmd.UseLine(), cmd.Short)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config,
// overriding values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("amount") {
		val, err := fs.GetInt("amount")
		if err != nil {
			return err
		}
		cfg.Amount = val
	}
	if fs.Changed("api-url") {
		val, err := fs.GetString("api-url")
		if err != nil {
			return err
		}
		cfg.APIURL = strings.TrimSpace(val)
	}
	if fs.Changed("concurrency") {
		val, err := fs.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Concurrency = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}

	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-file") {
		val, err := fs.GetString("log-file")
		if err != nil {
			return err
		}
		cfg.Log.File = strings.TrimSpace(val)
	}

	if err := overrideBool(fs, "summary", &cfg.Summary); err != nil {
		return err
	}
	if err := overrideBool(fs, "json-output", &cfg.JSONOutput); err != nil {
		return err
	}
	if err := overrideBool(fs, "yaml-output", &cfg.YAMLOutput); err != nil {
		return err
	}
	if err := overrideBool(fs, "progress", &cfg.Progress); err != nil {
		return err
	}
	if err := overrideBool(fs, "dashboard", &cfg.Dashboard); err != nil {
		return err
	}
	if fs.Changed("history-file") {
		val, err := fs.GetString("history-file")
		if err != nil {
			return err
		}
		cfg.HistoryFile = strings.TrimSpace(val)
	}
	if fs.Changed("metrics-addr") {
		val, err := fs.GetString("metrics-addr")
		if err != nil {
			return err
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}

	if err := overrideBool(fs, "tickers", &cfg.Tickers.Enabled); err != nil {
		return err
	}
	if fs.Changed("watch-ticks") {
		val, err := fs.GetInt("watch-ticks")
		if err != nil {
			return err
		}
		cfg.Ticks.Count = val
	}
	if fs.Changed("ticks-path") {
		val, err := fs.GetString("ticks-path")
		if err != nil {
			return err
		}
		cfg.Ticks.Path = strings.TrimSpace(val)
	}
	if fs.Changed("ticks-timeout") {
		val, err := fs.GetDuration("ticks-timeout")
		if err != nil {
			return err
		}
		cfg.Ticks.ReadTimeout = val
	}

	if fs.Changed("trace-endpoint") {
		val, err := fs.GetString("trace-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("trace-protocol") {
		val, err := fs.GetString("trace-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if err := overrideBool(fs, "trace-insecure", &cfg.Tracing.Insecure); err != nil {
		return err
	}
	if fs.Changed("trace-service-name") {
		val, err := fs.GetString("trace-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = strings.TrimSpace(val)
	}
	if fs.Changed("trace-sample-rate") {
		val, err := fs.GetFloat64("trace-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("trace-propagate") {
		val, err := fs.GetBool("trace-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}

	vals, err := fs.GetStringSlice("header")
	if err != nil {
		return err
	}
	if len(vals) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, entry := range vals {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("header must be in key=value format: %s", entry)
			}
			key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
			if key == "" {
				return fmt.Errorf("header key cannot be empty")
			}
			cfg.Headers[key] = strings.TrimSpace(parts[1])
		}
	}

	return nil
}

func overrideBool(fs *pflag.FlagSet, name string, dst *bool) error {
	if !fs.Changed(name) {
		return nil
	}
	val, err := fs.GetBool(name)
	if err != nil {
		return err
	}
	*dst = val
	return nil
}
