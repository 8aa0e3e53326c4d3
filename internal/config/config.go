package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	DefaultAmount       = 50
	DefaultTimeout      = 5 * time.Second
	DefaultTicksPath    = "/tickers/ticks"
	DefaultTicksTimeout = 10 * time.Second
	DefaultEnvFile      = ".env"

	highAmountWarning = 500
)

type Config struct {
	APIURL      string            `mapstructure:"api_url"`
	Secret      string            `mapstructure:"-"`
	Amount      int               `mapstructure:"amount"`
	Concurrency int               `mapstructure:"concurrency"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Headers     map[string]string `mapstructure:"headers"`
	Log         LogConfig         `mapstructure:"log"`
	Summary     bool              `mapstructure:"summary"`
	JSONOutput  bool              `mapstructure:"json_output"`
	YAMLOutput  bool              `mapstructure:"yaml_output"`
	Progress    bool              `mapstructure:"progress"`
	Dashboard   bool              `mapstructure:"dashboard"`
	HistoryFile string            `mapstructure:"history_file"`
	MetricsAddr string            `mapstructure:"metrics_addr"`
	Tickers     TickersConfig     `mapstructure:"tickers"`
	Ticks       TicksConfig       `mapstructure:"ticks"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	ConfigFile  string            `mapstructure:"-"`
	EnvFile     string            `mapstructure:"-"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
	File   string `mapstructure:"file"`
}

type TickersConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TicksConfig controls the optional tick subscription each connected bot
// opens. Count == 0 disables it.
type TicksConfig struct {
	Count       int           `mapstructure:"count"`
	Path        string        `mapstructure:"path"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// TracingConfig configures the OTLP trace exporter. An empty endpoint
// disables tracing unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   *bool   `mapstructure:"propagate"`
}

func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ShouldPropagate defaults to true when unset.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return true
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the configuration, printing warnings to stderr.
func (c Config) Validate() error {
	return c.validate(os.Stderr)
}

func (c Config) validate(warnOut io.Writer) error {
	var issues []string

	for _, w := range c.Warnings() {
		fmt.Fprintln(warnOut, w)
	}

	if strings.TrimSpace(c.APIURL) == "" {
		issues = append(issues, "api_url is required (set API_URL or use --api-url)")
	} else if issue := validateAPIURL(c.APIURL); issue != "" {
		issues = append(issues, issue)
	}

	if c.Amount < 0 {
		issues = append(issues, "amount must be >= 0")
	}
	if c.Concurrency < 0 {
		issues = append(issues, "concurrency must be >= 0")
	}
	if c.Timeout <= 0 {
		issues = append(issues, "timeout must be > 0")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log level %q is not supported", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log format %q is not supported (use text or json)", c.Log.Format))
	}

	if c.Dashboard && (c.JSONOutput || c.YAMLOutput) {
		issues = append(issues, "dashboard and json-output/yaml-output are mutually exclusive")
	}
	if c.JSONOutput && c.YAMLOutput {
		issues = append(issues, "json-output and yaml-output are mutually exclusive")
	}
	if c.Dashboard && c.Progress {
		issues = append(issues, "dashboard and progress are mutually exclusive")
	}

	issues = append(issues, validateTicks(c.Ticks, c.Tickers)...)

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", c.Tracing.SampleRate))
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings returns advisory messages that do not fail validation.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Amount > highAmountWarning {
		warnings = append(warnings, fmt.Sprintf("WARNING: Large bot amount configured (%d bots). Ensure you have authorization to load the target API.", c.Amount))
	}
	if strings.TrimSpace(c.Secret) == "" && c.Amount > 0 {
		warnings = append(warnings, "WARNING: SYSTEM_SECRET is not set; every bot will fail with a config error.")
	}
	if c.Ticks.Count > 0 {
		// The stock API ships a tick handler but does not route it.
		warnings = append(warnings, fmt.Sprintf("WARNING: Tick watching needs a server that routes the tick stream at %s (portman-mockapi does). Against an API without it every bot reports a tick error.", c.Ticks.Path))
	}
	if c.Tracing.Insecure && c.Tracing.Enabled() {
		warnings = append(warnings, "WARNING: OTLP exporter TLS is DISABLED (insecure: true).")
	}
	return warnings
}

func validateAPIURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Sprintf("api_url %q is not a valid URL: %v", raw, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Sprintf("api_url %q must be an absolute http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Sprintf("api_url %q has no host", raw)
	}
	return ""
}

func validateTicks(ticks TicksConfig, tickers TickersConfig) []string {
	var issues []string
	if ticks.Count < 0 {
		issues = append(issues, "ticks: count must be >= 0")
	}
	if ticks.Count > 0 && !tickers.Enabled {
		issues = append(issues, "ticks: watch-ticks requires --tickers")
	}
	if ticks.ReadTimeout < 0 {
		issues = append(issues, "ticks: read_timeout must be >= 0")
	}
	if ticks.Count > 0 && !strings.HasPrefix(ticks.Path, "/") {
		issues = append(issues, fmt.Sprintf("ticks: path %q must start with /", ticks.Path))
	}
	return issues
}
