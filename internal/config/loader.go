package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files, the environment and
// command-line arguments.
type Loader struct {
	lookuper envconfig.Lookuper
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a Loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{lookuper: envconfig.OsLookuper()}
}

// NewLoaderWithLookuper creates a Loader that resolves environment
// variables through l instead of the process environment.
func NewLoaderWithLookuper(l envconfig.Lookuper) *Loader {
	return &Loader{lookuper: l}
}

// Load parses command-line arguments and configuration sources to produce a Config.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Amount:     DefaultAmount,
		Timeout:    DefaultTimeout,
		Headers:    map[string]string{},
		Log:        LogConfig{Level: "info", Format: "text"},
		Ticks:      TicksConfig{Path: DefaultTicksPath, ReadTimeout: DefaultTicksTimeout},
		Tracing:    TracingConfig{Protocol: "grpc", SampleRate: 1.0},
		ConfigFile: configPath,
		EnvFile:    DefaultEnvFile,
	}

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	envFile := flagSet.Lookup("env-file").Value.String()
	lookuper := l.lookuper
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	env, err := loadEnv(context.Background(), lookuper, envFile, flagSet.Changed("env-file"))
	if err != nil {
		return nil, err
	}
	cfg.EnvFile = envFile
	applyEnvSettings(cfg, env)

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.APIURL = strings.TrimSpace(cfg.APIURL)
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "api_url", "apiurl", "api-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("api_url: %w", err)
		}
		cfg.APIURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "amount"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		cfg.Amount = val
	}

	if raw, ok := lookupSetting(settings, "concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("concurrency: %w", err)
		}
		cfg.Concurrency = val
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		if err := parseLogConfig(raw, &cfg.Log); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	bools := []struct {
		keys []string
		dst  *bool
	}{
		{[]string{"summary"}, &cfg.Summary},
		{[]string{"json_output", "jsonoutput", "json-output"}, &cfg.JSONOutput},
		{[]string{"yaml_output", "yamloutput", "yaml-output"}, &cfg.YAMLOutput},
		{[]string{"progress"}, &cfg.Progress},
		{[]string{"dashboard"}, &cfg.Dashboard},
	}
	for _, b := range bools {
		if raw, ok := lookupSetting(settings, b.keys...); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", b.keys[0], err)
			}
			*b.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "history_file", "historyfile", "history-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("history_file: %w", err)
		}
		cfg.HistoryFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "metrics_addr", "metricsaddr", "metrics-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "tickers"); ok {
		m, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tickers: %w", err)
		}
		if v, ok := m["enabled"]; ok {
			val, err := asBool(v)
			if err != nil {
				return fmt.Errorf("tickers.enabled: %w", err)
			}
			cfg.Tickers.Enabled = val
		}
	}

	if raw, ok := lookupSetting(settings, "ticks"); ok {
		if err := parseTicksConfig(raw, &cfg.Ticks); err != nil {
			return fmt.Errorf("ticks: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := parseTracingConfig(raw, &cfg.Tracing); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

func parseLogConfig(raw interface{}, dst *LogConfig) error {
	m, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	if v, ok := m["level"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		dst.Level = strings.ToLower(strings.TrimSpace(s))
	}
	if v, ok := m["format"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		dst.Format = strings.ToLower(strings.TrimSpace(s))
	}
	if v, ok := m["file"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("file: %w", err)
		}
		dst.File = strings.TrimSpace(s)
	}
	return nil
}

func parseTicksConfig(raw interface{}, dst *TicksConfig) error {
	m, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	if v, ok := m["count"]; ok {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		dst.Count = n
	}
	if v, ok := m["path"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}
		dst.Path = strings.TrimSpace(s)
	}
	if v, ok := lookupSetting(m, "read_timeout", "readtimeout", "read-timeout"); ok {
		d, err := asDuration(v)
		if err != nil {
			return fmt.Errorf("read_timeout: %w", err)
		}
		dst.ReadTimeout = d
	}
	return nil
}

func parseTracingConfig(raw interface{}, dst *TracingConfig) error {
	m, err := toStringKeyMap(raw)
	if err != nil {
		return err
	}
	if v, ok := m["endpoint"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		dst.Endpoint = strings.TrimSpace(s)
	}
	if v, ok := m["protocol"]; ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		dst.Protocol = strings.ToLower(strings.TrimSpace(s))
	}
	if v, ok := m["insecure"]; ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		dst.Insecure = b
	}
	if v, ok := lookupSetting(m, "service_name", "servicename", "service-name"); ok {
		s, err := asString(v)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		dst.ServiceName = strings.TrimSpace(s)
	}
	if v, ok := lookupSetting(m, "sample_rate", "samplerate", "sample-rate"); ok {
		f, err := asFloat64(v)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		dst.SampleRate = f
	}
	if v, ok := m["propagate"]; ok {
		b, err := asBool(v)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		dst.Propagate = &b
	}
	return nil
}
