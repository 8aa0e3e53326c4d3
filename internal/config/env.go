package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// envSettings are the values accepted from the process environment or a
// .env file. Process variables win over the file.
type envSettings struct {
	Secret      string `env:"SYSTEM_SECRET"`
	APIURL      string `env:"API_URL"`
	LogLevel    string `env:"LOG_LEVEL"`
	LogFormat   string `env:"LOG_FORMAT"`
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME"`
}

// readEnvFile parses path without touching the process environment.
// A missing file is only an error when required is set.
func readEnvFile(path string, required bool) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	return vals, nil
}

func loadEnv(ctx context.Context, process envconfig.Lookuper, envFile string, required bool) (envSettings, error) {
	var settings envSettings

	fileVals, err := readEnvFile(envFile, required)
	if err != nil {
		return settings, err
	}

	lookuper := process
	if len(fileVals) > 0 {
		lookuper = envconfig.MultiLookuper(process, envconfig.MapLookuper(fileVals))
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &settings,
		Lookuper: lookuper,
	}); err != nil {
		return settings, fmt.Errorf("environment: %w", err)
	}
	return settings, nil
}

func applyEnvSettings(cfg *Config, env envSettings) {
	cfg.Secret = env.Secret
	if v := strings.TrimSpace(env.APIURL); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(env.LogFormat); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(env.Endpoint); v != "" && cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = v
	}
	if v := strings.TrimSpace(env.ServiceName); v != "" && cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = v
	}
}
