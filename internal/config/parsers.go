// Package config loads bot fleet settings from defaults, a config file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first candidate key present in settings. Viper
// lowercases keys, so each candidate is also tried in lower case.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	return cast.ToStringE(value)
}

func asInt(value interface{}) (int, error) {
	if s, ok := value.(string); ok {
		if s = strings.TrimSpace(s); s == "" {
			return 0, nil
		}
		value = s
	}
	return cast.ToIntE(value)
}

func asFloat64(value interface{}) (float64, error) {
	if s, ok := value.(string); ok {
		if s = strings.TrimSpace(s); s == "" {
			return 0, nil
		}
		value = s
	}
	return cast.ToFloat64E(value)
}

func asBool(value interface{}) (bool, error) {
	if s, ok := value.(string); ok {
		if s = strings.TrimSpace(s); s == "" {
			return false, nil
		}
		value = s
	}
	return cast.ToBoolE(value)
}

// asDuration parses duration strings like "5s". Bare numbers in a config
// file mean seconds.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		return cast.ToDurationE(strings.TrimSpace(v))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		secs, err := cast.ToInt64E(v)
		if err != nil {
			return 0, err
		}
		return time.Duration(secs) * time.Second, nil
	default:
		return cast.ToDurationE(value)
	}
}

func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapStringE(value)
	if err != nil {
		return nil, err
	}
	for k := range m {
		if strings.TrimSpace(k) == "" {
			return nil, errors.New("header key cannot be empty")
		}
	}
	return m, nil
}

// toStringKeyMap normalizes a nested config section to lowercase keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{}, len(m))
	for key, val := range m {
		result[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return result, nil
}
