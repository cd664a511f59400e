// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/streamkeeper/internal/log"
)

// lookupEnv resolves key through parse, falling back to def when the
// variable is unset, empty or malformed. Every outcome is logged with its source.
func lookupEnv[T any](key string, def T, kind string, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		logger.Debug().
			Str("key", key).
			Str("default", render(key, def)).
			Str("source", "default").
			Bool("empty", ok).
			Msg("using default value")
		return def
	}

	v, err := parse(raw)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", render(key, raw)).
			Str("default", render(key, def)).
			Msg("invalid " + kind + " in environment variable, using default")
		return def
	}

	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", render(key, v))
	}
	ev.Msg("using environment variable")
	return v
}

func render(key string, v any) string {
	if isSensitiveKey(key) {
		return masked
	}
	return fmt.Sprint(v)
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return lookupEnv(key, defaultValue, "string", func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return lookupEnv(key, defaultValue, "integer", strconv.Atoi)
}

// ParseDuration reads a Go duration ("5s", "1m30s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return lookupEnv(key, defaultValue, "duration", time.ParseDuration)
}

// ParseBool accepts true/false, 1/0 and yes/no, case-insensitively.
func ParseBool(key string, defaultValue bool) bool {
	return lookupEnv(key, defaultValue, "boolean", func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	})
}

func ParseFloat(key string, defaultValue float64) float64 {
	return lookupEnv(key, defaultValue, "float", func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseStrings reads a comma separated list, trimming blanks.
func ParseStrings(key string, defaultValue []string) []string {
	return lookupEnv(key, defaultValue, "list", func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty list")
		}
		return out, nil
	})
}
