// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/streamkeeper/internal/log"
)

// EnvPrefix prefixes every environment key read by the loader.
const EnvPrefix = "STREAMKEEPER_"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, which may be empty.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envStrings(key string, defaultVal []string) []string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseStrings(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults, then validates.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	l.warnUnknownEnvKeys()

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with STRICT parsing.
// Unknown fields fail the load to prevent silent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %q (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrMultipleDocuments
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)

	s := &cfg.Server
	s.ListenAddr = l.envString("LISTEN_ADDR", s.ListenAddr)
	s.ReadTimeout = l.envDuration("READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = l.envDuration("WRITE_TIMEOUT", s.WriteTimeout)
	s.ShutdownTimeout = l.envDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.RequestsPerMinute = l.envInt("REQUESTS_PER_MINUTE", s.RequestsPerMinute)
	s.APIToken = l.envString("API_TOKEN", s.APIToken)

	e := &cfg.Extractor
	e.BaseURL = l.envString("EXTRACTOR_URL", e.BaseURL)
	e.Timeout = l.envDuration("EXTRACTOR_TIMEOUT", e.Timeout)
	e.BreakerThreshold = l.envInt("EXTRACTOR_BREAKER_THRESHOLD", e.BreakerThreshold)
	e.BreakerReset = l.envDuration("EXTRACTOR_BREAKER_RESET", e.BreakerReset)

	c := &cfg.Cache
	c.Backend = l.envString("CACHE_BACKEND", c.Backend)
	c.TTL = l.envDuration("CACHE_TTL", c.TTL)
	c.RedisAddr = l.envString("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = l.envString("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = l.envInt("REDIS_DB", c.RedisDB)
	c.KeyPrefix = l.envString("CACHE_KEY_PREFIX", c.KeyPrefix)

	cfg.Resolver.WaitTimeout = l.envDuration("RESOLVE_TIMEOUT", cfg.Resolver.WaitTimeout)

	cl := &cfg.Classifier
	cl.RecordCapacity = l.envInt("FAILURE_RECORDS", cl.RecordCapacity)
	cl.URLTTL = l.envDuration("URL_TTL", cl.URLTTL)

	r := &cfg.RateLimit
	r.PerKeyMax = l.envInt("RATELIMIT_PER_KEY_MAX", r.PerKeyMax)
	r.PerKeyWindow = l.envDuration("RATELIMIT_PER_KEY_WINDOW", r.PerKeyWindow)
	r.GlobalMax = l.envInt("RATELIMIT_GLOBAL_MAX", r.GlobalMax)
	r.GlobalWindow = l.envDuration("RATELIMIT_GLOBAL_WINDOW", r.GlobalWindow)

	rc := &cfg.Recovery
	rc.MaxAttempts = l.envInt("RECOVERY_MAX_ATTEMPTS", rc.MaxAttempts)
	rc.StallThreshold = l.envDuration("RECOVERY_STALL_THRESHOLD", rc.StallThreshold)

	d := &cfg.Degradation
	d.MaxRefreshBudget = l.envInt("DEGRADATION_BUDGET", d.MaxRefreshBudget)
	d.DegradedFraction = l.envFloat("DEGRADATION_FRACTION", d.DegradedFraction)
	d.RecoveryWindow = l.envDuration("DEGRADATION_RECOVERY_WINDOW", d.RecoveryWindow)

	cfg.Manifest.Capacity = l.envInt("MANIFEST_CAPACITY", cfg.Manifest.Capacity)
	cfg.Manifest.TTL = l.envDuration("MANIFEST_TTL", cfg.Manifest.TTL)

	dg := &cfg.Diagnostics
	dg.KafkaBrokers = l.envStrings("KAFKA_BROKERS", dg.KafkaBrokers)
	dg.KafkaTopic = l.envString("KAFKA_TOPIC", dg.KafkaTopic)
	dg.DumpPath = l.envString("DIAGNOSTICS_DUMP", dg.DumpPath)

	t := &cfg.Telemetry
	t.Enabled = l.envBool("TELEMETRY_ENABLED", t.Enabled)
	t.ExporterType = l.envString("TELEMETRY_EXPORTER", t.ExporterType)
	t.Endpoint = l.envString("TELEMETRY_ENDPOINT", t.Endpoint)
	t.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", t.SamplingRate)

	cfg.Janitor.Schedule = l.envString("JANITOR_SCHEDULE", cfg.Janitor.Schedule)
}

// warnUnknownEnvKeys logs STREAMKEEPER_ variables the loader never read.
func (l *Loader) warnUnknownEnvKeys() {
	unknown := l.unknownEnvKeys()
	if len(unknown) == 0 {
		return
	}
	logger := log.WithComponent("config")
	logger.Warn().
		Str("event", "config.unknown_env").
		Strs("keys", unknown).
		Msg("ignoring unknown environment variables")
}

func (l *Loader) unknownEnvKeys() []string {
	var unknown []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) || key == EnvPrefix+"CONFIG" {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// LoadFile decodes a YAML file over the defaults without env overrides or validation.
func LoadFile(path string) (AppConfig, error) {
	cfg := Defaults()
	err := NewLoader(path, "").loadFile(path, &cfg)
	return cfg, err
}
