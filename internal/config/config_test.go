// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("", "1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, ":8088", cfg.Server.ListenAddr)
	assert.Equal(t, 3, cfg.RateLimit.PerKeyMax)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.PerKeyWindow)
	assert.Equal(t, 5, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 15*time.Second, cfg.Recovery.StallThreshold)
	assert.Equal(t, 5, cfg.Degradation.MaxRefreshBudget)
	assert.Equal(t, 5, cfg.Manifest.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.Manifest.TTL)
	assert.Equal(t, "@every 1m", cfg.Janitor.Schedule)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logLevel: debug
server:
  listenAddr: "127.0.0.1:9000"
rateLimit:
  perKeyMax: 6
  globalWindow: 2m
manifest:
  ttl: 90s
diagnostics:
  kafkaBrokers: ["k1:9092", "k2:9092"]
`)
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, 6, cfg.RateLimit.PerKeyMax)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.GlobalWindow)
	assert.Equal(t, 90*time.Second, cfg.Manifest.TTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Diagnostics.KafkaBrokers)

	// untouched sections keep defaults
	assert.Equal(t, 10, cfg.RateLimit.GlobalMax)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
rateLimit:
  perKeyMax: 6
`)
	t.Setenv("STREAMKEEPER_RATELIMIT_PER_KEY_MAX", "8")
	t.Setenv("STREAMKEEPER_MANIFEST_TTL", "45s")
	t.Setenv("STREAMKEEPER_KAFKA_BROKERS", " a:1 , ,b:2")
	t.Setenv("STREAMKEEPER_TELEMETRY_ENABLED", "yes")

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.RateLimit.PerKeyMax)
	assert.Equal(t, 45*time.Second, cfg.Manifest.TTL)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Diagnostics.KafkaBrokers)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("STREAMKEEPER_RECOVERY_MAX_ATTEMPTS", "many")
	t.Setenv("STREAMKEEPER_MANIFEST_TTL", "soon")

	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Manifest.TTL)
}

func TestLoad_TracksConsumedEnvKeys(t *testing.T) {
	l := NewLoader("", "")
	_, err := l.Load()
	require.NoError(t, err)
	assert.Contains(t, l.ConsumedEnvKeys, "STREAMKEEPER_LISTEN_ADDR")
	assert.Contains(t, l.ConsumedEnvKeys, "STREAMKEEPER_REDIS_PASSWORD")
}

func TestLoad_UnknownEnvKeysAreReportedNotFatal(t *testing.T) {
	t.Setenv("STREAMKEEPER_NOT_A_SETTING", "1")
	t.Setenv("STREAMKEEPER_CONFIG", "ignored.yaml")

	l := NewLoader("", "")
	_, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"STREAMKEEPER_NOT_A_SETTING"}, l.unknownEnvKeys())
}

func TestLoad_StrictUnknownField(t *testing.T) {
	path := writeConfig(t, `
rateLimit:
  perKeyMaximum: 6
`)
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "logLevel: info\n---\nlogLevel: debug\n")
	_, err := NewLoader(path, "").Load()
	assert.ErrorIs(t, err, ErrMultipleDocuments)
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server, cfg.Server)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"), "").Load()
	assert.ErrorContains(t, err, "read file")
}

func TestLoadFile_SkipsValidation(t *testing.T) {
	path := writeConfig(t, "cache:\n  backend: floppy\n")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "floppy", cfg.Cache.Backend)
	assert.Error(t, Validate(cfg))
}

func TestDiff(t *testing.T) {
	a := Defaults()
	b := Defaults()
	b.LogLevel = "debug"
	b.Server.APIToken = "secret"
	b.Version = "ignored"

	changes := Diff(a, b)
	require.Len(t, changes, 2)
	assert.Equal(t, Change{Field: "LogLevel", Old: "info", New: "debug"}, changes[0])
	assert.Equal(t, Change{Field: "Server.APIToken", Old: "***", New: "***"}, changes[1])
}
