// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*AppConfig) {}},
		{
			name:    "bad log level",
			mutate:  func(c *AppConfig) { c.LogLevel = "loud" },
			wantErr: "logLevel",
		},
		{
			name:    "listen addr without port",
			mutate:  func(c *AppConfig) { c.Server.ListenAddr = "localhost" },
			wantErr: "server.listenAddr",
		},
		{
			name:    "extractor scheme",
			mutate:  func(c *AppConfig) { c.Extractor.BaseURL = "ftp://sidecar" },
			wantErr: "extractor.baseUrl",
		},
		{
			name:   "extractor http ok",
			mutate: func(c *AppConfig) { c.Extractor.BaseURL = "http://sidecar:8080" },
		},
		{
			name:    "redis without addr",
			mutate:  func(c *AppConfig) { c.Cache.Backend = "redis" },
			wantErr: "cache.redisAddr",
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *AppConfig) { c.Cache.Backend = "disk" },
			wantErr: "cache.backend",
		},
		{
			name:    "zero budget",
			mutate:  func(c *AppConfig) { c.Degradation.MaxRefreshBudget = 0 },
			wantErr: "degradation.maxRefreshBudget",
		},
		{
			name:    "reserve swallows budget",
			mutate:  func(c *AppConfig) { c.RateLimit.PrefetchReserve = 3 },
			wantErr: "rateLimit.prefetchReserve",
		},
		{
			name:    "fraction above one",
			mutate:  func(c *AppConfig) { c.Degradation.DegradedFraction = 1.5 },
			wantErr: "degradation.degradedFraction",
		},
		{
			name: "brokers without topic",
			mutate: func(c *AppConfig) {
				c.Diagnostics.KafkaBrokers = []string{"k:9092"}
				c.Diagnostics.KafkaTopic = ""
			},
			wantErr: "diagnostics.kafkaTopic",
		},
		{
			name: "telemetry exporter",
			mutate: func(c *AppConfig) {
				c.Telemetry.Enabled = true
				c.Telemetry.ExporterType = "zipkin"
			},
			wantErr: "telemetry.exporterType",
		},
		{
			name:    "bad cron",
			mutate:  func(c *AppConfig) { c.Janitor.Schedule = "whenever" },
			wantErr: "janitor.schedule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Manifest.Capacity = 0
	err := Validate(cfg)
	assert.ErrorContains(t, err, "logLevel")
	assert.ErrorContains(t, err, "manifest.capacity")
}
