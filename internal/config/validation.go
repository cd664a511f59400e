// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

var validLogLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "error": {}, "fatal": {}, "panic": {}, "disabled": {},
}

// Validate reports every problem in cfg as a joined error.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, ok := validLogLevels[strings.ToLower(cfg.LogLevel)]; !ok {
		add("logLevel: unknown level %q", cfg.LogLevel)
	}

	if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
		add("server.listenAddr: %v", err)
	}
	if cfg.Server.RequestsPerMinute < 0 {
		add("server.requestsPerMinute: must be >= 0")
	}

	if cfg.Extractor.BaseURL != "" {
		u, err := url.Parse(cfg.Extractor.BaseURL)
		switch {
		case err != nil:
			add("extractor.baseUrl: %v", err)
		case u.Scheme != "http" && u.Scheme != "https":
			add("extractor.baseUrl: scheme must be http or https, got %q", u.Scheme)
		}
	}

	switch cfg.Cache.Backend {
	case "memory", "none":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			add("cache.redisAddr: required for redis backend")
		}
	default:
		add("cache.backend: must be memory, redis or none, got %q", cfg.Cache.Backend)
	}

	positive := map[string]int{
		"classifier.recordCapacity":     cfg.Classifier.RecordCapacity,
		"rateLimit.perKeyMax":           cfg.RateLimit.PerKeyMax,
		"rateLimit.recoveryPerKeyMax":   cfg.RateLimit.RecoveryPerKeyMax,
		"rateLimit.globalMax":           cfg.RateLimit.GlobalMax,
		"recovery.maxAttempts":          cfg.Recovery.MaxAttempts,
		"degradation.maxRefreshBudget":  cfg.Degradation.MaxRefreshBudget,
		"bufferHealth.maxDownshifts":    cfg.BufferHealth.MaxDownshifts,
		"manifest.capacity":             cfg.Manifest.Capacity,
		"bufferHealth.decliningSamples": cfg.BufferHealth.DecliningSamples,
		"recovery.maxUrlRefreshes":      cfg.Recovery.MaxURLRefreshes,
	}
	for name, v := range positive {
		if v <= 0 {
			add("%s: must be > 0", name)
		}
	}
	if cfg.RateLimit.PrefetchReserve < 0 || cfg.RateLimit.PrefetchReserve >= cfg.RateLimit.PerKeyMax {
		add("rateLimit.prefetchReserve: must be in [0, perKeyMax)")
	}
	if f := cfg.Degradation.DegradedFraction; f <= 0 || f > 1 {
		add("degradation.degradedFraction: must be in (0, 1]")
	}
	if cfg.Manifest.TTL <= 0 {
		add("manifest.ttl: must be > 0")
	}

	if len(cfg.Diagnostics.KafkaBrokers) > 0 && cfg.Diagnostics.KafkaTopic == "" {
		add("diagnostics.kafkaTopic: required when brokers are set")
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http", "none":
		default:
			add("telemetry.exporterType: must be grpc, http or none, got %q", cfg.Telemetry.ExporterType)
		}
		if r := cfg.Telemetry.SamplingRate; r < 0 || r > 1 {
			add("telemetry.samplingRate: must be in [0, 1]")
		}
	}

	if _, err := cron.ParseStandard(cfg.Janitor.Schedule); err != nil {
		add("janitor.schedule: %v", err)
	}

	return errors.Join(errs...)
}
