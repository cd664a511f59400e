// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"github.com/ManuGH/streamkeeper/internal/bufferhealth"
	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/degradation"
	"github.com/ManuGH/streamkeeper/internal/engine"
	"github.com/ManuGH/streamkeeper/internal/failure"
	"github.com/ManuGH/streamkeeper/internal/manifest"
	"github.com/ManuGH/streamkeeper/internal/ratelimit"
	"github.com/ManuGH/streamkeeper/internal/recovery"
	"github.com/ManuGH/streamkeeper/internal/telemetry"
)

// EngineConfig maps the file configuration onto the component configs.
// Zero values fall through to each component's defaults.
func EngineConfig(cfg config.AppConfig) engine.Config {
	return engine.Config{
		Classifier: failure.Config{
			RecordCapacity:      cfg.Classifier.RecordCapacity,
			BodyLimit:           cfg.Classifier.BodyLimit,
			FullTTL:             cfg.Classifier.URLTTL,
			PreemptiveThreshold: cfg.Classifier.PreemptiveThreshold,
			CriticalThreshold:   cfg.Classifier.CriticalThreshold,
			TrackedVideos:       cfg.Classifier.TrackedVideos,
		},
		RateLimit: ratelimit.Config{
			PerKeyMax:           cfg.RateLimit.PerKeyMax,
			PerKeyWindow:        cfg.RateLimit.PerKeyWindow,
			RecoveryPerKeyMax:   cfg.RateLimit.RecoveryPerKeyMax,
			GlobalMax:           cfg.RateLimit.GlobalMax,
			GlobalWindow:        cfg.RateLimit.GlobalWindow,
			ManualMinInterval:   cfg.RateLimit.ManualMinInterval,
			PrefetchMinInterval: cfg.RateLimit.PrefetchMinInterval,
			RecoveryMinInterval: cfg.RateLimit.RecoveryMinInterval,
			BackoffBase:         cfg.RateLimit.BackoffBase,
			BackoffMax:          cfg.RateLimit.BackoffMax,
			PrefetchReserve:     cfg.RateLimit.PrefetchReserve,
		},
		Recovery: recovery.Config{
			MaxAttempts:      cfg.Recovery.MaxAttempts,
			StallThreshold:   cfg.Recovery.StallThreshold,
			MaxURLRefreshes:  cfg.Recovery.MaxURLRefreshes,
			RateLimitDelay:   cfg.Recovery.RateLimitDelay,
			BackoffIncrement: cfg.Recovery.BackoffIncrement,
		},
		Degradation: degradation.Config{
			MaxRefreshBudget:    cfg.Degradation.MaxRefreshBudget,
			DegradedFraction:    cfg.Degradation.DegradedFraction,
			MaxQualityStepDowns: cfg.Degradation.MaxQualityStepDowns,
			RecoveryWindow:      cfg.Degradation.RecoveryWindow,
		},
		BufferHealth: bufferhealth.Config{
			SampleInterval:    cfg.BufferHealth.SampleInterval,
			GracePeriod:       cfg.BufferHealth.GracePeriod,
			CriticalThreshold: cfg.BufferHealth.CriticalThreshold,
			MinDropPerSample:  cfg.BufferHealth.MinDropPerSample,
			DecliningSamples:  cfg.BufferHealth.DecliningSamples,
			Cooldown:          cfg.BufferHealth.Cooldown,
			MaxDownshifts:     cfg.BufferHealth.MaxDownshifts,
		},
		Manifest: manifest.RegistryConfig{
			Capacity: cfg.Manifest.Capacity,
			TTL:      cfg.Manifest.TTL,
		},
		ResolveTimeout: cfg.Resolver.WaitTimeout,
	}
}

// TelemetryConfig maps the tracing section.
func TelemetryConfig(cfg config.AppConfig) telemetry.Config {
	return telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	}
}
