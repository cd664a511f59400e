// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the effective configuration. The same shape is used for the
// YAML file; fields missing from the file keep their defaults.
type AppConfig struct {
	Version  string `yaml:"-"`
	LogLevel string `yaml:"logLevel"`

	Server       ServerConfig       `yaml:"server"`
	Extractor    ExtractorConfig    `yaml:"extractor"`
	Cache        CacheConfig        `yaml:"cache"`
	Resolver     ResolverConfig     `yaml:"resolver"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	RateLimit    RateLimitConfig    `yaml:"rateLimit"`
	Recovery     RecoveryConfig     `yaml:"recovery"`
	Degradation  DegradationConfig  `yaml:"degradation"`
	BufferHealth BufferHealthConfig `yaml:"bufferHealth"`
	Manifest     ManifestConfig     `yaml:"manifest"`
	Diagnostics  DiagnosticsConfig  `yaml:"diagnostics"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Janitor      JanitorConfig      `yaml:"janitor"`
}

// ServerConfig controls the HTTP control surface.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RequestsPerMinute is the per-IP request budget; 0 disables throttling.
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
	APIToken          string `yaml:"apiToken"`
}

// ExtractorConfig points at the extraction sidecar.
type ExtractorConfig struct {
	BaseURL          string        `yaml:"baseUrl"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// CacheConfig selects the resolved-stream cache backend.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // memory, redis or none
	TTL           time.Duration `yaml:"ttl"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDb"`
	KeyPrefix     string        `yaml:"keyPrefix"`
}

type ResolverConfig struct {
	WaitTimeout time.Duration `yaml:"waitTimeout"`
}

type ClassifierConfig struct {
	RecordCapacity      int           `yaml:"recordCapacity"`
	BodyLimit           int           `yaml:"bodyLimit"`
	URLTTL              time.Duration `yaml:"urlTtl"`
	PreemptiveThreshold time.Duration `yaml:"preemptiveThreshold"`
	CriticalThreshold   time.Duration `yaml:"criticalThreshold"`
	TrackedVideos       int           `yaml:"trackedVideos"`
}

type RateLimitConfig struct {
	PerKeyMax           int           `yaml:"perKeyMax"`
	PerKeyWindow        time.Duration `yaml:"perKeyWindow"`
	RecoveryPerKeyMax   int           `yaml:"recoveryPerKeyMax"`
	GlobalMax           int           `yaml:"globalMax"`
	GlobalWindow        time.Duration `yaml:"globalWindow"`
	ManualMinInterval   time.Duration `yaml:"manualMinInterval"`
	PrefetchMinInterval time.Duration `yaml:"prefetchMinInterval"`
	RecoveryMinInterval time.Duration `yaml:"recoveryMinInterval"`
	BackoffBase         time.Duration `yaml:"backoffBase"`
	BackoffMax          time.Duration `yaml:"backoffMax"`
	PrefetchReserve     int           `yaml:"prefetchReserve"`
}

type RecoveryConfig struct {
	MaxAttempts      int           `yaml:"maxAttempts"`
	StallThreshold   time.Duration `yaml:"stallThreshold"`
	MaxURLRefreshes  int           `yaml:"maxUrlRefreshes"`
	RateLimitDelay   time.Duration `yaml:"rateLimitDelay"`
	BackoffIncrement time.Duration `yaml:"backoffIncrement"`
}

type DegradationConfig struct {
	MaxRefreshBudget    int           `yaml:"maxRefreshBudget"`
	DegradedFraction    float64       `yaml:"degradedFraction"`
	MaxQualityStepDowns int           `yaml:"maxQualityStepDowns"`
	RecoveryWindow      time.Duration `yaml:"recoveryWindow"`
}

type BufferHealthConfig struct {
	SampleInterval    time.Duration `yaml:"sampleInterval"`
	GracePeriod       time.Duration `yaml:"gracePeriod"`
	CriticalThreshold time.Duration `yaml:"criticalThreshold"`
	MinDropPerSample  time.Duration `yaml:"minDropPerSample"`
	DecliningSamples  int           `yaml:"decliningSamples"`
	Cooldown          time.Duration `yaml:"cooldown"`
	MaxDownshifts     int           `yaml:"maxDownshifts"`
}

type ManifestConfig struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// DiagnosticsConfig routes failure records off-box.
type DiagnosticsConfig struct {
	KafkaBrokers []string `yaml:"kafkaBrokers"`
	KafkaTopic   string   `yaml:"kafkaTopic"`
	QueueSize    int      `yaml:"queueSize"`
	// DumpPath receives an atomic JSON snapshot of the failure ring on shutdown.
	DumpPath string `yaml:"dumpPath"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	Environment  string  `yaml:"environment"`
	ExporterType string  `yaml:"exporterType"` // grpc, http or none
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type JanitorConfig struct {
	// Schedule is a cron spec, e.g. "@every 1m".
	Schedule string `yaml:"schedule"`
	// ManifestMaxAge prunes registry entries older than this.
	ManifestMaxAge time.Duration `yaml:"manifestMaxAge"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:        ":8088",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RequestsPerMinute: 120,
		},
		Extractor: ExtractorConfig{
			Timeout:          20 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Cache: CacheConfig{
			Backend:   "memory",
			TTL:       30 * time.Minute,
			KeyPrefix: "streamkeeper:",
		},
		Resolver: ResolverConfig{
			WaitTimeout: 30 * time.Second,
		},
		Classifier: ClassifierConfig{
			RecordCapacity:      50,
			BodyLimit:           1000,
			URLTTL:              6 * time.Hour,
			PreemptiveThreshold: 30 * time.Minute,
			CriticalThreshold:   10 * time.Minute,
			TrackedVideos:       1024,
		},
		RateLimit: RateLimitConfig{
			PerKeyMax:           3,
			PerKeyWindow:        5 * time.Minute,
			RecoveryPerKeyMax:   2,
			GlobalMax:           10,
			GlobalWindow:        time.Minute,
			ManualMinInterval:   30 * time.Second,
			PrefetchMinInterval: 30 * time.Second,
			RecoveryMinInterval: 10 * time.Second,
			BackoffBase:         2 * time.Second,
			BackoffMax:          60 * time.Second,
			PrefetchReserve:     1,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:      5,
			StallThreshold:   15 * time.Second,
			MaxURLRefreshes:  3,
			RateLimitDelay:   10 * time.Second,
			BackoffIncrement: 2 * time.Second,
		},
		Degradation: DegradationConfig{
			MaxRefreshBudget:    5,
			DegradedFraction:    0.5,
			MaxQualityStepDowns: 2,
			RecoveryWindow:      60 * time.Second,
		},
		BufferHealth: BufferHealthConfig{
			SampleInterval:    time.Second,
			GracePeriod:       10 * time.Second,
			CriticalThreshold: 5 * time.Second,
			MinDropPerSample:  250 * time.Millisecond,
			DecliningSamples:  2,
			Cooldown:          30 * time.Second,
			MaxDownshifts:     3,
		},
		Manifest: ManifestConfig{
			Capacity: 5,
			TTL:      2 * time.Minute,
		},
		Diagnostics: DiagnosticsConfig{
			KafkaTopic: "streamkeeper.failures",
			QueueSize:  256,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "streamkeeper",
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Janitor: JanitorConfig{
			Schedule:       "@every 1m",
			ManifestMaxAge: 10 * time.Minute,
		},
	}
}
