package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const labelUnknown = "unknown"

var (
	resolverJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_resolver_jobs_total",
		Help: "Resolution job lifecycle events (started, joined, forced, succeeded, failed, cancelled)",
	}, []string{"event"})

	resolverWaitTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamkeeper_resolver_wait_timeouts_total",
		Help: "Callers that stopped waiting for a resolution job because their timeout elapsed",
	})

	resolverInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamkeeper_resolver_inflight_jobs",
		Help: "Resolution jobs currently in flight",
	})

	resolverDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamkeeper_resolver_extract_seconds",
		Help:    "Extraction duration per resolution job",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
	}, []string{"outcome"})

	failuresClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_failures_classified_total",
		Help: "HTTP failures by classification",
	}, []string{"kind"})

	rateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_ratelimit_decisions_total",
		Help: "Rate limiter decisions by request kind and outcome",
	}, []string{"kind", "outcome"})

	recoveryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_recovery_attempts_total",
		Help: "Recovery attempts by step",
	}, []string{"step"})

	recoveryOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_recovery_outcomes_total",
		Help: "Recovery outcomes (recovered, exhausted)",
	}, []string{"outcome"})

	degradationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_degradation_transitions_total",
		Help: "Degradation state transitions by target state",
	}, []string{"state"})

	degradationActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_degradation_actions_total",
		Help: "Degradation actions requested by the budget manager",
	}, []string{"action"})

	bufferDownshiftsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_buffer_downshifts_total",
		Help: "Proactive downshift requests from the buffer health monitor",
	}, []string{"result"})

	manifestGenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_manifest_generations_total",
		Help: "Synthetic manifest generation attempts by result",
	}, []string{"result"})

	manifestRegistryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamkeeper_manifest_registry_entries",
		Help: "Manifests currently held by the registry",
	})

	manifestEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamkeeper_manifest_evictions_total",
		Help: "Manifests evicted because the registry was full",
	})

	cacheHitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_cache_hit_decisions_total",
		Help: "Pipeline reuse decisions by adaptive kind and result",
	}, []string{"adaptive_kind", "result"})

	extractorCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_extractor_cache_total",
		Help: "Extractor cache lookups by result",
	}, []string{"result"})

	diagnosticsSinkTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_diagnostics_sink_total",
		Help: "Failure records handed to the diagnostics sink by result",
	}, []string{"result"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamkeeper_circuit_breaker_state",
		Help: "Breaker state per guarded dependency; the active state is 1",
	}, []string{"component", "state"})

	breakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamkeeper_circuit_breaker_trips_total",
		Help: "Breaker transitions to open per guarded dependency and cause",
	}, []string{"component", "reason"})
)

var breakerStates = [...]string{"closed", "half-open", "open"}

func label(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return labelUnknown
	}
	return v
}

// IncResolverJob records a resolution job lifecycle event.
func IncResolverJob(event string) {
	resolverJobsTotal.WithLabelValues(label(event)).Inc()
}

// IncResolverWaitTimeout records a caller-local wait timeout.
func IncResolverWaitTimeout() {
	resolverWaitTimeoutsTotal.Inc()
}

// SetResolverInflight sets the in-flight job gauge.
func SetResolverInflight(n int) {
	resolverInflight.Set(float64(n))
}

// ObserveResolverDuration records how long one extraction took.
func ObserveResolverDuration(outcome string, seconds float64) {
	resolverDuration.WithLabelValues(label(outcome)).Observe(seconds)
}

// IncFailureClassified counts one classified HTTP failure.
func IncFailureClassified(kind string) {
	failuresClassifiedTotal.WithLabelValues(label(kind)).Inc()
}

// IncRateLimitDecision counts one limiter decision.
func IncRateLimitDecision(kind, outcome string) {
	rateLimitDecisionsTotal.WithLabelValues(label(kind), label(outcome)).Inc()
}

// IncRecoveryAttempt counts one recovery step execution.
func IncRecoveryAttempt(step string) {
	recoveryAttemptsTotal.WithLabelValues(label(step)).Inc()
}

// IncRecoveryOutcome counts one terminal recovery outcome.
func IncRecoveryOutcome(outcome string) {
	recoveryOutcomesTotal.WithLabelValues(label(outcome)).Inc()
}

// IncDegradationTransition counts a transition into state.
func IncDegradationTransition(state string) {
	degradationTransitionsTotal.WithLabelValues(label(state)).Inc()
}

// IncDegradationAction counts a requested degradation action.
func IncDegradationAction(action string) {
	degradationActionsTotal.WithLabelValues(label(action)).Inc()
}

// IncBufferDownshift counts a proactive downshift request ("accepted" or "rejected").
func IncBufferDownshift(result string) {
	bufferDownshiftsTotal.WithLabelValues(label(result)).Inc()
}

// IncManifestGeneration counts a generation attempt ("ok" or an ineligibility reason).
func IncManifestGeneration(result string) {
	manifestGenerationsTotal.WithLabelValues(label(result)).Inc()
}

// SetManifestRegistryEntries sets the registry size gauge.
func SetManifestRegistryEntries(n int) {
	manifestRegistryEntries.Set(float64(n))
}

// IncManifestEviction counts one capacity eviction.
func IncManifestEviction() {
	manifestEvictionsTotal.Inc()
}

// IncCacheHitDecision counts one reuse-or-rebuild decision.
func IncCacheHitDecision(adaptiveKind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheHitDecisionsTotal.WithLabelValues(label(adaptiveKind), result).Inc()
}

// IncExtractorCache counts one extractor cache lookup ("hit", "miss", "error").
func IncExtractorCache(result string) {
	extractorCacheTotal.WithLabelValues(label(result)).Inc()
}

// IncDiagnosticsSink counts one record handed to the sink ("published", "dropped", "failed").
func IncDiagnosticsSink(result string) {
	diagnosticsSinkTotal.WithLabelValues(label(result)).Inc()
}

// SetCircuitBreakerState marks state as the active breaker state of component.
// Unknown states clear every series of the component.
func SetCircuitBreakerState(component, state string) {
	component, state = label(component), label(state)
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(component, s).Set(v)
	}
}

// RecordCircuitBreakerTrip counts one transition of component to open.
func RecordCircuitBreakerTrip(component, reason string) {
	breakerTripsTotal.WithLabelValues(label(component), label(reason)).Inc()
}
