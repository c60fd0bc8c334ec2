// Package telemetry implements Metrics/Tracing: a prometheus registry
// exposed over /metrics, an otel tracer for per-phase latency spans, and the
// phase-timer helper CriticalLaneExecutor reports its micro/planBuild/
// priceGas/submit/total breakdown through.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the process-wide Prometheus registry and the counters/
// histograms every component reports into.
type Metrics struct {
	Registry *prometheus.Registry

	TriggersEmitted   *prometheus.CounterVec
	IntentsBuilt      *prometheus.CounterVec
	Submissions       *prometheus.CounterVec
	PhaseLatency      *prometheus.HistogramVec
	RpcErrors         *prometheus.CounterVec
	LiquidationOutcome *prometheus.CounterVec
	GasBumps          prometheus.Counter
	LockContention    prometheus.Counter
}

// New constructs Metrics and registers every collector against a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TriggersEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqbot_triggers_emitted_total", Help: "EdgeTriggers emitted by HealthResolver, by reason.",
		}, []string{"reason"}),
		IntentsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqbot_intents_built_total", Help: "IntentBuilder outcomes, by result.",
		}, []string{"result"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqbot_submissions_total", Help: "TxSubmitter outcomes, by mode and result.",
		}, []string{"mode", "result"}),
		PhaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "liqbot_phase_latency_seconds", Help: "CriticalLaneExecutor per-phase latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"phase"}),
		RpcErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqbot_rpc_errors_total", Help: "RPC errors observed by endpoint and kind.",
		}, []string{"endpoint", "kind"}),
		LiquidationOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqbot_liquidation_outcomes_total", Help: "LiquidationAuditor classifications.",
		}, []string{"classification"}),
		GasBumps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liqbot_gas_bumps_total", Help: "RBF gas bumps issued.",
		}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liqbot_lock_contention_total", Help: "attempt_lock contention events.",
		}),
	}
	reg.MustRegister(m.TriggersEmitted, m.IntentsBuilt, m.Submissions, m.PhaseLatency,
		m.RpcErrors, m.LiquidationOutcome, m.GasBumps, m.LockContention)
	return m
}

// PhaseTimer records wall-clock duration for one named phase into
// PhaseLatency when Stop is called, matching CriticalLaneExecutor's
// micro/planBuild/priceGas/submit/total breakdown.
type PhaseTimer struct {
	metric *prometheus.HistogramVec
	phase  string
	start  time.Time
}

// StartPhase begins timing phase.
func (m *Metrics) StartPhase(phase string) *PhaseTimer {
	return &PhaseTimer{metric: m.PhaseLatency, phase: phase, start: time.Now()}
}

// Stop records the elapsed duration since StartPhase.
func (t *PhaseTimer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.metric.WithLabelValues(t.phase).Observe(elapsed.Seconds())
	return elapsed
}
