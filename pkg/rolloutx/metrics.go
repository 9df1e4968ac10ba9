package rolloutx

import (
	"github.com/Abraxas-365/rollout/pkg/ai/llm/agentx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	// trajectoriesTotal counts finished trajectories.
	// Labels: termination, kind (full, partial)
	trajectoriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "engine",
		Name:      "trajectories_total",
		Help:      "Finished trajectories by termination and task kind",
	}, []string{"termination", "kind"})

	// trajectoryDuration measures wall clock per trajectory.
	// Labels: kind
	trajectoryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rollout",
		Subsystem: "engine",
		Name:      "trajectory_duration_seconds",
		Help:      "Trajectory wall-clock duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"kind"})

	// tokensTotal sums provider-reported token usage.
	// Labels: type (prompt, completion)
	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "engine",
		Name:      "tokens_total",
		Help:      "Provider-reported tokens consumed",
	}, []string{"type"})

	resumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "engine",
		Name:      "resumed_total",
		Help:      "Rollouts satisfied from an existing record",
	})

	questionsDone = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "engine",
		Name:      "questions_done_total",
		Help:      "Questions whose every round finished",
	})

	pendingTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rollout",
		Subsystem: "engine",
		Name:      "pending_tasks",
		Help:      "Rollouts submitted and not yet finished",
	})

	// roundsTotal counts parsed model outputs.
	// Labels: event (reasoning, tool_call, answer, malformed)
	roundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "agent",
		Name:      "rounds_total",
		Help:      "Model rounds by parsed event kind",
	}, []string{"event"})

	// toolCallsTotal counts dispatched tool calls.
	// Labels: tool
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "agent",
		Name:      "tool_calls_total",
		Help:      "Tool calls dispatched by tool name",
	}, []string{"tool"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "agent",
		Name:      "model_retries_total",
		Help:      "Model calls retried after a transient failure",
	})

	compactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rollout",
		Subsystem: "agent",
		Name:      "compactions_total",
		Help:      "Working-context compactions applied",
	})

	compactionSaved = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rollout",
		Subsystem: "agent",
		Name:      "compaction_tokens_saved",
		Help:      "Estimated tokens removed per compaction",
		Buckets:   prometheus.ExponentialBuckets(250, 2, 10),
	})

	// inFlight tracks admitted calls per limiter kind.
	// Labels: kind (model or tool kind)
	inFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rollout",
		Subsystem: "limiter",
		Name:      "in_flight",
		Help:      "Calls currently holding an admission slot",
	}, []string{"kind"})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// Observe records agent loop events. It is an agentx.Observer.
func Observe(ev agentx.Event) {
	switch ev.Type {
	case agentx.EventRound:
		roundsTotal.WithLabelValues(string(ev.Kind)).Inc()
	case agentx.EventToolCall:
		toolCallsTotal.WithLabelValues(ev.ToolName).Inc()
	case agentx.EventRetry:
		retriesTotal.Inc()
	case agentx.EventCompaction:
		compactionsTotal.Inc()
		if saved := ev.TokensBefore - ev.TokensAfter; saved > 0 {
			compactionSaved.Observe(float64(saved))
		}
	}
}

// ObserveInFlight records limiter occupancy. It fits asyncx.WithObserver.
func ObserveInFlight(kind string, n int64) {
	inFlight.WithLabelValues(kind).Set(float64(n))
}

func recordTrajectory(res *agentx.Result) {
	trajectoriesTotal.WithLabelValues(string(res.Termination), string(res.Kind)).Inc()
	trajectoryDuration.WithLabelValues(string(res.Kind)).Observe(res.Duration.Seconds())
	if res.Usage.PromptTokens > 0 {
		tokensTotal.WithLabelValues("prompt").Add(float64(res.Usage.PromptTokens))
	}
	if res.Usage.CompletionTokens > 0 {
		tokensTotal.WithLabelValues("completion").Add(float64(res.Usage.CompletionTokens))
	}
}

func recordResumed() {
	resumedTotal.Inc()
}
