package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	heartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c2_heartbeats_total",
			Help: "Total number of heartbeats processed by transport",
		},
		[]string{"transport"},
	)

	decodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c2_decode_errors_total",
			Help: "Datagrams rejected as protocol errors",
		},
		[]string{"payload"},
	)

	stepFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c2_reconcile_step_failures_total",
			Help: "Reconciliation step failures by step",
		},
		[]string{"step"},
	)

	operationsQueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c2_operations_queued_total",
			Help: "Operations created by kind",
		},
		[]string{"operation"},
	)

	operationsDeployedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "c2_operations_deployed_total",
			Help: "Operations delivered in heartbeat responses",
		},
	)

	operationsAckedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "c2_operations_acknowledged_total",
			Help: "Operation acknowledgements by reported update state",
		},
		[]string{"state"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "c2_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	agentsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "c2_agents_active",
			Help: "Agents seen within the offline timeout",
		},
	)
)

func RecordHeartbeat(transport string) {
	heartbeatsTotal.WithLabelValues(transport).Inc()
}

func RecordDecodeError(payload string) {
	decodeErrorsTotal.WithLabelValues(payload).Inc()
}

func RecordStepFailure(step string) {
	stepFailuresTotal.WithLabelValues(step).Inc()
}

func RecordOperationQueued(operation string) {
	operationsQueuedTotal.WithLabelValues(operation).Inc()
}

func RecordOperationDeployed() {
	operationsDeployedTotal.Inc()
}

func RecordOperationAcknowledged(state string) {
	operationsAckedTotal.WithLabelValues(state).Inc()
}

// SetActiveAgents sets the current number of active agents
func SetActiveAgents(count int) {
	agentsActive.Set(float64(count))
}

// SetBreakerState takes gobreaker's numeric state.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}
