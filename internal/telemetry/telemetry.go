package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dragon"

var (
	// CommandsDispatched counts inbound commands by module and outcome
	// (ok, failed, busy, inactive, unknown).
	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_dispatched_total",
		Help:      "Inbound commands routed to a module handler.",
	}, []string{"module", "outcome"})

	// CommandDuration observes handler latency per module.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_duration_seconds",
		Help:      "Time spent inside module command handlers.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"module"})

	// PermissionDenials counts denied permission checks.
	PermissionDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_denials_total",
		Help:      "Permission checks that ended in a denial reply.",
	}, []string{"module", "permission"})

	// LockBlocked counts slot acquisitions that timed out.
	LockBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "module_lock_blocked_total",
		Help:      "Module slot lock acquisitions that gave up before the lock was free.",
	}, []string{"module", "mode"})

	// ActivationChanges counts successful activations and deactivations.
	ActivationChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activation_changes_total",
		Help:      "Modules activated or deactivated for a tenant.",
	}, []string{"module", "op"})

	// RemoteOperations counts remote command registry calls by op and outcome.
	RemoteOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_command_operations_total",
		Help:      "Calls made to the remote command registry.",
	}, []string{"op", "outcome"})

	// TenantsInitialized tracks tenants whose activation state is loaded.
	TenantsInitialized = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tenants_initialized",
		Help:      "Tenants with activation state loaded in memory.",
	})
)

// Outcome maps an error to the "ok"/"error" label value.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
