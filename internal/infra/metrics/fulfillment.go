package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		itemsDeliveredTotal,
		itemsRevokedTotal,
		sweepRunsTotal,
		sweepDuration,
		commandsDispatchedTotal,
	)
}

var (
	itemsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_items_delivered_total",
			Help: "Purchase item deliveries by buyable type and result (ok/failed).",
		},
		[]string{"buyable", "result"},
	)

	itemsRevokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_items_revoked_total",
			Help: "Purchase item revocations by trigger and result (ok/failed).",
		},
		[]string{"trigger", "result"},
	)

	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expiration_sweep_runs_total",
			Help: "Expiration sweeps by outcome (ok/partial/skipped/error).",
		},
		[]string{"outcome"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "expiration_sweep_duration_seconds",
			Help:    "Duration of one expiration sweep in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	commandsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_commands_dispatched_total",
			Help: "Delivery commands handed to the dispatcher by kind and result.",
		},
		[]string{"kind", "result"},
	)
)

func IncItemDelivery(buyableType string, ok bool) {
	itemsDeliveredTotal.WithLabelValues(norm(buyableType), result(ok)).Inc()
}

func IncItemRevocation(trigger string, ok bool) {
	itemsRevokedTotal.WithLabelValues(norm(trigger), result(ok)).Inc()
}

func ObserveSweep(outcome string, seconds float64) {
	sweepRunsTotal.WithLabelValues(norm(outcome)).Inc()
	sweepDuration.Observe(seconds)
}

func IncCommandDispatch(kind string, ok bool) {
	commandsDispatchedTotal.WithLabelValues(norm(kind), result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
