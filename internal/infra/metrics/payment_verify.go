package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		PaymentCallbackRequests,
		PaymentCallbackDuration,
	)
}

var (
	// Count of gateway callbacks grouped by method, result and bounded reason.
	// result: ok|fail
	// reason (fail only): unknown_method|not_found|not_verified|already_processed|error
	PaymentCallbackRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callback_requests_total",
			Help: "Count of payment callback calls by method, result and reason.",
		},
		[]string{"method", "result", "reason"},
	)

	// Latency of the callback handler grouped by result.
	PaymentCallbackDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_callback_duration_seconds",
			Help:    "Duration of the payment callback handler in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)
)

func ObservePaymentCallback(method, result, reason string, seconds float64) {
	PaymentCallbackRequests.WithLabelValues(norm(method), norm(result), norm(reason)).Inc()
	PaymentCallbackDuration.WithLabelValues(norm(result)).Observe(seconds)
}
