package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	availabilityFetch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "availability_fetch_total",
			Help:      "Count of availability fetches by outcome.",
		},
		[]string{"outcome"},
	)

	availabilityFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "slotsync",
			Name:      "availability_fetch_duration_seconds",
			Help:      "Latency of availability fetches against the backend.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 12},
		},
	)

	availabilityShared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "availability_fetch_shared_total",
			Help:      "Count of callers served by an already in-flight fetch.",
		},
	)

	checkoutOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "checkout_total",
			Help:      "Count of checkout attempts by outcome.",
		},
		[]string{"outcome"},
	)

	sessionFallback = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "session_store_fallback_total",
			Help:      "Count of session store operations served by the fallback store.",
		},
		[]string{"op"},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotsync",
			Name:      "http_rate_limited_total",
			Help:      "Count of API requests rejected by the rate limiter.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			availabilityFetch,
			availabilityFetchDuration,
			availabilityShared,
			checkoutOutcome,
			sessionFallback,
			rateLimited,
		)
	})
}

func ObserveAvailabilityFetch(outcome string, elapsed time.Duration) {
	availabilityFetch.WithLabelValues(outcome).Inc()
	availabilityFetchDuration.Observe(elapsed.Seconds())
}

func IncAvailabilityShared() {
	availabilityShared.Inc()
}

func IncCheckout(outcome string) {
	checkoutOutcome.WithLabelValues(outcome).Inc()
}

func IncSessionFallback(op string) {
	sessionFallback.WithLabelValues(op).Inc()
}

func IncRateLimited() {
	rateLimited.Inc()
}
