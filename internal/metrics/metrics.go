package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/notify-scheduler/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Alarm metrics

	AlarmsArmedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "alarms_armed_total",
		Help:      "Alarm registrations, by granted tier and registration mode.",
	}, []string{"tier", "mode"})

	TierDowngradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "tier_downgrades_total",
		Help:      "Requests armed below their requested tier because exact alarms were unavailable.",
	}, []string{"requested"})

	// Fire metrics

	FiresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "fires_total",
		Help:      "Alarm fires handled by the dispatcher, by outcome.",
	}, []string{"outcome"})

	FireLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "fire_lag_seconds",
		Help:      "Delay between the armed target and the moment the fire was handled.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 900, 3600},
	})

	RetiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "requests_retired_total",
		Help:      "One-shot requests removed after firing.",
	})

	// Rehydration metrics

	RehydratedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "rehydrated_total",
		Help:      "Requests processed during boot rehydration, by result.",
	}, []string{"result"})

	RehydrateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "rehydrate_duration_seconds",
		Help:      "Time taken to rehydrate all pending requests.",
		Buckets:   prometheus.DefBuckets,
	})

	// Store metrics

	CorruptRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "corrupt_records_total",
		Help:      "Stored records that failed to decode and were dropped.",
	})

	PendingRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "pending_requests",
		Help:      "Number of pending requests after the last store write.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scheduler",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scheduler",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		AlarmsArmedTotal,
		TierDowngradesTotal,
		FiresTotal,
		FireLag,
		RetiredTotal,
		RehydratedTotal,
		RehydrateDuration,
		CorruptRecordsTotal,
		PendingRequests,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves /metrics plus liveness and readiness probes.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
