package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks successful lease acquisitions.
	AcquireCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reslock_acquire_total",
		Help: "Total number of successful lease acquisitions",
	})
	// ConflictCounter tracks acquisitions rejected because the resource was held.
	ConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reslock_conflict_total",
		Help: "Total number of acquisitions rejected due to an active lease",
	})
	// ExtendCounter tracks successful lease extensions.
	ExtendCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reslock_extend_total",
		Help: "Total number of successful lease extensions",
	})
	// ReleaseCounter tracks voluntary releases.
	ReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reslock_release_total",
		Help: "Total number of voluntary lease releases",
	})
	// ForceReleaseCounter tracks administrative force releases.
	ForceReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reslock_force_release_total",
		Help: "Total number of administrative force releases",
	})
	// SweptCounter tracks expired records removed by the reclaimer.
	SweptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reslock_swept_total",
		Help: "Total number of expired lease records reclaimed",
	})
	// SweepErrorCounter tracks sweep cycles that failed on a store error.
	SweepErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reslock_sweep_errors_total",
		Help: "Total number of reclaim cycles skipped due to store errors",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers reslock core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		AcquireCounter,
		ConflictCounter,
		ExtendCounter,
		ReleaseCounter,
		ForceReleaseCounter,
		SweptCounter,
		SweepErrorCounter,
	)
}
