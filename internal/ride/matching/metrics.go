package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matching_time_seconds",
		Help:    "Time spent selecting and reserving a driver for a ride.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	driversRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drivers_registered_total",
		Help: "Total number of drivers registered.",
	})

	driversAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drivers_available",
		Help: "Number of drivers currently available for matching.",
	})
)
