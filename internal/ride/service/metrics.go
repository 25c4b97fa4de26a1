package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ridesBooked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_bookings_total",
		Help: "Booking attempts grouped by outcome.",
	}, []string{"result"})

	ridesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_completions_total",
		Help: "Completion attempts grouped by outcome.",
	}, []string{"result"})

	fareAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ride_fare_amount",
		Help:    "Fares charged for completed rides.",
		Buckets: prometheus.ExponentialBuckets(25, 2, 8),
	})
)
