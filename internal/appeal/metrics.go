package appeal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var appealsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "arbiter_appeals_submitted_total",
	Help: "Number of appeals submitted, by processing path",
}, []string{"path"})

var appealsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "arbiter_appeals_decided_total",
	Help: "Number of appeals decided, by decision source and status",
}, []string{"source", "status"})

var appealsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "arbiter_appeals_closed_total",
	Help: "Number of appeals reaching a terminal status",
}, []string{"status"})

var claimConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "arbiter_claim_conflicts_total",
	Help: "Number of claim attempts that lost a race",
})

var executionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "arbiter_executions_total",
	Help: "Number of executed decisions, by outcome",
}, []string{"outcome"})

var laneDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "arbiter_lane_depth",
	Help: "Number of appeals waiting in each review lane",
}, []string{"lane"})

var reviewsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "arbiter_reviews_in_flight",
	Help: "Number of appeals currently under review",
})
