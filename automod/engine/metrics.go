package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var submissionsScored = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sieve_submissions_scored",
	Help: "Number of submissions scored, by initial routing state",
}, []string{"state"})

var scoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "sieve_score_duration_sec",
	Help: "Duration of submission scoring",
})

var queueEnqueueErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sieve_queue_enqueue_errors",
	Help: "Number of held-back submissions which could not be enqueued for review",
})

var ruleHitCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sieve_rule_hits",
	Help: "Number of rule hits, by rule id",
}, []string{"rule"})
