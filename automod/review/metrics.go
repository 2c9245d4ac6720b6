package review

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sieve_decisions",
	Help: "Number of moderation decisions applied, by macro and resulting state",
}, []string{"macro", "result_state"})
