package cachestore

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sieve_cache_lookups",
	Help: "Number of cache lookups, by cache name and result",
}, []string{"name", "result"})

func observeLookup(name string, hit bool) {
	if hit {
		cacheLookups.WithLabelValues(name, "hit").Inc()
	} else {
		cacheLookups.WithLabelValues(name, "miss").Inc()
	}
}
