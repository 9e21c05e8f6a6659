// Package metrics exposes the Prometheus instrumentation for the relay,
// grounded on poyrazK-cloudDNS/internal/infrastructure/metrics's
// promauto-registered counter/gauge/histogram style, trimmed to the
// signals SPEC_FULL.md §3.1/§6 calls for (BGP-related gauges dropped,
// nothing in this relay advertises routes).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal tracks total DNS queries processed, by query type and
	// response code.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydns_queries_total",
		Help: "Total number of DNS queries processed",
	}, []string{"qtype", "rcode"})

	// SessionDuration tracks per-datagram session processing time.
	SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relaydns_session_duration_seconds",
		Help:    "Histogram of per-datagram session processing duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// CacheOperations tracks L1/L2 cache hits and misses.
	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydns_cache_operations_total",
		Help: "Total number of cache hits and misses",
	}, []string{"level", "result"})

	// ForwardingPending tracks the number of in-flight upstream forwards
	// awaiting a reply.
	ForwardingPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaydns_forwarding_pending",
		Help: "Number of upstream forwards awaiting a reply",
	})

	// DBConnectionsActive tracks open database connections.
	DBConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaydns_db_connections_active",
		Help: "Number of active database connections",
	})
)
