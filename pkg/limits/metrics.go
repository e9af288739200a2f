package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// storeHits tracks limits records found in the durable store.
	storeHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dataapi_limits_store_hits_total",
			Help: "Total number of limits store hits",
		},
	)

	// storeMisses tracks lookups for endpoints with no stored record.
	storeMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dataapi_limits_store_misses_total",
			Help: "Total number of limits store misses",
		},
	)

	// storeErrors tracks store operation errors.
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataapi_limits_store_errors_total",
			Help: "Total number of limits store operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete"
	)
)
