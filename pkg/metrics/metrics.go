// Package metrics provides the centralized Prometheus metrics registry for
// the data API client. All metrics are defined in their respective packages
// (client, limits, ratelimit) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective
// packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - dataapi_requests_total{endpoint, outcome} (Counter): Requests by outcome (ok, api_error, transport_error)
//   - dataapi_request_duration_seconds{endpoint} (Histogram): Request duration
//   - dataapi_retries_total{endpoint} (Counter): Retry attempts
//   - dataapi_retry_exhausted_total{endpoint} (Counter): Requests that exhausted max retries
//   - dataapi_pages_fetched_total{endpoint, mode} (Counter): Pages fetched by paging mode (sequential, concurrent)
//   - dataapi_limit_probes_total{endpoint, kind} (Counter): Limit probe runs by kind (cap, rate)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - dataapi_rate_limit_admissions_total{endpoint} (Counter): Admitted requests
//   - dataapi_rate_limit_wait_seconds{endpoint} (Histogram): Time blocked waiting for a slot
//   - dataapi_rate_limit_blocks_total{endpoint} (Counter): Admissions that had to wait
//
// Limits Store Metrics (pkg/limits):
//   - dataapi_limits_store_hits_total (Counter): Stored limits found
//   - dataapi_limits_store_misses_total (Counter): Endpoints with no stored limits
//   - dataapi_limits_store_errors_total{operation} (Counter): Store operation errors
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   sum(rate(dataapi_requests_total{outcome!="ok"}[5m])) /
//   sum(rate(dataapi_requests_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(dataapi_request_duration_seconds_bucket[5m]))
//
//   # Time Lost To Rate Limiting
//   sum(rate(dataapi_rate_limit_wait_seconds_sum[5m]))
//
//   # Retry Pressure
//   rate(dataapi_retries_total[5m])
