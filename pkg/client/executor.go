package client

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/quantflow/dataapi-client/pkg/api"
	"github.com/quantflow/dataapi-client/pkg/ratelimit"
)

// Prometheus metrics for page request execution.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataapi_requests_total",
		Help: "Total endpoint requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dataapi_request_duration_seconds",
		Help:    "Endpoint request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataapi_retries_total",
		Help: "Total retry attempts by endpoint",
	}, []string{"endpoint"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataapi_retry_exhausted_total",
		Help: "Total page requests that exhausted their retry budget",
	}, []string{"endpoint"})
)

// executor issues one logical page request: rate-limit admission, a single
// transport call, and a bounded retry loop around transient failures.
type executor struct {
	transport  api.Transport
	limiter    *ratelimit.Limiter
	maxRetries int
	retryDelay time.Duration

	// cachedRate reports the endpoint's per-minute budget when its limits
	// are already known. Admission is skipped while limits are unknown so
	// probing never recurses into the limiter. Nil disables admission
	// entirely (rate limiting turned off).
	cachedRate func(endpoint string) (int, bool)

	logger zerolog.Logger
}

// execute sends one page request and returns the server's data payload.
// Transient failures are retried up to maxRetries with a fixed delay;
// exhaustion or a permanent error yields a *RequestFailedError.
func (e *executor) execute(ctx context.Context, endpoint string, params map[string]any, fields []string) (*api.PageData, error) {
	if e.cachedRate != nil {
		if rate, ok := e.cachedRate(endpoint); ok {
			if err := e.limiter.Admit(ctx, endpoint, rate); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
		}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; ; attempt++ {
		attempts = attempt + 1
		start := time.Now()
		resp, err := e.transport.Send(ctx, endpoint, params, fields)
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		retryable := false
		switch {
		case err != nil:
			// Transport failures are always transient from our side.
			requestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
			lastErr = err
			retryable = true
		case resp.Code != 0:
			requestsTotal.WithLabelValues(endpoint, "api_error").Inc()
			lastErr = &APIError{Endpoint: endpoint, Code: resp.Code, Message: resp.Msg}
			retryable = shouldRetry(resp.Code)
		default:
			requestsTotal.WithLabelValues(endpoint, "ok").Inc()
			if attempt > 0 {
				e.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return resp.Data, nil
		}

		if !retryable {
			break
		}
		if attempt >= e.maxRetries {
			retryExhaustedTotal.WithLabelValues(endpoint).Inc()
			lastErr = fmt.Errorf("%w: %w", ErrRetryExhausted, lastErr)
			break
		}

		retriesTotal.WithLabelValues(endpoint).Inc()
		e.logger.Warn().
			Err(lastErr).
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Dur("retry_delay", e.retryDelay).
			Msg("Request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(e.retryDelay):
		}
	}

	e.logger.Error().
		Err(lastErr).
		Str("endpoint", endpoint).
		Int("attempts", attempts).
		Msg("Request failed")

	return nil, &RequestFailedError{
		Endpoint: endpoint,
		Attempts: attempts,
		Err:      lastErr,
	}
}
