package client

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/quantflow/dataapi-client/pkg/api"
	"github.com/quantflow/dataapi-client/pkg/limits"
	"github.com/quantflow/dataapi-client/pkg/ratelimit"
)

var probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dataapi_limit_probes_total",
	Help: "Total limit probe runs by endpoint and kind",
}, []string{"endpoint", "kind"})

const (
	// fallbackCap is assumed when the cap probe cannot reach the server.
	// Conservative enough to paginate safely against any known backend.
	fallbackCap = 5000

	// capHeuristicMultiple: servers that omit the continuation flag pad
	// capped responses to a round row count. A count that is a positive
	// multiple of this is read as the cap; anything else means uncapped.
	capHeuristicMultiple = 1000

	// probePageSize keeps calibration requests cheap during rate probing.
	probePageSize = 100
)

// prober actively discovers an endpoint's per-request cap and per-minute
// rate by issuing calibration requests straight through the transport,
// bypassing retry and admission so discovery cannot recurse into either.
type prober struct {
	transport api.Transport
	limiter   *ratelimit.Limiter

	// marker identifies a rate-limit rejection in server error messages.
	marker string

	// window bounds the wall time of a rate probe. 60 seconds in
	// production, matching the budget window being measured.
	window time.Duration
	now    func() time.Time

	logger zerolog.Logger
}

// detectCap determines the endpoint's per-request row cap.
// It never fails the caller: any error during probing falls back to a
// conservative default instead of propagating.
func (p *prober) detectCap(ctx context.Context, endpoint string, required map[string]any) int {
	probesTotal.WithLabelValues(endpoint, "cap").Inc()
	p.logger.Info().Str("endpoint", endpoint).Msg("Probing per-request cap")

	// One request with no limit parameter: the server answers with as many
	// rows as it is willing to hand over in a single call.
	resp, err := p.transport.Send(ctx, endpoint, cloneParams(required), nil)
	if err != nil {
		p.logger.Warn().Err(err).Str("endpoint", endpoint).
			Int("fallback_cap", fallbackCap).
			Msg("Cap probe failed, using fallback cap")
		return fallbackCap
	}
	if resp.Code != 0 {
		p.logger.Warn().
			Str("endpoint", endpoint).
			Int("code", resp.Code).
			Str("msg", resp.Msg).
			Int("fallback_cap", fallbackCap).
			Msg("Cap probe rejected by server, using fallback cap")
		return fallbackCap
	}

	count := len(resp.Data.Items)

	if more, ok := resp.Data.More(); ok {
		if !more {
			// The whole result set arrived at once: no practical cap.
			p.logger.Info().Str("endpoint", endpoint).Int("rows", count).
				Msg("Endpoint appears uncapped")
			return 0
		}
		p.logger.Info().Str("endpoint", endpoint).Int("cap", count).
			Msg("Per-request cap detected")
		return count
	}

	// Continuation flag absent; fall back to the round-count heuristic.
	if count > 0 && count%capHeuristicMultiple == 0 {
		p.logger.Info().Str("endpoint", endpoint).Int("cap", count).
			Msg("Per-request cap inferred from row count")
		return count
	}
	p.logger.Info().Str("endpoint", endpoint).Int("rows", count).
		Msg("Endpoint appears uncapped")
	return 0
}

// detectRate determines the endpoint's per-minute request budget by sending
// small requests back to back until the server rejects one with the
// rate-limit marker or the probe window elapses. The successful-request
// count (minimum 1) is the rate. Any error other than the expected
// rate-limit rejection aborts the probe.
func (p *prober) detectRate(ctx context.Context, endpoint string, required map[string]any) (int, error) {
	probesTotal.WithLabelValues(endpoint, "rate").Inc()
	p.logger.Info().Str("endpoint", endpoint).Msg("Probing per-minute rate")

	params := cloneParams(required)
	params["limit"] = probePageSize

	count := 0
	start := p.now()

	for p.now().Sub(start) < p.window {
		if err := ctx.Err(); err != nil {
			return 0, &ProbeError{Endpoint: endpoint, Err: err}
		}

		resp, err := p.transport.Send(ctx, endpoint, params, nil)
		if err != nil {
			return 0, &ProbeError{Endpoint: endpoint, Err: err}
		}
		if resp.Code != 0 {
			if strings.Contains(resp.Msg, p.marker) {
				// The rejection we were fishing for.
				break
			}
			return 0, &ProbeError{
				Endpoint: endpoint,
				Err:      &APIError{Endpoint: endpoint, Code: resp.Code, Message: resp.Msg},
			}
		}

		count++
		// Count the calibration call against the endpoint's budget so the
		// first real fetch waits out what the probe spent.
		p.limiter.Record(endpoint, p.now())
	}

	rate := max(1, count)
	p.logger.Info().
		Str("endpoint", endpoint).
		Int("rate_per_minute", rate).
		Msg("Per-minute rate detected")
	return rate, nil
}

// detect runs both probes and returns the discovered pair.
func (p *prober) detect(ctx context.Context, endpoint string, required map[string]any) (limits.EndpointLimits, error) {
	reqCap := p.detectCap(ctx, endpoint, required)

	rate, err := p.detectRate(ctx, endpoint, required)
	if err != nil {
		return limits.EndpointLimits{}, err
	}

	return limits.EndpointLimits{
		Endpoint:      endpoint,
		PerRequestCap: reqCap,
		RatePerMinute: rate,
		LastUpdated:   p.now(),
	}, nil
}

// cloneParams copies a parameter map so page-specific keys never leak back
// into the caller's map.
func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	return out
}
