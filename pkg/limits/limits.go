// Package limits holds the per-endpoint transfer and rate limits the client
// learns about a backend, plus the Redis-backed store that persists them
// across processes.
package limits

import (
	"time"
)

// EndpointLimits records what the client knows about one endpoint's server
// enforced limits. A value of 0 for either limit means "unrestricted"; older
// persisted records used negative sentinels for the same meaning and are
// normalized on read.
type EndpointLimits struct {
	// Endpoint is the endpoint name the limits apply to.
	Endpoint string `json:"endpoint"`

	// PerRequestCap is the maximum number of rows a single request may
	// return. 0 means no known cap: everything fits in one call.
	PerRequestCap int `json:"per_request_cap"`

	// RatePerMinute is the maximum number of admitted requests within any
	// trailing 60-second window. 0 means no rate restriction.
	RatePerMinute int `json:"rate_per_minute"`

	// LastUpdated is when the limits were probed or last rewritten.
	LastUpdated time.Time `json:"last_updated"`
}

// Uncapped reports whether the endpoint has no per-request row cap.
func (l EndpointLimits) Uncapped() bool {
	return l.PerRequestCap == 0
}

// Unthrottled reports whether the endpoint has no per-minute rate budget.
func (l EndpointLimits) Unthrottled() bool {
	return l.RatePerMinute == 0
}

// Normalize converts legacy "no limit" sentinels (negative values) to the
// canonical 0 at the data-model boundary.
func (l EndpointLimits) Normalize() EndpointLimits {
	if l.PerRequestCap < 0 {
		l.PerRequestCap = 0
	}
	if l.RatePerMinute < 0 {
		l.RatePerMinute = 0
	}
	return l
}
