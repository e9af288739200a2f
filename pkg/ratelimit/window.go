// Package ratelimit implements per-endpoint sliding-window admission
// control. Within any trailing 60-second window, admitted calls for one
// endpoint never exceed that endpoint's per-minute budget; the limiter
// blocks the calling flow until a slot opens.
package ratelimit

import (
	"time"
)

// Window is the sliding-window duration of the rate budget.
const Window = 60 * time.Second

// callHistory is the ordered record of admitted call timestamps for one
// endpoint. It is owned by the Limiter and only mutated under the
// endpoint's lock; entries are dropped lazily on each admission check.
type callHistory struct {
	calls []time.Time
}

// prune drops every timestamp that has left the trailing window.
// After prune, every retained t satisfies now.Sub(t) < window.
func (h *callHistory) prune(now time.Time, window time.Duration) {
	cut := 0
	for cut < len(h.calls) && now.Sub(h.calls[cut]) >= window {
		cut++
	}
	if cut > 0 {
		h.calls = append(h.calls[:0], h.calls[cut:]...)
	}
}

// record appends an admitted call timestamp.
func (h *callHistory) record(t time.Time) {
	h.calls = append(h.calls, t)
}

// count returns the number of calls currently inside the window.
// Callers must prune first.
func (h *callHistory) count() int {
	return len(h.calls)
}

// oldest returns the earliest retained timestamp.
// Only valid when count() > 0.
func (h *callHistory) oldest() time.Time {
	return h.calls[0]
}
