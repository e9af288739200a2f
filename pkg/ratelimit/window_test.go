package ratelimit

import (
	"testing"
	"time"
)

func TestCallHistory_Prune(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		offsets   []time.Duration // call times relative to base
		at        time.Duration   // prune time relative to base
		wantCount int
	}{
		{
			name:      "empty history",
			offsets:   nil,
			at:        0,
			wantCount: 0,
		},
		{
			name:      "all inside window",
			offsets:   []time.Duration{0, 10 * time.Second, 30 * time.Second},
			at:        40 * time.Second,
			wantCount: 3,
		},
		{
			name:      "oldest aged out",
			offsets:   []time.Duration{0, 10 * time.Second, 30 * time.Second},
			at:        65 * time.Second,
			wantCount: 2,
		},
		{
			name:      "exactly at window boundary is dropped",
			offsets:   []time.Duration{0, 30 * time.Second},
			at:        60 * time.Second,
			wantCount: 1,
		},
		{
			name:      "everything aged out",
			offsets:   []time.Duration{0, 1 * time.Second},
			at:        2 * time.Minute,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &callHistory{}
			for _, off := range tt.offsets {
				h.record(base.Add(off))
			}

			now := base.Add(tt.at)
			h.prune(now, Window)

			if h.count() != tt.wantCount {
				t.Errorf("count() = %d, want %d", h.count(), tt.wantCount)
			}
			for _, c := range h.calls {
				if now.Sub(c) >= Window {
					t.Errorf("retained call %v is outside the window at %v", c, now)
				}
			}
		})
	}
}

func TestCallHistory_Oldest(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	h := &callHistory{}
	h.record(base)
	h.record(base.Add(10 * time.Second))

	if got := h.oldest(); !got.Equal(base) {
		t.Errorf("oldest() = %v, want %v", got, base)
	}

	h.prune(base.Add(61*time.Second), Window)
	if got := h.oldest(); !got.Equal(base.Add(10 * time.Second)) {
		t.Errorf("oldest() after prune = %v, want %v", got, base.Add(10*time.Second))
	}
}
