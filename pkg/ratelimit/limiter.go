package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for admission control.
var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataapi_rate_limit_admissions_total",
		Help: "Total admitted requests by endpoint",
	}, []string{"endpoint"})

	admissionWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dataapi_rate_limit_wait_seconds",
		Help:    "Time spent blocked waiting for a rate-limit slot by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	admissionBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataapi_rate_limit_blocks_total",
		Help: "Total admissions that had to wait for the window to slide",
	}, []string{"endpoint"})
)

// entry pairs one endpoint's history with its own lock. The lock is held
// across the whole prune-check-wait-record sequence so the window invariant
// holds under concurrent workers; admissions for one endpoint serialize,
// independent endpoints do not.
type entry struct {
	mu      sync.Mutex
	history callHistory
}

// Limiter gates requests per endpoint under a sliding-window budget.
// History and budget are entirely independent per endpoint key; the limiter
// makes no fairness guarantee across endpoints.
type Limiter struct {
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	entries map[string]*entry
	logger  zerolog.Logger
}

// NewLimiter creates a limiter with the standard 60-second window.
func NewLimiter() *Limiter {
	return &Limiter{
		window:  Window,
		now:     time.Now,
		sleep:   sleepContext,
		entries: make(map[string]*entry),
		logger:  log.With().Str("component", "ratelimit").Logger(),
	}
}

func (l *Limiter) endpoint(name string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[name]
	if !ok {
		e = &entry{}
		l.entries[name] = e
	}
	return e
}

// Admit blocks the calling flow until one more request for the endpoint
// fits inside the trailing window, then records it. A ratePerMinute of 0
// means the endpoint is unrestricted and Admit returns immediately.
// The only error Admit returns is a cancelled context.
func (l *Limiter) Admit(ctx context.Context, endpoint string, ratePerMinute int) error {
	if ratePerMinute <= 0 {
		return nil
	}

	e := l.endpoint(endpoint)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	e.history.prune(now, l.window)

	if e.history.count() >= ratePerMinute {
		wait := l.window - now.Sub(e.history.oldest())
		if wait > 0 {
			l.logger.Debug().
				Str("endpoint", endpoint).
				Int("rate_per_minute", ratePerMinute).
				Dur("wait", wait).
				Msg("Rate budget exhausted, waiting for window to slide")

			admissionBlocksTotal.WithLabelValues(endpoint).Inc()
			admissionWaitSeconds.WithLabelValues(endpoint).Observe(wait.Seconds())

			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			now = l.now()
			e.history.prune(now, l.window)
		}
	}

	e.history.record(now)
	admissionsTotal.WithLabelValues(endpoint).Inc()
	return nil
}

// Record notes a call that was issued outside admission control, such as a
// calibration request during limit probing. Later Admit calls count it
// against the endpoint's budget.
func (l *Limiter) Record(endpoint string, t time.Time) {
	e := l.endpoint(endpoint)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.record(t)
}

// InWindow returns how many admitted calls for the endpoint are currently
// inside the trailing window.
func (l *Limiter) InWindow(endpoint string) int {
	e := l.endpoint(endpoint)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history.prune(l.now(), l.window)
	return e.history.count()
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("admission wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
