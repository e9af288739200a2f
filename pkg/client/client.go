// Package client implements the adaptive fetch engine for a paginated,
// rate-limited remote data API: limit discovery, sliding-window admission,
// bounded retries, and sequential or concurrent pagination behind a single
// Fetch operation.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantflow/dataapi-client/pkg/api"
	"github.com/quantflow/dataapi-client/pkg/limits"
	"github.com/quantflow/dataapi-client/pkg/ratelimit"
)

// Config holds the client configuration.
type Config struct {
	// Profile selects the backend deployment (base URL, markers, defaults).
	Profile api.Profile

	// Credential is the opaque token carried on every request.
	Credential string

	// Redis client backing the durable limits store.
	Redis *redis.Client

	// WorkerPoolSize bounds parallel page fetches in concurrent mode.
	WorkerPoolSize int

	// MaxRetries bounds retry attempts per page request.
	MaxRetries int

	// RetryDelay is the fixed pause between retry attempts.
	RetryDelay time.Duration

	// EnableRateLimit turns sliding-window admission on. When off, only
	// the per-request cap is probed and the limiter is never consulted.
	EnableRateLimit bool

	// DefaultMaxPages is the page ceiling for concurrent fetches issued
	// without a total limit or explicit max pages. It is a safety bound,
	// not a real limit: fetches stop early once the data runs out.
	DefaultMaxPages int

	// Transport overrides the HTTP transport (for testing).
	Transport api.Transport

	// Store overrides the Redis-backed limits store (for testing).
	Store limits.Store
}

// DefaultConfig returns a safe default configuration for a profile.
func DefaultConfig(redisClient *redis.Client, profile api.Profile, credential string) Config {
	return Config{
		Profile:         profile,
		Credential:      credential,
		Redis:           redisClient,
		WorkerPoolSize:  5,
		MaxRetries:      3,
		RetryDelay:      1 * time.Second,
		EnableRateLimit: !profile.DisableRateLimit,
		DefaultMaxPages: 1000,
	}
}

// FetchOptions controls one Fetch call.
type FetchOptions struct {
	// AutoPaging splits the fetch into pages honoring the endpoint's
	// per-request cap. When false, exactly one request is issued.
	AutoPaging bool

	// Concurrent fetches pages in parallel batches instead of streaming
	// them in order. Requires a pre-computable page count: set Limit or
	// MaxPages, or accept the configured default ceiling.
	Concurrent bool

	// MaxPages caps the page count in concurrent mode. 0 derives it from
	// Limit, or falls back to Config.DefaultMaxPages.
	MaxPages int

	// Limit is the total row budget across all pages. 0 means all rows.
	Limit int

	// Offset is the starting row offset.
	Offset int
}

// DefaultFetchOptions returns the standard options: sequential auto-paging
// over the full result set.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{AutoPaging: true}
}

// Client is the facade over the fetch engine. It owns the in-memory limits
// cache for the lifetime of the process, layered over the durable store.
type Client struct {
	config  Config
	exec    *executor
	pager   *paginator
	probe   *prober
	limiter *ratelimit.Limiter
	store   limits.Store
	logger  zerolog.Logger

	mu          sync.RWMutex
	limitsCache map[string]limits.EndpointLimits

	paramsMu       sync.RWMutex
	requiredParams map[string]map[string]any
}

// New creates a client from the configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Credential == "" {
		return nil, fmt.Errorf("credential is required")
	}
	if cfg.Transport == nil && cfg.Profile.BaseURL == "" {
		return nil, fmt.Errorf("profile base URL is required")
	}
	if cfg.Store == nil && cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 1 * time.Second
	}
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = 1000
	}
	if cfg.Profile.DisableRateLimit {
		cfg.EnableRateLimit = false
	}

	logger := log.With().Str("component", "dataapi-client").Logger()

	transport := cfg.Transport
	if transport == nil {
		transport = api.NewHTTPTransport(cfg.Profile.BaseURL, cfg.Credential)
	}

	store := cfg.Store
	if store == nil {
		store = limits.NewRedisStore(cfg.Redis, storePrefix(cfg.Profile))
	}

	limiter := ratelimit.NewLimiter()

	c := &Client{
		config:         cfg,
		limiter:        limiter,
		store:          store,
		logger:         logger,
		limitsCache:    make(map[string]limits.EndpointLimits),
		requiredParams: make(map[string]map[string]any),
	}

	for endpoint, params := range cfg.Profile.RequiredParams {
		c.requiredParams[endpoint] = cloneParams(params)
	}

	exec := &executor{
		transport:  transport,
		limiter:    limiter,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
	if cfg.EnableRateLimit {
		exec.cachedRate = c.cachedRate
	}
	c.exec = exec

	c.pager = &paginator{
		exec:            exec,
		workers:         cfg.WorkerPoolSize,
		defaultMaxPages: cfg.DefaultMaxPages,
		logger:          logger,
	}

	c.probe = &prober{
		transport: transport,
		limiter:   limiter,
		marker:    cfg.Profile.Marker(),
		window:    ratelimit.Window,
		now:       time.Now,
		logger:    logger,
	}

	return c, nil
}

func storePrefix(p api.Profile) string {
	if p.Name == "" {
		return ""
	}
	return "dataapi:" + p.Name + ":limits:"
}

// Fetch returns the complete result set for a logical query, paginating and
// rate limiting as the endpoint's learned limits require.
func (c *Client) Fetch(ctx context.Context, endpoint string, fields []string, opts FetchOptions, params map[string]any) (*FetchResult, error) {
	if params == nil {
		params = map[string]any{}
	}

	if !opts.AutoPaging {
		data, err := c.exec.execute(ctx, endpoint, params, fields)
		if err != nil {
			return nil, err
		}
		return resultFromPage(data), nil
	}

	info, err := c.GetLimits(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	// No cap means the server hands everything over in one call.
	if info.Uncapped() {
		data, err := c.exec.execute(ctx, endpoint, params, fields)
		if err != nil {
			return nil, err
		}
		return resultFromPage(data), nil
	}

	if opts.Concurrent {
		return c.pager.fetchConcurrent(ctx, endpoint, fields, info.PerRequestCap, opts, params)
	}
	return c.pager.fetchSequential(ctx, endpoint, fields, info.PerRequestCap, opts, params)
}

// GetLimits resolves the endpoint's limits: memory cache first, then the
// durable store, probing the live endpoint only on first use. Repeated calls
// without an intervening ClearLimits never touch the network.
func (c *Client) GetLimits(ctx context.Context, endpoint string) (limits.EndpointLimits, error) {
	c.mu.RLock()
	cached, ok := c.limitsCache[endpoint]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	resolved, err := c.resolveLimits(ctx, endpoint)
	if err != nil {
		return limits.EndpointLimits{}, err
	}

	c.mu.Lock()
	c.limitsCache[endpoint] = resolved
	c.mu.Unlock()
	return resolved, nil
}

func (c *Client) resolveLimits(ctx context.Context, endpoint string) (limits.EndpointLimits, error) {
	stored, err := c.store.Get(ctx, endpoint)
	switch {
	case err == nil:
		if !c.config.EnableRateLimit {
			stored.RatePerMinute = 0
		}
		return stored, nil
	case err != limits.ErrNotFound:
		return limits.EndpointLimits{}, fmt.Errorf("limits store: %w", err)
	}

	required := c.RequiredParams(endpoint)

	if !c.config.EnableRateLimit {
		probed := limits.EndpointLimits{
			Endpoint:      endpoint,
			PerRequestCap: c.probe.detectCap(ctx, endpoint, required),
			RatePerMinute: 0,
			LastUpdated:   time.Now(),
		}
		if err := c.store.Put(ctx, probed); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to persist probed limits")
		}
		return probed, nil
	}

	probed, err := c.probe.detect(ctx, endpoint, required)
	if err != nil {
		return limits.EndpointLimits{}, err
	}
	if err := c.store.Put(ctx, probed); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to persist probed limits")
	}

	// The probe burst already counts against the budget; wait it out here
	// so the first real request is admitted cleanly.
	if err := c.limiter.Admit(ctx, endpoint, probed.RatePerMinute); err != nil {
		return limits.EndpointLimits{}, err
	}

	return probed, nil
}

// cachedRate reports the known per-minute budget for an endpoint. Unknown
// endpoints are not admission controlled: probing must be able to reach the
// server before any limits exist.
func (c *Client) cachedRate(endpoint string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.limitsCache[endpoint]
	return l.RatePerMinute, ok
}

// ClearLimits drops the endpoint's limits from the memory cache and the
// durable store. The next GetLimits probes the endpoint again.
func (c *Client) ClearLimits(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	delete(c.limitsCache, endpoint)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, endpoint); err != nil {
		return fmt.Errorf("clear limits for %s: %w", endpoint, err)
	}
	c.logger.Info().Str("endpoint", endpoint).Msg("Endpoint limits cleared")
	return nil
}

// ForceRedetect clears the endpoint's limits and immediately probes fresh
// ones, returning the new values.
func (c *Client) ForceRedetect(ctx context.Context, endpoint string) (limits.EndpointLimits, error) {
	if err := c.ClearLimits(ctx, endpoint); err != nil {
		return limits.EndpointLimits{}, err
	}
	return c.GetLimits(ctx, endpoint)
}

// RegisterRequiredParams registers fixed parameters an endpoint needs for a
// meaningful probe (e.g. an index code). They replace any previous
// registration for the endpoint.
func (c *Client) RegisterRequiredParams(endpoint string, params map[string]any) {
	c.paramsMu.Lock()
	defer c.paramsMu.Unlock()
	c.requiredParams[endpoint] = cloneParams(params)
	c.logger.Info().Str("endpoint", endpoint).Msg("Registered required probe params")
}

// RequiredParams returns a copy of the registered probe parameters for an
// endpoint.
func (c *Client) RequiredParams(endpoint string) map[string]any {
	c.paramsMu.RLock()
	defer c.paramsMu.RUnlock()
	return cloneParams(c.requiredParams[endpoint])
}
