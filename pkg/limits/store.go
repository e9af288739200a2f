package limits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound indicates no limits record exists for the endpoint.
	ErrNotFound = errors.New("endpoint limits not found")

	// ErrInvalidRecord indicates the stored record is corrupted.
	ErrInvalidRecord = errors.New("invalid limits record")
)

// DefaultKeyPrefix namespaces limits records in Redis. Profiles targeting
// different backends should use distinct prefixes so learned limits never
// bleed across deployments.
const DefaultKeyPrefix = "dataapi:limits:"

// Store persists learned endpoint limits. One logical record per endpoint
// name; Put is an upsert.
type Store interface {
	Get(ctx context.Context, endpoint string) (EndpointLimits, error)
	Put(ctx context.Context, l EndpointLimits) error
	Delete(ctx context.Context, endpoint string) error
}

// RedisStore is the Redis-backed Store. Records are stored as JSON under
// prefix+endpoint with no TTL; limits stay valid until explicitly cleared.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a store with the given key prefix.
// An empty prefix selects DefaultKeyPrefix.
func NewRedisStore(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisStore) key(endpoint string) string {
	return s.prefix + endpoint
}

// Get retrieves the limits record for an endpoint.
// Returns ErrNotFound if no record exists. Records written with legacy
// sentinels are normalized before being returned.
func (s *RedisStore) Get(ctx context.Context, endpoint string) (EndpointLimits, error) {
	data, err := s.redis.Get(ctx, s.key(endpoint)).Bytes()
	if err != nil {
		if err == redis.Nil {
			storeMisses.Inc()
			return EndpointLimits{}, ErrNotFound
		}
		storeErrors.WithLabelValues("get").Inc()
		return EndpointLimits{}, fmt.Errorf("redis get: %w", err)
	}

	var l EndpointLimits
	if err := json.Unmarshal(data, &l); err != nil {
		storeErrors.WithLabelValues("get").Inc()
		return EndpointLimits{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	storeHits.Inc()
	return l.Normalize(), nil
}

// Put upserts the limits record keyed on its endpoint name.
func (s *RedisStore) Put(ctx context.Context, l EndpointLimits) error {
	if l.Endpoint == "" {
		return fmt.Errorf("endpoint name cannot be empty")
	}

	data, err := json.Marshal(l.Normalize())
	if err != nil {
		storeErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal limits record: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(l.Endpoint), data, 0).Err(); err != nil {
		storeErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes the limits record for an endpoint. Deleting a missing
// record is not an error.
func (s *RedisStore) Delete(ctx context.Context, endpoint string) error {
	if err := s.redis.Del(ctx, s.key(endpoint)).Err(); err != nil {
		storeErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}
