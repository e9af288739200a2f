//go:build integration

package limits

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_RoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient, "")
	ctx := context.Background()

	want := EndpointLimits{
		Endpoint:      "daily",
		PerRequestCap: 6000,
		RatePerMinute: 500,
		LastUpdated:   time.Now().UTC().Truncate(time.Second),
	}

	if err := store.Put(ctx, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "daily")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != want {
		t.Errorf("Get = %+v, want %+v", got, want)
	}
}

func TestRedisStore_Integration_GetMissing(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient, "")

	_, err := store.Get(context.Background(), "nonexistent")
	if err != ErrNotFound {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_Integration_Upsert(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient, "")
	ctx := context.Background()

	first := EndpointLimits{Endpoint: "daily", PerRequestCap: 5000, RatePerMinute: 100, LastUpdated: time.Now()}
	second := EndpointLimits{Endpoint: "daily", PerRequestCap: 6000, RatePerMinute: 500, LastUpdated: time.Now()}

	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := store.Get(ctx, "daily")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PerRequestCap != 6000 || got.RatePerMinute != 500 {
		t.Errorf("Get after upsert = %+v, want second record", got)
	}
}

func TestRedisStore_Integration_Delete(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient, "")
	ctx := context.Background()

	l := EndpointLimits{Endpoint: "daily", PerRequestCap: 5000, RatePerMinute: 100, LastUpdated: time.Now()}
	if err := store.Put(ctx, l); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := store.Delete(ctx, "daily"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "daily"); err != ErrNotFound {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}

	// Deleting a missing record is not an error.
	if err := store.Delete(ctx, "daily"); err != nil {
		t.Errorf("Delete of missing record = %v, want nil", err)
	}
}

func TestRedisStore_Integration_LegacySentinels(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient, "")
	ctx := context.Background()

	// A record written by an older variant that used -1 for "no limit".
	raw := `{"endpoint":"stock_basic","per_request_cap":-1,"rate_per_minute":-1,"last_updated":"2024-01-01T00:00:00Z"}`
	if err := redisClient.Set(ctx, DefaultKeyPrefix+"stock_basic", raw, 0).Err(); err != nil {
		t.Fatalf("seed raw record: %v", err)
	}

	got, err := store.Get(ctx, "stock_basic")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PerRequestCap != 0 || got.RatePerMinute != 0 {
		t.Errorf("legacy sentinels not normalized: %+v", got)
	}
}
