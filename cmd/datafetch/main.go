// Command datafetch runs one logical fetch against a configured data API
// backend and prints the merged result as CSV on stdout.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantflow/dataapi-client/pkg/api"
	"github.com/quantflow/dataapi-client/pkg/client"
	"github.com/quantflow/dataapi-client/pkg/logging"
)

func main() {
	// Configuration from environment
	baseURL := getEnv("DATA_API_URL", "")
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	profileName := getEnv("DATA_API_PROFILE", "default")
	endpoint := getEnv("DATA_API_ENDPOINT", "")
	fieldsStr := getEnv("DATA_API_FIELDS", "")
	paramsFile := getEnv("DATA_API_PARAMS_FILE", "")
	limit := getEnvInt("DATA_API_LIMIT", 0)
	concurrent := getEnv("DATA_API_CONCURRENT", "") == "true"

	// The credential comes from DATA_API_TOKEN, or from a profile-named
	// variable like DEFAULT_TOKEN when several deployments are configured
	// side by side.
	token := getEnv("DATA_API_TOKEN", "")
	if token == "" {
		token = os.Getenv(tokenEnvVar(profileName))
	}

	if baseURL == "" || token == "" || endpoint == "" {
		log.Fatal("DATA_API_URL, DATA_API_TOKEN and DATA_API_ENDPOINT must be set")
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Output: os.Stderr,
	})

	// Setup Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	profile := api.NewProfile(profileName, baseURL)
	if paramsFile != "" {
		required, err := loadRequiredParams(paramsFile)
		if err != nil {
			log.Fatalf("Failed to load params file: %v", err)
		}
		profile.RequiredParams = required
	}

	c, err := client.New(client.DefaultConfig(redisClient, profile, token))
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	var fields []string
	if fieldsStr != "" {
		fields = strings.Split(fieldsStr, ",")
	}

	opts := client.DefaultFetchOptions()
	opts.Limit = limit
	opts.Concurrent = concurrent

	start := time.Now()
	result, err := c.Fetch(ctx, endpoint, fields, opts, nil)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}

	w := csv.NewWriter(os.Stdout)
	if err := w.Write(result.Fields); err != nil {
		log.Fatalf("Failed to write header: %v", err)
	}
	for _, row := range result.Rows {
		if err := w.Write(csvRecord(row)); err != nil {
			log.Fatalf("Failed to write row: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatalf("Failed to flush output: %v", err)
	}

	fmt.Fprintf(os.Stderr, "fetched %d rows from %s in %s\n", len(result.Rows), endpoint, time.Since(start))
}

// loadRequiredParams reads a JSON file mapping endpoint names to the fixed
// parameters their probes need, e.g.
// {"index_weight": {"index_code": "000906.SH"}}.
func loadRequiredParams(path string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var required map[string]map[string]any
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return required, nil
}

// tokenEnvVar derives the profile-specific credential variable name.
func tokenEnvVar(profileName string) string {
	name := strings.ToUpper(profileName)
	name = strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, name)
	return name + "_TOKEN"
}

func csvRecord(row []any) []string {
	record := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		record[i] = fmt.Sprint(v)
	}
	return record
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return n
}
