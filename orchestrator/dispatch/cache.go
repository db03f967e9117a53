// Copyright 2025 NovaMind
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lvruyi0102/nova-mind-router/orchestrator/backend"
)

// DefaultCacheTTL bounds how long a cached response stays servable.
const DefaultCacheTTL = 15 * time.Minute

// cachedResponse is the Redis value for a served generation. Cost and
// backend are stored so a hit can be booked as avoided spend.
type cachedResponse struct {
	Content      string  `json:"content"`
	BackendID    string  `json:"backend_id"`
	CostPerCall  float64 `json:"cost_per_call"`
	LatencyMs    float64 `json:"latency_ms"`
	CachedAtUnix int64   `json:"cached_at"`
}

// ResponseCache is a Redis-backed response cache keyed by prompt and
// task type. A Redis outage disables caching for the affected calls and
// logs a warning; it never fails the dispatch path.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewResponseCache creates a cache over the given Redis client. A nil
// client yields a cache that always misses.
func NewResponseCache(client *redis.Client, ttl time.Duration, logger *log.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[RESPONSE_CACHE] ", log.LstdFlags)
	}
	return &ResponseCache{client: client, ttl: ttl, logger: logger}
}

// cacheKey derives a stable key from the prompt and task type.
func cacheKey(prompt, taskType string) string {
	sum := sha256.Sum256([]byte(prompt + "|" + taskType))
	return "response-cache:" + hex.EncodeToString(sum[:])
}

// Get looks up a cached response. The bool is false on miss or when
// Redis is unreachable.
func (c *ResponseCache) Get(ctx context.Context, prompt, taskType string) (*cachedResponse, bool) {
	if c.client == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, cacheKey(prompt, taskType)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Printf("Warning: cache lookup failed, treating as miss: %v", err)
		return nil, false
	}

	var cached cachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Printf("Warning: discarding undecodable cache entry: %v", err)
		return nil, false
	}
	return &cached, true
}

// Put stores a served response. Failures are logged and dropped.
func (c *ResponseCache) Put(ctx context.Context, prompt, taskType string, resp *backend.Response, backendID string, costPerCall float64) {
	if c.client == nil {
		return
	}

	cached := cachedResponse{
		Content:      resp.Content,
		BackendID:    backendID,
		CostPerCall:  costPerCall,
		LatencyMs:    float64(resp.Latency.Milliseconds()),
		CachedAtUnix: time.Now().Unix(),
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		c.logger.Printf("Warning: failed to encode cache entry: %v", err)
		return
	}
	if err := c.client.Set(ctx, cacheKey(prompt, taskType), raw, c.ttl).Err(); err != nil {
		c.logger.Printf("Warning: failed to store cache entry: %v", err)
	}
}
