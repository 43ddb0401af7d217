package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thecalistalife/review-service/internal/domain"
)

const (
	summaryKeyPrefix    = "review:summary:"
	generationKeyPrefix = "review:summary:gen:"

	// generationTTL outlives any cached summary, so a reset counter can only
	// meet entries written after the reset.
	generationTTL = 30 * 24 * time.Hour
)

// SummaryCache implements repository.SummaryCache using Redis.
//
// Summaries are stored under a per-product generation. Invalidate bumps the
// generation, so a summary computed from reads that started before the bump
// is written under a key no later Get looks at.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache creates a Redis-backed summary cache whose entries expire
// after ttl.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl}
}

func summaryKey(productID string, generation int64) string {
	return summaryKeyPrefix + productID + ":" + strconv.FormatInt(generation, 10)
}

// Get returns the summary cached for the product's current generation, or nil
// on a miss, together with that generation.
func (c *SummaryCache) Get(ctx context.Context, productID string) (*domain.ReviewSummary, int64, error) {
	generation, err := c.client.Get(ctx, generationKeyPrefix+productID).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, fmt.Errorf("redis get summary generation: %w", err)
	}

	data, err := c.client.Get(ctx, summaryKey(productID, generation)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, generation, nil
		}
		return nil, generation, fmt.Errorf("redis get summary: %w", err)
	}

	var s domain.ReviewSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, generation, fmt.Errorf("unmarshal summary: %w", err)
	}
	return &s, generation, nil
}

// Set caches the summary of a product under generation, the value returned
// by the Get that preceded the store read.
func (c *SummaryCache) Set(ctx context.Context, productID string, generation int64, summary domain.ReviewSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := c.client.Set(ctx, summaryKey(productID, generation), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set summary: %w", err)
	}
	return nil
}

// Invalidate moves the product to a new generation. Entries of older
// generations are never read again and expire on their own.
func (c *SummaryCache) Invalidate(ctx context.Context, productID string) error {
	key := generationKeyPrefix + productID
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, generationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis bump summary generation: %w", err)
	}
	return nil
}
