package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thecalistalife/review-service/internal/domain"
)

const voteLimitKeyPrefix = "review:vote-limit:"

// VoteLimiter implements repository.VoteLimiter as a fixed-window counter in
// Redis, shared by every instance. The window is derived from an injected
// clock.
type VoteLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewVoteLimiter allows limit votes per voter per window. A limit of zero or
// less disables limiting. now defaults to time.Now.
func NewVoteLimiter(client *redis.Client, limit int, window time.Duration, now func() time.Time) *VoteLimiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = time.Minute
	}
	return &VoteLimiter{client: client, limit: limit, window: window, now: now}
}

func (l *VoteLimiter) key(voter domain.VoterIdentity) string {
	bucket := l.now().UnixNano() / int64(l.window)
	return fmt.Sprintf("%s%s:%d", voteLimitKeyPrefix, voter.String(), bucket)
}

// Allow records one attempt by voter and reports whether the voter is still
// within the limit for the current window.
func (l *VoteLimiter) Allow(ctx context.Context, voter domain.VoterIdentity) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	key := l.key(voter)
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis incr vote limit: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}
