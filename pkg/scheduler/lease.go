package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const defaultLeaseTTL = 15 * time.Second

// ErrLeaseLost is returned by Keep when another process took the lease over.
var ErrLeaseLost = errors.New("leader lease lost")

// releaseScript deletes the lease only when this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the lease only when this holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// LeaderLease elects a single active scheduler among redundant processes
// via a Redis key with a TTL. Losing the lease mid-run only risks a
// duplicate claim attempt, which the store's claim primitive absorbs.
type LeaderLease struct {
	client   redis.UniversalClient
	key      string
	holderID string
	ttl      time.Duration
	logger   *slog.Logger
}

func NewLeaderLease(client redis.UniversalClient, key string, logger *slog.Logger) *LeaderLease {
	return &LeaderLease{
		client:   client,
		key:      key,
		holderID: uuid.New().String(),
		ttl:      defaultLeaseTTL,
		logger:   logger.With("module", "leader_lease"),
	}
}

// Acquire blocks until the lease is held or the context is cancelled.
func (l *LeaderLease) Acquire(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, l.holderID, l.ttl).Result()
		if err != nil {
			l.logger.WarnContext(ctx, "Lease acquisition attempt failed", "error", err)
		} else if ok {
			l.logger.InfoContext(ctx, "Leader lease acquired", "key", l.key, "holder", l.holderID)

			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Keep renews the lease until the context is cancelled or ownership is
// lost, and reports which of the two happened.
func (l *LeaderLease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.holderID, l.ttl.Milliseconds()).Int()
		if err != nil {
			l.logger.WarnContext(ctx, "Lease renewal failed", "error", err)

			continue
		}

		if renewed == 0 {
			l.logger.WarnContext(ctx, "Leader lease lost", "key", l.key, "holder", l.holderID)

			return ErrLeaseLost
		}
	}
}

// Release gives the lease up voluntarily, if still held.
func (l *LeaderLease) Release(ctx context.Context) {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holderID).Result(); err != nil {
		l.logger.WarnContext(ctx, "Lease release failed", "error", err)
	}
}
