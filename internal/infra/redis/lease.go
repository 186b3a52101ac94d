package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// Extends the TTL only while the key still names this holder.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Deletes the key only while it still names this holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lease lets one facilitator process ingest a chain side at a time. It
// expires after ttl unless Acquire is called again by its holder.
type Lease struct {
	client *Client
	key    string
	holder string
	ttl    time.Duration
}

// NewLease creates a lease on side, identified by a random holder id.
func NewLease(client *Client, side domain.ChainSide, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lease{
		client: client,
		key:    leaseKey(side),
		holder: uuid.NewString(),
		ttl:    ttl,
	}
}

// Holder returns the id written into the lease key.
func (l *Lease) Holder() string { return l.holder }

// Acquire takes the lease if it is free, or extends it if already held.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	if ok {
		return true, nil
	}
	n, err := refreshScript.Run(ctx, l.client.rdb, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lease failed: %w", err)
	}
	return n == 1, nil
}

// Release gives the lease up if this process holds it.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.holder).Err(); err != nil {
		return fmt.Errorf("release lease failed: %w", err)
	}
	return nil
}
