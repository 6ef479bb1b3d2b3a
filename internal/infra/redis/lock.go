package redis

import (
	"context"
	"fmt"
	"time"

	"whatsapp-dispatch/internal/domain"
	"whatsapp-dispatch/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var _ repository.ConsumerLease = (*ConsumerLease)(nil)

// ConsumerLease is a SETNX lock with a per-process token, kept alive by Refresh.
type ConsumerLease struct {
	cli   *redis.Client
	key   string
	ttl   time.Duration
	token string
}

func NewConsumerLease(c *Client, key string, ttl time.Duration) *ConsumerLease {
	return &ConsumerLease{cli: c.cli, key: key, ttl: ttl, token: uuid.NewString()}
}

// LeaseKey is the lock key guarding consumption of queue.
func LeaseKey(queue string) string { return queue + ":consumer" }

func (l *ConsumerLease) Acquire(ctx context.Context) error {
	ok, err := l.cli.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return wrap("lease acquire", err)
	}
	if !ok {
		return domain.ErrLeaseHeld
	}
	return nil
}

var luaRefresh = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

func (l *ConsumerLease) Refresh(ctx context.Context) error {
	n, err := luaRefresh.Run(ctx, l.cli, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return wrap("lease refresh", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrLeaseLost, l.key)
	}
	return nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *ConsumerLease) Release(ctx context.Context) error {
	if _, err := luaUnlock.Run(ctx, l.cli, []string{l.key}, l.token).Result(); err != nil {
		return wrap("lease release", err)
	}
	return nil
}
