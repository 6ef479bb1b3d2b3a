package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whatsapp-dispatch/internal/domain"
	"whatsapp-dispatch/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.JobStore = (*JobStore)(nil)

// JobStore keeps each queue in a Redis list: LPUSH on enqueue, BRPOP on dequeue.
type JobStore struct {
	client      *Client
	pollTimeout time.Duration
}

// NewJobStore builds the store. pollTimeout bounds a single BRPOP round so
// cancellation is observed even while the queue is empty.
func NewJobStore(c *Client, pollTimeout time.Duration) *JobStore {
	if pollTimeout < time.Second {
		pollTimeout = time.Second
	}
	return &JobStore{client: c, pollTimeout: pollTimeout}
}

func (s *JobStore) Enqueue(ctx context.Context, queue string, payload []byte) error {
	if err := s.client.cli.LPush(ctx, queue, payload).Err(); err != nil {
		return wrap("enqueue "+queue, err)
	}
	return nil
}

func (s *JobStore) DequeueBlocking(ctx context.Context, queue string) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.client.cli.BRPop(ctx, s.pollTimeout, queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, wrap("dequeue "+queue, err)
		}
		// [key, value]
		if len(res) != 2 {
			return nil, fmt.Errorf("redis: dequeue %s: unexpected reply of %d elements", queue, len(res))
		}
		return []byte(res[1]), nil
	}
}

func (s *JobStore) PopOldest(ctx context.Context, queue string) ([]byte, error) {
	v, err := s.client.cli.RPop(ctx, queue).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, wrap("pop "+queue, err)
	}
	return v, nil
}

func (s *JobStore) Peek(ctx context.Context, queue string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := s.client.cli.LRange(ctx, queue, int64(-n), -1).Result()
	if err != nil {
		return nil, wrap("peek "+queue, err)
	}
	// LRANGE walks head to tail; the tail holds the oldest entry.
	out := make([][]byte, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		out = append(out, []byte(vals[i]))
	}
	return out, nil
}

func (s *JobStore) Len(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.cli.LLen(ctx, queue).Result()
	if err != nil {
		return 0, wrap("len "+queue, err)
	}
	return n, nil
}

func (s *JobStore) Close() error { return s.client.Close() }

func wrap(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("redis: %s: %w", op, domain.ErrStoreClosed)
	}
	return fmt.Errorf("redis: %s: %w", op, err)
}
