package repository

import "context"

// JobStore is a durable FIFO of serialized jobs keyed by queue name.
// Enqueue pushes to the head, DequeueBlocking pops from the tail.
type JobStore interface {
	Enqueue(ctx context.Context, queue string, payload []byte) error
	// DequeueBlocking waits until a payload is available, ctx is done, or the
	// store is closed (domain.ErrStoreClosed).
	DequeueBlocking(ctx context.Context, queue string) ([]byte, error)
	// PopOldest removes the tail element without blocking; domain.ErrNotFound when empty.
	PopOldest(ctx context.Context, queue string) ([]byte, error)
	// Peek returns up to n payloads starting from the tail (oldest first).
	Peek(ctx context.Context, queue string, n int) ([][]byte, error)
	Len(ctx context.Context, queue string) (int64, error)
	Close() error
}

// ConsumerLease guards the single-consumer assumption across processes.
type ConsumerLease interface {
	// Acquire returns domain.ErrLeaseHeld when another process owns the lease.
	Acquire(ctx context.Context) error
	// Refresh extends the lease; domain.ErrLeaseLost when it was taken over or expired.
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}
