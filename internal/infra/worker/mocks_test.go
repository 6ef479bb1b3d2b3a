package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whatsapp-dispatch/internal/domain"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", what)
}

// --- in-memory JobStore: index 0 is the head (newest), the tail is consumed first.

type memStore struct {
	mu     sync.Mutex
	queues map[string][][]byte
	closed bool
}

func newMemStore() *memStore { return &memStore{queues: map[string][][]byte{}} }

func (m *memStore) Enqueue(ctx context.Context, queue string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrStoreClosed
	}
	m.queues[queue] = append([][]byte{append([]byte(nil), payload...)}, m.queues[queue]...)
	return nil
}

func (m *memStore) DequeueBlocking(ctx context.Context, queue string) ([]byte, error) {
	for {
		v, err := m.PopOldest(ctx, queue)
		if err == nil || errors.Is(err, domain.ErrStoreClosed) {
			return v, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (m *memStore) PopOldest(ctx context.Context, queue string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrStoreClosed
	}
	q := m.queues[queue]
	if len(q) == 0 {
		return nil, domain.ErrNotFound
	}
	v := q[len(q)-1]
	m.queues[queue] = q[:len(q)-1]
	return v, nil
}

func (m *memStore) Peek(ctx context.Context, queue string, n int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[queue]
	var out [][]byte
	for i := len(q) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, q[i])
	}
	return out, nil
}

func (m *memStore) Len(ctx context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[queue])), nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memStore) items(queue string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.queues[queue]...)
}

// --- fake session

type fakeSession struct {
	mu      sync.Mutex
	ready   bool
	readyCh chan struct{}
	failN   int // fail the first failN sends; -1 fails every send
	// dropOnFail turns the session not-ready after the last of the failN failures.
	dropOnFail bool
	// notReadySends answers this many sends with ErrNotReady while IsReady
	// still reports true.
	notReadySends int
	notReady      int
	attempts      int
	sent          []string
}

func newFakeSession(ready bool) *fakeSession {
	s := &fakeSession{readyCh: make(chan struct{})}
	if ready {
		s.setReady()
	}
	return s
}

func (s *fakeSession) setReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		s.ready = true
		close(s.readyCh)
	}
}

func (s *fakeSession) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSession) WaitReady() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyCh
}

func (s *fakeSession) SendMessage(ctx context.Context, chatID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notReady < s.notReadySends {
		s.notReady++
		return domain.ErrNotReady
	}
	s.attempts++
	if s.failN < 0 || s.attempts <= s.failN {
		if s.dropOnFail && s.ready && s.attempts == s.failN {
			s.ready = false
			s.readyCh = make(chan struct{})
		}
		return errors.New("evaluation failed: timeout")
	}
	s.sent = append(s.sent, chatID+":"+text)
	return nil
}

func (s *fakeSession) stats() (attempts int, sent []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, append([]string(nil), s.sent...)
}

// --- fake notifier

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(ctx context.Context, text string) error {
	n.mu.Lock()
	n.msgs = append(n.msgs, text)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// --- fake lease

type fakeLease struct {
	mu        sync.Mutex
	heldFor   int // Acquire reports ErrLeaseHeld this many times
	acquires  int
	refreshes int
	loseAfter int // Refresh reports ErrLeaseLost after this many refreshes (0 = never)
	released  int
}

func (l *fakeLease) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.acquires <= l.heldFor {
		return domain.ErrLeaseHeld
	}
	return nil
}

func (l *fakeLease) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	if l.loseAfter > 0 && l.refreshes >= l.loseAfter {
		l.loseAfter = 0
		return domain.ErrLeaseLost
	}
	return nil
}

func (l *fakeLease) Release(ctx context.Context) error {
	l.mu.Lock()
	l.released++
	l.mu.Unlock()
	return nil
}

func (l *fakeLease) counts() (acquires, released int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires, l.released
}
