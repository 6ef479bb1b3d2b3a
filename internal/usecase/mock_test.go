//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"whatsapp-dispatch/internal/domain"
	"whatsapp-dispatch/internal/domain/model"

	"github.com/rs/zerolog"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// eventually polls cond until it holds or the deadline passes.
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

// --- opLog records the order of side effects across fakes.

type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *opLog) count(op string) int {
	n := 0
	for _, o := range l.list() {
		if o == op {
			n++
		}
	}
	return n
}

// --- Mock messenger + factory

type fakeMessenger struct {
	id      int
	events  chan<- model.LifecycleEvent
	factory *fakeFactory

	mu   sync.Mutex
	sent []string
}

func (m *fakeMessenger) Initialize(ctx context.Context) error {
	f := m.factory
	f.mu.Lock()
	err := f.initErr
	if err == nil {
		f.active++
		if f.active > f.maxActive {
			f.maxActive = f.active
		}
	}
	f.mu.Unlock()
	f.ops.add("init")
	return err
}

func (m *fakeMessenger) SendMessage(ctx context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, chatID+":"+text)
	return nil
}

func (m *fakeMessenger) Destroy(ctx context.Context) error {
	f := m.factory
	f.mu.Lock()
	if f.initErr == nil && f.active > 0 {
		f.active--
	}
	f.mu.Unlock()
	f.ops.add("destroy")
	return nil
}

func (m *fakeMessenger) emit(ev model.LifecycleEvent) { m.events <- ev }

type fakeFactory struct {
	ops *opLog

	mu        sync.Mutex
	instances []*fakeMessenger
	initErr   error
	active    int
	maxActive int
}

func (f *fakeFactory) New(events chan<- model.LifecycleEvent) (*fakeMessenger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &fakeMessenger{id: len(f.instances) + 1, events: events, factory: f}
	f.instances = append(f.instances, m)
	f.ops.add("create")
	return m, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

func (f *fakeFactory) last() *fakeMessenger {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instances) == 0 {
		return nil
	}
	return f.instances[len(f.instances)-1]
}

func (f *fakeFactory) peakActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeFactory) setInitErr(err error) {
	f.mu.Lock()
	f.initErr = err
	f.mu.Unlock()
}

// --- Mock session storage

type fakeStorage struct {
	ops *opLog

	mu      sync.Mutex
	locks   []string
	session bool
}

func (s *fakeStorage) Ensure() error { return nil }

func (s *fakeStorage) PurgeLocks() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.locks
	s.locks = nil
	s.ops.add("purge")
	return removed, nil
}

func (s *fakeStorage) Clear() error {
	s.mu.Lock()
	s.session = false
	s.mu.Unlock()
	s.ops.add("clear")
	return nil
}

func (s *fakeStorage) HasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *fakeStorage) Dir() string { return "/tmp/session" }

// --- Mock notifier

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

// --- Mock job store (in-memory lists, head = index 0)

type memJobStore struct {
	mu       sync.Mutex
	queues   map[string][][]byte
	closed   bool
	enqueErr error
}

func newMemJobStore() *memJobStore {
	return &memJobStore{queues: map[string][][]byte{}}
}

func (m *memJobStore) Enqueue(ctx context.Context, queue string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueErr != nil {
		return m.enqueErr
	}
	m.queues[queue] = append([][]byte{append([]byte(nil), payload...)}, m.queues[queue]...)
	return nil
}

func (m *memJobStore) DequeueBlocking(ctx context.Context, queue string) ([]byte, error) {
	for {
		if v, err := m.PopOldest(ctx, queue); err == nil {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (m *memJobStore) PopOldest(ctx context.Context, queue string) ([]byte, error) {
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

func (m *memJobStore) Peek(ctx context.Context, queue string, n int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[queue]
	var out [][]byte
	for i := len(q) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, q[i])
	}
	return out, nil
}

func (m *memJobStore) Len(ctx context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queues[queue])), nil
}

func (m *memJobStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memJobStore) items(queue string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.queues[queue]...)
}

var errBoom = errors.New("boom")

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
