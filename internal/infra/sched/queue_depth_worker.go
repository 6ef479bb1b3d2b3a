package sched

import (
	"context"
	"time"

	"whatsapp-dispatch/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// QueueLengther is the read-only slice of the job store the sampler needs.
type QueueLengther interface {
	Len(ctx context.Context, queue string) (int64, error)
}

// QueueDepthWorker periodically publishes the length of each queue.
type QueueDepthWorker struct {
	interval time.Duration
	store    QueueLengther
	queues   []string
	observe  func(queue string, n int64)
	log      *zerolog.Logger
}

func NewQueueDepthWorker(interval time.Duration, store QueueLengther, queues []string, logger *zerolog.Logger) *QueueDepthWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	compLog := logger.With().Str("component", "QueueDepthWorker").Logger()
	return &QueueDepthWorker{
		interval: interval,
		store:    store,
		queues:   queues,
		observe:  metrics.SetQueueDepth,
		log:      &compLog,
	}
}

// WithObserver replaces the default gauge sink.
func (w *QueueDepthWorker) WithObserver(fn func(queue string, n int64)) *QueueDepthWorker {
	w.observe = fn
	return w
}

func (w *QueueDepthWorker) Run(ctx context.Context) error {
	w.log.Info().Strs("queues", w.queues).Msg("Starting queue depth worker")
	// Run once on startup, then on every tick
	w.sample(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping queue depth worker")
			return ctx.Err()
		case <-ticker.C:
			w.sample(ctx)
		}
	}
}

func (w *QueueDepthWorker) sample(ctx context.Context) {
	for _, q := range w.queues {
		n, err := w.store.Len(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn().Err(err).Str("queue", q).Msg("queue depth sample failed")
			}
			continue
		}
		w.observe(q, n)
	}
}
