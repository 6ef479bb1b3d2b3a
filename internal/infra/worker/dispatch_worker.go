package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"whatsapp-dispatch/internal/domain"
	"whatsapp-dispatch/internal/domain/model"
	"whatsapp-dispatch/internal/domain/ports/adapter"
	"whatsapp-dispatch/internal/domain/ports/repository"
	"whatsapp-dispatch/internal/infra/backoff"
	"whatsapp-dispatch/internal/infra/i18n"
	"whatsapp-dispatch/internal/infra/logging"
	"whatsapp-dispatch/internal/infra/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Session is the part of the session lifecycle the worker depends on.
type Session interface {
	IsReady() bool
	WaitReady() <-chan struct{}
	SendMessage(ctx context.Context, chatID, text string) error
}

type Options struct {
	Pending    string
	DeadLetter string
	MaxRetries int
	// Backoff gives the delay before a failed job goes back to pending.
	Backoff      backoff.Strategy
	GateInterval time.Duration
	SendTimeout  time.Duration
	// Limiter throttles send attempts; nil means unlimited.
	Limiter *rate.Limiter
	// Lease, when set, must be held while consuming.
	Lease        repository.ConsumerLease
	LeaseRefresh time.Duration
	// ErrorPause is the wait after a transient dequeue error.
	ErrorPause time.Duration
	// Texts renders alert messages; nil uses the built-in English catalog.
	Texts adapter.Translator
	Dev   bool
}

// DispatchWorker is the single consumer of the pending queue.
type DispatchWorker struct {
	store    repository.JobStore
	session  Session
	notifier adapter.Notifier
	opts     Options
	log      *zerolog.Logger
	now      func() time.Time

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewDispatchWorker(store repository.JobStore, session Session, notifier adapter.Notifier, opts Options, logger *zerolog.Logger) *DispatchWorker {
	if opts.Backoff == nil {
		opts.Backoff = backoff.NewLinear(500*time.Millisecond, 5*time.Second)
	}
	if opts.GateInterval <= 0 {
		opts.GateInterval = time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 60 * time.Second
	}
	if opts.ErrorPause <= 0 {
		opts.ErrorPause = time.Second
	}
	if opts.LeaseRefresh <= 0 {
		opts.LeaseRefresh = 10 * time.Second
	}
	if opts.Texts == nil {
		opts.Texts = i18n.Default()
	}
	wLog := logger.With().Str("component", "DispatchWorker").Str("queue", opts.Pending).Logger()
	return &DispatchWorker{
		store:    store,
		session:  session,
		notifier: notifier,
		opts:     opts,
		log:      &wLog,
		now:      time.Now,
	}
}

// Start runs the consumer in the background until Stop or ctx is done.
func (w *DispatchWorker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error().Err(err).Msg("dispatch worker stopped")
		}
	}()
}

// Stop ends the consumer loop and waits for the current iteration to return.
func (w *DispatchWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Run consumes until ctx is done or the store goes away. With a lease
// configured it waits on standby until the lease is free.
func (w *DispatchWorker) Run(ctx context.Context) error {
	w.log.Info().Int("max_retries", w.opts.MaxRetries).Str("dead_letter", w.opts.DeadLetter).Msg("Starting dispatch worker")
	defer w.log.Info().Msg("Stopping dispatch worker")

	if w.opts.Lease == nil {
		return w.consume(ctx)
	}
	for {
		if err := w.acquire(ctx); err != nil {
			return err
		}
		err := w.consumeLeased(ctx)
		if errors.Is(err, domain.ErrLeaseLost) && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("consumer lease lost, back to standby")
			continue
		}
		return err
	}
}

func (w *DispatchWorker) acquire(ctx context.Context) error {
	standby := false
	for {
		err := w.opts.Lease.Acquire(ctx)
		if err == nil {
			w.log.Info().Msg("consumer lease acquired")
			return nil
		}
		if errors.Is(err, domain.ErrLeaseHeld) {
			if !standby {
				w.log.Info().Msg("another consumer holds the lease, standing by")
				standby = true
			}
		} else {
			w.log.Warn().Err(err).Msg("consumer lease acquire failed")
		}
		if err := sleep(ctx, w.opts.LeaseRefresh); err != nil {
			return err
		}
	}
}

func (w *DispatchWorker) consumeLeased(ctx context.Context) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lost error
	refreshed := make(chan struct{})
	go func() {
		defer close(refreshed)
		ticker := time.NewTicker(w.opts.LeaseRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-ticker.C:
				if err := w.opts.Lease.Refresh(cctx); err != nil {
					if errors.Is(err, domain.ErrLeaseLost) {
						lost = err
						cancel()
						return
					}
					w.log.Warn().Err(err).Msg("consumer lease refresh failed")
				}
			}
		}
	}()

	err := w.consume(cctx)
	cancel()
	<-refreshed
	if lost != nil {
		return lost
	}

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer rcancel()
	if rerr := w.opts.Lease.Release(rctx); rerr != nil {
		w.log.Warn().Err(rerr).Msg("consumer lease release failed")
	}
	return err
}

func (w *DispatchWorker) consume(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := w.store.DequeueBlocking(ctx, w.opts.Pending)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, domain.ErrStoreClosed) {
				w.log.Warn().Err(err).Msg("job store closed")
				return err
			}
			w.log.Error().Err(err).Msg("dequeue failed")
			if err := sleep(ctx, w.opts.ErrorPause); err != nil {
				return err
			}
			continue
		}
		w.process(ctx, raw)
	}
}

// process handles one dequeued payload. It never returns an error: every
// outcome ends in a drop, a delivery, a requeue or a dead-letter push.
func (w *DispatchWorker) process(ctx context.Context, raw []byte) {
	job, err := model.ParseJob(raw)
	if err != nil {
		w.log.Warn().Err(err).Str("payload", logging.Redact(string(raw), w.opts.Dev)).Msg("dropping invalid job")
		metrics.IncJob(metrics.OutcomeDropped)
		return
	}
	log := logging.With(logging.WithJobID(ctx, job.LogID()), w.log)

	if !w.session.IsReady() {
		w.deferJob(ctx, log, raw)
		return
	}

	if w.opts.Limiter != nil {
		if err := w.opts.Limiter.Wait(ctx); err != nil {
			w.writeBack(ctx, log, w.opts.Pending, raw)
			return
		}
	}

	chatID, _ := job.ChatID()
	sctx, cancel := context.WithTimeout(ctx, w.opts.SendTimeout)
	start := time.Now()
	err = w.session.SendMessage(sctx, chatID, job.Text())
	cancel()
	if errors.Is(err, domain.ErrNotReady) {
		// the session dropped after the readiness check; not an attempt
		w.deferJob(ctx, log, raw)
		return
	}
	metrics.ObserveDelivery(time.Since(start), err == nil)
	if err == nil {
		log.Info().Str("to", logging.Redact(chatID, w.opts.Dev)).Int("retries", job.Metadata.Retries).Msg("message delivered")
		metrics.IncJob(metrics.OutcomeDelivered)
		return
	}

	retries := job.RecordFailure(err, w.now())
	payload, merr := json.Marshal(job)
	if merr != nil {
		log.Error().Err(merr).Str("payload", logging.Redact(string(raw), w.opts.Dev)).Msg("failed to encode job, dropping")
		metrics.IncJob(metrics.OutcomeLost)
		return
	}

	if job.Exhausted(w.opts.MaxRetries) {
		log.Error().Err(err).Str("to", logging.Redact(chatID, w.opts.Dev)).Int("retries", retries).Int("max_retries", w.opts.MaxRetries).
			Str("dead_letter", w.opts.DeadLetter).Msg("delivery failed, moving job to dead-letter queue")
		if w.writeBack(ctx, log, w.opts.DeadLetter, payload) {
			metrics.IncJob(metrics.OutcomeDeadLettered)
			w.alert(job)
		}
		return
	}

	delay := w.opts.Backoff.Delay(retries)
	log.Warn().Err(err).Int("retries", retries).Int("max_retries", w.opts.MaxRetries).
		Dur("delay", delay).Msg("delivery failed, requeueing")
	_ = sleep(ctx, delay)
	if w.writeBack(ctx, log, w.opts.Pending, payload) {
		metrics.IncJob(metrics.OutcomeRequeued)
	}
}

// deferJob returns raw to pending untouched and waits for the session gate.
func (w *DispatchWorker) deferJob(ctx context.Context, log *zerolog.Logger, raw []byte) {
	log.Debug().Msg("session not ready, deferring job")
	w.writeBack(ctx, log, w.opts.Pending, raw)
	metrics.IncJob(metrics.OutcomeDeferred)
	w.waitGate(ctx)
}

// writeBack pushes payload to queue, retrying a few times. It keeps going
// after ctx is cancelled so a shutdown does not drop the job it holds.
func (w *DispatchWorker) writeBack(ctx context.Context, log *zerolog.Logger, queue string, payload []byte) bool {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		if err = w.store.Enqueue(wctx, queue, payload); err == nil {
			return true
		}
		if errors.Is(err, domain.ErrStoreClosed) || wctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	log.Error().Err(err).Str("queue", queue).Str("payload", string(payload)).Msg("job lost: write-back failed")
	metrics.IncJob(metrics.OutcomeLost)
	return false
}

// waitGate returns after the gate interval, when the session turns READY, or on shutdown.
func (w *DispatchWorker) waitGate(ctx context.Context) {
	t := time.NewTimer(w.opts.GateInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-w.session.WaitReady():
	}
}

func (w *DispatchWorker) alert(job *model.Job) {
	if w.notifier == nil {
		return
	}
	go func(id, lastErr string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		text := w.opts.Texts.T(i18n.AlertDeadLettered, id, w.opts.DeadLetter, lastErr)
		if err := w.notifier.Notify(ctx, text); err != nil {
			w.log.Warn().Err(err).Msg("operator alert failed")
		}
	}(job.LogID(), job.Metadata.LastError)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
