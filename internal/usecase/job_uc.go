package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whatsapp-dispatch/internal/domain"
	"whatsapp-dispatch/internal/domain/model"
	"whatsapp-dispatch/internal/domain/ports/repository"
	"whatsapp-dispatch/internal/infra/logging"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

const (
	InitiatedByGateway = "gateway"

	DefaultDeadLetterPage = 50
	MaxDeadLetterPage     = 500
)

type JobUseCase interface {
	// Submit validates a producer payload and enqueues it to the pending queue.
	// Validation failures wrap domain.ErrInvalidJob.
	Submit(ctx context.Context, raw []byte) (*model.Job, error)
	// ListDeadLetter returns up to limit quarantined payloads, oldest first.
	ListDeadLetter(ctx context.Context, limit int) (*DeadLetterPage, error)
	// ReplayDeadLetter moves up to limit of the oldest quarantined jobs back to
	// pending with a fresh retry budget.
	ReplayDeadLetter(ctx context.Context, limit int) (*ReplayResult, error)
	Queues() QueueNames
}

type QueueNames struct {
	Pending    string `json:"queue"`
	DeadLetter string `json:"failedQueue"`
}

type DeadLetterPage struct {
	Queue string            `json:"queue"`
	Total int64             `json:"total"`
	Items []json.RawMessage `json:"items"`
}

type ReplayResult struct {
	Replayed int `json:"replayed"`
	Dropped  int `json:"dropped"`
}

type jobUC struct {
	store  repository.JobStore
	queues QueueNames
	now    func() time.Time
	dev    bool // log recipients and payloads unredacted
	log    *zerolog.Logger
}

func NewJobUseCase(store repository.JobStore, queues QueueNames, dev bool, logger *zerolog.Logger) *jobUC {
	compLog := logger.With().Str("component", "JobUseCase").Logger()
	return &jobUC{store: store, queues: queues, now: time.Now, dev: dev, log: &compLog}
}

func (u *jobUC) Queues() QueueNames { return u.queues }

func (u *jobUC) Submit(ctx context.Context, raw []byte) (*model.Job, error) {
	job, err := model.ParseJob(raw)
	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = ulid.Make().String()
	}
	if job.Message.Type == "" {
		job.Message.Type = model.MessageTypeText
	}
	created := u.now().UTC()
	job.Metadata.Retries = 0
	job.Metadata.LastError = ""
	job.Metadata.LastTriedAt = nil
	job.Metadata.CreatedAt = &created
	job.Metadata.InitiatedBy = InitiatedByGateway

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	log := logging.With(logging.WithJobID(ctx, job.ID), u.log)
	if err := u.store.Enqueue(ctx, u.queues.Pending, payload); err != nil {
		log.Error().Err(err).Str("queue", u.queues.Pending).Msg("failed to enqueue job")
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	log.Info().Str("to", logging.Redact(job.Recipient.Phone, u.dev)).Str("queue", u.queues.Pending).Msg("job queued")
	return job, nil
}

func (u *jobUC) ListDeadLetter(ctx context.Context, limit int) (*DeadLetterPage, error) {
	limit = clampPage(limit, DefaultDeadLetterPage)
	total, err := u.store.Len(ctx, u.queues.DeadLetter)
	if err != nil {
		return nil, fmt.Errorf("dead-letter length: %w", err)
	}
	raws, err := u.store.Peek(ctx, u.queues.DeadLetter, limit)
	if err != nil {
		return nil, fmt.Errorf("dead-letter peek: %w", err)
	}
	page := &DeadLetterPage{Queue: u.queues.DeadLetter, Total: total, Items: make([]json.RawMessage, 0, len(raws))}
	for _, r := range raws {
		if !json.Valid(r) {
			// surface garbage as a JSON string instead of breaking the response
			r, _ = json.Marshal(string(r))
		}
		page.Items = append(page.Items, json.RawMessage(r))
	}
	return page, nil
}

func (u *jobUC) ReplayDeadLetter(ctx context.Context, limit int) (*ReplayResult, error) {
	limit = clampPage(limit, 1)
	res := &ReplayResult{}
	for i := 0; i < limit; i++ {
		raw, err := u.store.PopOldest(ctx, u.queues.DeadLetter)
		if errors.Is(err, domain.ErrNotFound) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("dead-letter pop: %w", err)
		}

		job, err := model.ParseJob(raw)
		if err != nil {
			res.Dropped++
			u.log.Warn().Err(err).Str("payload", logging.Redact(string(raw), u.dev)).Msg("dropping unparsable dead-letter entry")
			continue
		}
		job.Metadata.Retries = 0
		payload, err := json.Marshal(job)
		if err != nil {
			return res, fmt.Errorf("encode job: %w", err)
		}
		if err := u.store.Enqueue(ctx, u.queues.Pending, payload); err != nil {
			// put it back so the entry is not lost
			if perr := u.store.Enqueue(ctx, u.queues.DeadLetter, raw); perr != nil {
				u.log.Error().Err(perr).Str("job_id", job.LogID()).Str("payload", logging.Redact(string(raw), u.dev)).Msg("dead-letter entry lost during replay")
			}
			return res, fmt.Errorf("enqueue job: %w", err)
		}
		res.Replayed++
		logging.With(logging.WithJobID(ctx, job.LogID()), u.log).Info().
			Str("to", logging.Redact(job.Recipient.Phone, u.dev)).
			Str("last_error", job.Metadata.LastError).Msg("dead-letter job replayed")
	}
	return res, nil
}

func clampPage(limit, def int) int {
	switch {
	case limit <= 0:
		return def
	case limit > MaxDeadLetterPage:
		return MaxDeadLetterPage
	}
	return limit
}
