package whatsapp

import (
	"context"
	"sync"

	"whatsapp-dispatch/internal/domain/model"
	"whatsapp-dispatch/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.Messenger = (*Noop)(nil)

// Noop is a messaging capability for local development: it authenticates
// immediately and logs messages instead of sending them.
type Noop struct {
	events chan<- model.LifecycleEvent
	log    *zerolog.Logger
	quit   chan struct{}
	once   sync.Once
}

func NewNoopFactory(logger *zerolog.Logger) adapter.MessengerFactory {
	compLog := logger.With().Str("component", "WhatsAppNoop").Logger()
	return func(events chan<- model.LifecycleEvent) (adapter.Messenger, error) {
		return &Noop{events: events, log: &compLog, quit: make(chan struct{})}, nil
	}
}

func (n *Noop) Initialize(ctx context.Context) error {
	go func() {
		for _, k := range []model.LifecycleEventKind{model.EventAuthenticated, model.EventReady} {
			select {
			case n.events <- model.LifecycleEvent{Kind: k}:
			case <-n.quit:
				return
			}
		}
	}()
	return nil
}

func (n *Noop) SendMessage(ctx context.Context, chatID, text string) error {
	select {
	case <-n.quit:
		return errConnClosed
	default:
	}
	n.log.Info().Str("to", chatID).Int("length", len(text)).Msg("noop send")
	return nil
}

func (n *Noop) Destroy(ctx context.Context) error {
	n.once.Do(func() { close(n.quit) })
	return nil
}
