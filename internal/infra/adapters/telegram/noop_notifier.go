package telegram

import (
	"context"

	"whatsapp-dispatch/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

var _ adapter.Notifier = (*NoopNotifier)(nil)

// NoopNotifier logs alerts instead of sending them. Used when no Telegram
// credentials are configured.
type NoopNotifier struct {
	log *zerolog.Logger
}

func NewNoopNotifier(logger *zerolog.Logger) *NoopNotifier {
	compLog := logger.With().Str("component", "NoopNotifier").Logger()
	return &NoopNotifier{log: &compLog}
}

func (n *NoopNotifier) Notify(ctx context.Context, text string) error {
	n.log.Warn().Str("alert", text).Msg("operator alert")
	return nil
}
