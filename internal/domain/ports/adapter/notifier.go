package adapter

import "context"

// Notifier delivers operator alerts (QR scan needed, jobs dead-lettered, ...).
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Translator renders operator alert texts by message key.
type Translator interface {
	T(key string, args ...any) string
}
