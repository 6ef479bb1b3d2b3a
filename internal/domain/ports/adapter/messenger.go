package adapter

import (
	"context"

	"whatsapp-dispatch/internal/domain/model"
)

// Messenger is one instance of the messaging capability (a browser-driven chat
// session). Lifecycle events are delivered on the channel handed to the factory.
type Messenger interface {
	// Initialize starts bring-up and returns once the instance is running;
	// progress is reported through lifecycle events.
	Initialize(ctx context.Context) error
	SendMessage(ctx context.Context, chatID, text string) error
	// Destroy tears the instance down and returns once it is gone.
	Destroy(ctx context.Context) error
}

// MessengerFactory builds a fresh capability instance bound to events.
// The instance must stop sending on events once Destroy has returned.
type MessengerFactory func(events chan<- model.LifecycleEvent) (Messenger, error)
