package domain

import "errors"

var (
	// Job validation. Payloads failing with this are poison messages: dropped, never retried.
	ErrInvalidJob = errors.New("invalid job")

	// Session / capability
	ErrNotReady         = errors.New("messaging session is not ready")
	ErrSessionExhausted = errors.New("session restart attempts exhausted")
	ErrSessionClosed    = errors.New("session lifecycle is closed")

	// Job store
	ErrStoreClosed = errors.New("job store connection closed")
	ErrLeaseHeld   = errors.New("consumer lease held by another process")
	ErrLeaseLost   = errors.New("consumer lease lost")

	ErrNotFound = errors.New("entity not found")
)
