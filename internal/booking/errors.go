package booking

import "errors"

var (
	ErrExpertNotFound = errors.New("expert not found or inactive")
	// ErrSlotUnavailable means the requested interval is outside the
	// expert's availability or overlaps an existing commitment. The caller
	// should re-query availability and pick another slot.
	ErrSlotUnavailable = errors.New("requested slot is not available")
	// ErrInvalidTransition means the booking is not in a state the
	// requested transition can leave from.
	ErrInvalidTransition = errors.New("illegal booking state transition")
	// ErrPaymentAuthorizationFailed surfaces a provider failure during
	// create; no booking is persisted.
	ErrPaymentAuthorizationFailed = errors.New("payment authorization failed")
	// ErrPaymentCaptureFailed surfaces a provider failure during
	// completion; the booking stays in_progress so the capture can be
	// retried.
	ErrPaymentCaptureFailed = errors.New("payment capture failed")
	ErrNotFound             = errors.New("booking not found")
	ErrNotParticipant       = errors.New("caller is not a participant of this booking")
)
