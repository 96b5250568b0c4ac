package rsvp

import "errors"

// Typed failures returned to callers. Handlers map each to a specific HTTP
// status; only ErrBusy is safe to retry automatically.
var (
	// ErrNotFound is returned when an event or registration id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRegistration is returned when the attendee already holds a
	// non-cancelled registration for the event.
	ErrDuplicateRegistration = errors.New("attendee already registered for this event")

	// ErrRegistrationClosed is returned when the event is not accepting
	// registrations.
	ErrRegistrationClosed = errors.New("event is not open for registration")

	// ErrCapacityExceeded is returned when the event is full and has no
	// waitlist.
	ErrCapacityExceeded = errors.New("event is full")

	// ErrInvalidTransition is returned when a status change is not permitted
	// from the registration's current state.
	ErrInvalidTransition = errors.New("status change not permitted from current state")

	// ErrBusy is returned when the per-event lock could not be acquired in
	// time. Retryable.
	ErrBusy = errors.New("event is busy, please retry")
)
