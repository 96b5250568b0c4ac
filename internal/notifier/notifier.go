// Package notifier informs attendees (and the ops channel) about RSVP state
// changes. Delivery is best-effort and asynchronous: a failed notification is
// logged and dropped, it never rolls back or fails the state transition that
// produced it.
package notifier

import (
	"log"

	"github.com/communityos/event-rsvp-api/internal/models"
)

type Kind string

const (
	KindConfirmed  Kind = "confirmed"
	KindWaitlisted Kind = "waitlisted"
	KindPromoted   Kind = "promoted"
	KindCheckedIn  Kind = "checked_in"
	KindCancelled  Kind = "cancelled"
)

type Notifier interface {
	NotifyRSVP(registration models.Registration, event models.Event, kind Kind) error
}

// Dispatcher wraps a Notifier with fire-and-forget delivery. A nil Dispatcher
// or a Dispatcher around a nil Notifier silently drops everything, which keeps
// tests and notification-less deployments simple.
type Dispatcher struct {
	n Notifier
}

func NewDispatcher(n Notifier) *Dispatcher {
	return &Dispatcher{n: n}
}

// Dispatch delivers the notification on its own goroutine. Callers must
// invoke it only after their transaction has committed.
func (d *Dispatcher) Dispatch(registration models.Registration, event models.Event, kind Kind) {
	if d == nil || d.n == nil {
		return
	}
	go func() {
		if err := d.n.NotifyRSVP(registration, event, kind); err != nil {
			log.Printf("Failed to send %s notification for registration %d: %v", kind, registration.ID, err)
		}
	}()
}
