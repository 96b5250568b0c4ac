package models

import (
	"time"

	"gorm.io/gorm"
)

// Event is the capacity view for a single event. ConfirmedCount and
// WaitlistCount are maintained incrementally and must only be mutated inside
// the rsvp package's per-event critical section, never recomputed by scan.
type Event struct {
	gorm.Model
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Location         string    `json:"location"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	Capacity         int       `json:"capacity"`
	ConfirmedCount   int       `json:"confirmed_count"`
	WaitlistCount    int       `json:"waitlist_count"`
	AllowWaitlist    bool      `json:"allow_waitlist"`
	RegistrationOpen bool      `json:"registration_open"`
	OrganizerName    string    `json:"organizer_name"`
	OrganizerEmail   string    `json:"organizer_email"`
}

// IsFull reports whether every confirmed slot is occupied. A slot stays
// occupied through ATTENDED and NO_SHOW; only cancellation releases it.
func (e *Event) IsFull() bool {
	return e.ConfirmedCount >= e.Capacity
}

// AvailableSlots returns the number of free confirmed slots.
func (e *Event) AvailableSlots() int {
	if e.ConfirmedCount >= e.Capacity {
		return 0
	}
	return e.Capacity - e.ConfirmedCount
}

// CanAcceptRSVP reports whether a new registration has any chance of being
// admitted, either directly or onto the waitlist.
func (e *Event) CanAcceptRSVP() bool {
	return e.RegistrationOpen && (!e.IsFull() || e.AllowWaitlist)
}
