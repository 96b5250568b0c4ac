package models

import (
	"time"

	"gorm.io/gorm"
)

type RegistrationStatus string

const (
	StatusConfirmed  RegistrationStatus = "confirmed"
	StatusWaitlisted RegistrationStatus = "waitlisted"
	StatusCancelled  RegistrationStatus = "cancelled"
	StatusAttended   RegistrationStatus = "attended"
	StatusNoShow     RegistrationStatus = "no_show"
)

// transitions is the closed set of permitted status changes. Anything not
// listed here is rejected, including every transition out of a terminal
// status.
var transitions = map[RegistrationStatus][]RegistrationStatus{
	StatusConfirmed:  {StatusWaitlisted, StatusCancelled, StatusAttended, StatusNoShow},
	StatusWaitlisted: {StatusConfirmed, StatusCancelled},
	StatusCancelled:  {},
	StatusAttended:   {},
	StatusNoShow:     {},
}

func (s RegistrationStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no further transition is permitted.
func (s RegistrationStatus) IsTerminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// CanTransitionTo reports whether the status change is in the transition
// table.
func (s RegistrationStatus) CanTransitionTo(next RegistrationStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type RegistrationSource string

const (
	SourceWeb    RegistrationSource = "web"
	SourceMobile RegistrationSource = "mobile"
	SourceAPI    RegistrationSource = "api"
	SourceAdmin  RegistrationSource = "admin"
)

// Registration is one attendee's RSVP for one event. The attendee email is
// the stable identity key: at most one non-cancelled registration may exist
// per (event, email). Cancelled rows are kept, never deleted, so the
// uniqueness rule is enforced by the admission path rather than a database
// unique index.
type Registration struct {
	gorm.Model
	EventID             uint               `json:"event_id" gorm:"index:idx_event_status;index:idx_event_email"`
	Event               Event              `json:"-" gorm:"foreignKey:EventID"`
	AttendeeName        string             `json:"attendee_name"`
	AttendeeEmail       string             `json:"attendee_email" gorm:"index:idx_event_email"`
	AttendeePhone       string             `json:"attendee_phone"`
	Organization        string             `json:"organization"`
	DietaryRestrictions string             `json:"dietary_restrictions"`
	Notes               string             `json:"notes"`
	Source              RegistrationSource `json:"source"`
	TicketCode          string             `json:"ticket_code" gorm:"uniqueIndex"`
	Status              RegistrationStatus `json:"status" gorm:"index:idx_event_status"`
	WaitlistRank        *int               `json:"waitlist_rank,omitempty"`
	ConfirmedAt         *time.Time         `json:"confirmed_at,omitempty"`
	CancelledAt         *time.Time         `json:"cancelled_at,omitempty"`
	CheckedInAt         *time.Time         `json:"checked_in_at,omitempty"`
	CancellationReason  string             `json:"cancellation_reason,omitempty"`
}

// CanCancel reports whether the registration still holds a seat or a queue
// position that can be given up.
func (r *Registration) CanCancel() bool {
	return r.Status == StatusConfirmed || r.Status == StatusWaitlisted
}

// CanCheckIn guards against double check-in: a second call finds CheckedInAt
// already set (and the status already ATTENDED) and is rejected.
func (r *Registration) CanCheckIn() bool {
	return r.Status == StatusConfirmed && r.CheckedInAt == nil
}

// StatusChange is an audit row appended in the same transaction as every
// status transition.
type StatusChange struct {
	gorm.Model
	RegistrationID uint               `json:"registration_id" gorm:"index"`
	EventID        uint               `json:"event_id" gorm:"index"`
	FromStatus     RegistrationStatus `json:"from_status"`
	ToStatus       RegistrationStatus `json:"to_status"`
	Reason         string             `json:"reason"`
}
