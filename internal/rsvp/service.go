// Package rsvp implements admission control and waitlist promotion for
// capacity-limited events. It is the only writer of registration status and
// of the per-event confirmed/waitlist counters; check-in, no-show and
// administrative status edits all funnel through the same transition rules.
package rsvp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/communityos/event-rsvp-api/internal/models"
	"github.com/communityos/event-rsvp-api/internal/notifier"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Service struct {
	db          *gorm.DB
	locks       *eventLocks
	dispatcher  *notifier.Dispatcher
	lockTimeout time.Duration
}

func NewService(db *gorm.DB, dispatcher *notifier.Dispatcher, lockTimeout time.Duration) *Service {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Service{
		db:          db,
		locks:       newEventLocks(),
		dispatcher:  dispatcher,
		lockTimeout: lockTimeout,
	}
}

// SubmitRequest carries the attendee profile for a new registration.
type SubmitRequest struct {
	AttendeeName        string
	AttendeeEmail       string
	AttendeePhone       string
	Organization        string
	DietaryRestrictions string
	Notes               string
	Source              models.RegistrationSource
}

// withEvent runs fn inside the event's critical section: the per-event lock
// is held across a single transaction that has the event row loaded. All
// counter and rank mutations happen in here.
func (s *Service) withEvent(ctx context.Context, eventID uint, fn func(tx *gorm.DB, event *models.Event) error) error {
	release, err := s.locks.Acquire(ctx, eventID, s.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event models.Event
		if err := tx.First(&event, eventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load event: %w", err)
		}
		return fn(tx, &event)
	})
	if err != nil && isLockedDB(err) {
		return ErrBusy
	}
	return err
}

// Submit decides CONFIRMED vs WAITLISTED vs rejected for a new registration.
// The decision and the counter updates commit atomically with the insert, so
// two concurrent submissions can never both take the last seat.
func (s *Service) Submit(ctx context.Context, eventID uint, req SubmitRequest) (*models.Registration, error) {
	email := strings.ToLower(strings.TrimSpace(req.AttendeeEmail))
	if email == "" {
		return nil, fmt.Errorf("attendee email is required")
	}
	source := req.Source
	if source == "" {
		source = models.SourceWeb
	}

	var reg models.Registration
	var eventCopy models.Event
	var kind notifier.Kind

	err := s.withEvent(ctx, eventID, func(tx *gorm.DB, event *models.Event) error {
		if !event.RegistrationOpen {
			return ErrRegistrationClosed
		}

		var existing models.Registration
		err := tx.Where("event_id = ? AND attendee_email = ? AND status <> ?",
			event.ID, email, models.StatusCancelled).First(&existing).Error
		if err == nil {
			return ErrDuplicateRegistration
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check duplicate: %w", err)
		}

		now := time.Now().UTC()
		reg = models.Registration{
			EventID:             event.ID,
			AttendeeName:        strings.TrimSpace(req.AttendeeName),
			AttendeeEmail:       email,
			AttendeePhone:       req.AttendeePhone,
			Organization:        req.Organization,
			DietaryRestrictions: req.DietaryRestrictions,
			Notes:               req.Notes,
			Source:              source,
			TicketCode:          uuid.New().String(),
		}

		switch {
		case !event.IsFull():
			reg.Status = models.StatusConfirmed
			reg.ConfirmedAt = &now
			event.ConfirmedCount++
			kind = notifier.KindConfirmed
		case event.AllowWaitlist:
			rank := event.WaitlistCount + 1
			reg.Status = models.StatusWaitlisted
			reg.WaitlistRank = &rank
			event.WaitlistCount++
			kind = notifier.KindWaitlisted
		default:
			return ErrCapacityExceeded
		}

		if err := tx.Create(&reg).Error; err != nil {
			return fmt.Errorf("insert registration: %w", err)
		}
		if err := audit(tx, &reg, "", reg.Status, "admission"); err != nil {
			return err
		}
		if err := saveCounts(tx, event); err != nil {
			return err
		}
		eventCopy = *event
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(reg, eventCopy, kind)
	return &reg, nil
}

// Cancel marks a CONFIRMED or WAITLISTED registration as cancelled. Freeing a
// confirmed seat promotes the head of the waitlist; freeing a queue position
// only renumbers the queue, it never promotes (capacity did not change).
func (s *Service) Cancel(ctx context.Context, id uint, reason string) (*models.Registration, error) {
	eventID, err := s.eventIDFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "attendee cancelled"
	}

	var reg models.Registration
	var promoted *models.Registration
	var eventCopy models.Event

	err = s.withEvent(ctx, eventID, func(tx *gorm.DB, event *models.Event) error {
		if err := tx.First(&reg, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load registration: %w", err)
		}
		if !reg.CanCancel() {
			return ErrInvalidTransition
		}

		prior := reg.Status
		freedRank := 0
		if prior == models.StatusWaitlisted && reg.WaitlistRank != nil {
			freedRank = *reg.WaitlistRank
		}

		now := time.Now().UTC()
		reg.Status = models.StatusCancelled
		reg.CancelledAt = &now
		reg.CancellationReason = reason
		reg.WaitlistRank = nil
		if err := tx.Save(&reg).Error; err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		if err := audit(tx, &reg, prior, models.StatusCancelled, reason); err != nil {
			return err
		}

		switch prior {
		case models.StatusConfirmed:
			event.ConfirmedCount--
			p, err := s.promoteNext(tx, event)
			if err != nil {
				return err
			}
			promoted = p
		case models.StatusWaitlisted:
			event.WaitlistCount--
			if err := closeRankGap(tx, event.ID, freedRank); err != nil {
				return err
			}
		}

		if err := saveCounts(tx, event); err != nil {
			return err
		}
		eventCopy = *event
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(reg, eventCopy, notifier.KindCancelled)
	if promoted != nil {
		s.dispatcher.Dispatch(*promoted, eventCopy, notifier.KindPromoted)
	}
	return &reg, nil
}

// CheckIn marks a confirmed attendee as ATTENDED. The CheckedInAt guard makes
// a second call fail instead of silently succeeding twice. The seat stays
// occupied, so no promotion happens.
func (s *Service) CheckIn(ctx context.Context, id uint) (*models.Registration, error) {
	eventID, err := s.eventIDFor(ctx, id)
	if err != nil {
		return nil, err
	}

	var reg models.Registration
	var eventCopy models.Event

	err = s.withEvent(ctx, eventID, func(tx *gorm.DB, event *models.Event) error {
		if err := tx.First(&reg, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load registration: %w", err)
		}
		if !reg.CanCheckIn() {
			return ErrInvalidTransition
		}

		now := time.Now().UTC()
		reg.Status = models.StatusAttended
		reg.CheckedInAt = &now
		if err := tx.Save(&reg).Error; err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		if err := audit(tx, &reg, models.StatusConfirmed, models.StatusAttended, "checked in"); err != nil {
			return err
		}
		eventCopy = *event
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(reg, eventCopy, notifier.KindCheckedIn)
	return &reg, nil
}

// MarkNoShow marks a confirmed attendee who never arrived. The seat was
// consumed and is not reopened retroactively, so counters stay untouched and
// nobody is promoted.
func (s *Service) MarkNoShow(ctx context.Context, id uint) (*models.Registration, error) {
	eventID, err := s.eventIDFor(ctx, id)
	if err != nil {
		return nil, err
	}

	var reg models.Registration

	err = s.withEvent(ctx, eventID, func(tx *gorm.DB, event *models.Event) error {
		if err := tx.First(&reg, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load registration: %w", err)
		}
		if reg.Status != models.StatusConfirmed {
			return ErrInvalidTransition
		}

		reg.Status = models.StatusNoShow
		if err := tx.Save(&reg).Error; err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		return audit(tx, &reg, models.StatusConfirmed, models.StatusNoShow, "marked no-show")
	})
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// SetStatus routes an administrative status edit through the same rules as
// the dedicated operations. WAITLISTED -> CONFIRMED is reserved for the
// promotion engine: allowing it here would let an admin jump the FIFO queue.
func (s *Service) SetStatus(ctx context.Context, id uint, newStatus models.RegistrationStatus, reason string) (*models.Registration, error) {
	switch newStatus {
	case models.StatusCancelled:
		return s.Cancel(ctx, id, reason)
	case models.StatusAttended:
		return s.CheckIn(ctx, id)
	case models.StatusNoShow:
		return s.MarkNoShow(ctx, id)
	case models.StatusWaitlisted:
		return s.demote(ctx, id, reason)
	default:
		return nil, ErrInvalidTransition
	}
}

// demote moves a CONFIRMED registration to the back of the waitlist. The
// freed seat goes to the head of the queue, which is why promoteNext runs
// here too.
func (s *Service) demote(ctx context.Context, id uint, reason string) (*models.Registration, error) {
	eventID, err := s.eventIDFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "administrative demotion"
	}

	var reg models.Registration
	var promoted *models.Registration
	var eventCopy models.Event

	err = s.withEvent(ctx, eventID, func(tx *gorm.DB, event *models.Event) error {
		if err := tx.First(&reg, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load registration: %w", err)
		}
		if !reg.Status.CanTransitionTo(models.StatusWaitlisted) {
			return ErrInvalidTransition
		}

		event.ConfirmedCount--
		rank := event.WaitlistCount + 1
		event.WaitlistCount++

		reg.Status = models.StatusWaitlisted
		reg.WaitlistRank = &rank
		reg.ConfirmedAt = nil
		if err := tx.Save(&reg).Error; err != nil {
			return fmt.Errorf("update registration: %w", err)
		}
		if err := audit(tx, &reg, models.StatusConfirmed, models.StatusWaitlisted, reason); err != nil {
			return err
		}

		p, err := s.promoteNext(tx, event)
		if err != nil {
			return err
		}
		promoted = p

		if err := saveCounts(tx, event); err != nil {
			return err
		}
		// The promotion may have touched this very row (empty waitlist case),
		// so hand back the committed state.
		if err := tx.First(&reg, id).Error; err != nil {
			return fmt.Errorf("reload registration: %w", err)
		}
		eventCopy = *event
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reg.Status == models.StatusWaitlisted {
		s.dispatcher.Dispatch(reg, eventCopy, notifier.KindWaitlisted)
	}
	if promoted != nil && promoted.ID != reg.ID {
		s.dispatcher.Dispatch(*promoted, eventCopy, notifier.KindPromoted)
	}
	return &reg, nil
}

// promoteNext pulls the smallest-rank WAITLISTED registration and confirms
// it, then renumbers the remainder so ranks stay the contiguous range
// 1..waitlistCount. Must run inside the event's critical section.
func (s *Service) promoteNext(tx *gorm.DB, event *models.Event) (*models.Registration, error) {
	if event.ConfirmedCount >= event.Capacity {
		return nil, nil
	}

	var head models.Registration
	err := tx.Where("event_id = ? AND status = ?", event.ID, models.StatusWaitlisted).
		Order("waitlist_rank ASC").First(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load waitlist head: %w", err)
	}

	freedRank := 0
	if head.WaitlistRank != nil {
		freedRank = *head.WaitlistRank
	}

	now := time.Now().UTC()
	head.Status = models.StatusConfirmed
	head.ConfirmedAt = &now
	head.WaitlistRank = nil
	if err := tx.Save(&head).Error; err != nil {
		return nil, fmt.Errorf("promote registration: %w", err)
	}
	if err := audit(tx, &head, models.StatusWaitlisted, models.StatusConfirmed, "promoted from waitlist"); err != nil {
		return nil, err
	}

	event.ConfirmedCount++
	event.WaitlistCount--
	if err := closeRankGap(tx, event.ID, freedRank); err != nil {
		return nil, err
	}
	return &head, nil
}

// closeRankGap shifts every waitlisted registration behind the freed rank up
// by one. Runs in the same transaction as the rank-freeing mutation so there
// is never a window with duplicate or missing ranks.
func closeRankGap(tx *gorm.DB, eventID uint, freedRank int) error {
	if freedRank == 0 {
		return nil
	}
	err := tx.Model(&models.Registration{}).
		Where("event_id = ? AND status = ? AND waitlist_rank > ?",
			eventID, models.StatusWaitlisted, freedRank).
		UpdateColumn("waitlist_rank", gorm.Expr("waitlist_rank - 1")).Error
	if err != nil {
		return fmt.Errorf("renumber waitlist: %w", err)
	}
	return nil
}

func saveCounts(tx *gorm.DB, event *models.Event) error {
	err := tx.Model(&models.Event{}).Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"confirmed_count": event.ConfirmedCount,
			"waitlist_count":  event.WaitlistCount,
		}).Error
	if err != nil {
		return fmt.Errorf("update event counts: %w", err)
	}
	return nil
}

func audit(tx *gorm.DB, reg *models.Registration, from, to models.RegistrationStatus, reason string) error {
	change := models.StatusChange{
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		FromStatus:     from,
		ToStatus:       to,
		Reason:         reason,
	}
	if err := tx.Create(&change).Error; err != nil {
		return fmt.Errorf("record status change: %w", err)
	}
	return nil
}

// eventIDFor resolves the event a registration belongs to, so the caller can
// take the right per-event lock before re-reading the row inside it.
func (s *Service) eventIDFor(ctx context.Context, id uint) (uint, error) {
	var reg models.Registration
	err := s.db.WithContext(ctx).Select("id", "event_id").First(&reg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load registration: %w", err)
	}
	return reg.EventID, nil
}

// Get returns a single registration.
func (s *Service) Get(ctx context.Context, id uint) (*models.Registration, error) {
	var reg models.Registration
	err := s.db.WithContext(ctx).First(&reg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}
	return &reg, nil
}

// GetWaitlist returns the event's WAITLISTED registrations in promotion
// order.
func (s *Service) GetWaitlist(ctx context.Context, eventID uint) ([]models.Registration, error) {
	if err := s.ensureEvent(ctx, eventID); err != nil {
		return nil, err
	}
	var regs []models.Registration
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND status = ?", eventID, models.StatusWaitlisted).
		Order("waitlist_rank ASC").Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return regs, nil
}

// ListByEvent returns every registration for the event, oldest first.
func (s *Service) ListByEvent(ctx context.Context, eventID uint) ([]models.Registration, error) {
	if err := s.ensureEvent(ctx, eventID); err != nil {
		return nil, err
	}
	var regs []models.Registration
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at ASC, id ASC").Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

// ListByAttendee returns all of one attendee's registrations across every
// event, newest first. Email matching follows the same normalization as
// admission.
func (s *Service) ListByAttendee(ctx context.Context, email string) ([]models.Registration, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("attendee email is required")
	}
	var regs []models.Registration
	err := s.db.WithContext(ctx).
		Where("attendee_email = ?", email).
		Order("created_at DESC, id DESC").Find(&regs).Error
	if err != nil {
		return nil, fmt.Errorf("list attendee registrations: %w", err)
	}
	return regs, nil
}

func (s *Service) ensureEvent(ctx context.Context, eventID uint) error {
	var event models.Event
	err := s.db.WithContext(ctx).Select("id").First(&event, eventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	return nil
}

// Statistics aggregates registration counts across all events.
type Statistics struct {
	TotalRegistrations int64 `json:"total_registrations"`
	Confirmed          int64 `json:"confirmed"`
	Waitlisted         int64 `json:"waitlisted"`
	Cancelled          int64 `json:"cancelled"`
	Attended           int64 `json:"attended"`
	NoShow             int64 `json:"no_show"`
}

func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	db := s.db.WithContext(ctx)
	stats := &Statistics{}

	if err := db.Model(&models.Registration{}).Count(&stats.TotalRegistrations).Error; err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}

	byStatus := []struct {
		status models.RegistrationStatus
		dest   *int64
	}{
		{models.StatusConfirmed, &stats.Confirmed},
		{models.StatusWaitlisted, &stats.Waitlisted},
		{models.StatusCancelled, &stats.Cancelled},
		{models.StatusAttended, &stats.Attended},
		{models.StatusNoShow, &stats.NoShow},
	}
	for _, c := range byStatus {
		if err := db.Model(&models.Registration{}).Where("status = ?", c.status).Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("count %s registrations: %w", c.status, err)
		}
	}
	return stats, nil
}

// isLockedDB matches sqlite contention errors so callers see the retryable
// ErrBusy instead of a driver-specific failure.
func isLockedDB(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
