package rsvp

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/communityos/event-rsvp-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to connect database")

	// A single connection keeps every goroutine on the same in-memory DB.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Event{}, &models.Registration{}, &models.StatusChange{}))
	return NewService(db, nil, 5*time.Second), db
}

func createEvent(t *testing.T, db *gorm.DB, capacity int, allowWaitlist bool) *models.Event {
	t.Helper()
	event := &models.Event{
		Title:            "Go Meetup",
		Capacity:         capacity,
		AllowWaitlist:    allowWaitlist,
		RegistrationOpen: true,
		StartsAt:         time.Now().Add(24 * time.Hour),
		EndsAt:           time.Now().Add(27 * time.Hour),
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

func attendee(name string) SubmitRequest {
	return SubmitRequest{
		AttendeeName:  name,
		AttendeeEmail: name + "@example.com",
	}
}

func reloadEvent(t *testing.T, db *gorm.DB, id uint) *models.Event {
	t.Helper()
	var event models.Event
	require.NoError(t, db.First(&event, id).Error)
	return &event
}

// assertContiguousRanks checks that the waitlist ranks for an event are
// exactly 1..waitlistCount with no gaps and no duplicates.
func assertContiguousRanks(t *testing.T, db *gorm.DB, eventID uint) {
	t.Helper()
	event := reloadEvent(t, db, eventID)

	var regs []models.Registration
	require.NoError(t, db.Where("event_id = ? AND status = ?", eventID, models.StatusWaitlisted).
		Order("waitlist_rank ASC").Find(&regs).Error)

	require.Len(t, regs, event.WaitlistCount, "waitlist_count does not match waitlisted rows")
	for i, reg := range regs {
		require.NotNil(t, reg.WaitlistRank)
		assert.Equal(t, i+1, *reg.WaitlistRank, "rank gap or duplicate at position %d", i)
	}
}

func TestSubmitConfirmsUntilCapacity(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 2, false)

	a, err := s.Submit(ctx, event.ID, attendee("anna"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, a.Status)
	assert.Nil(t, a.WaitlistRank)
	assert.NotNil(t, a.ConfirmedAt)
	assert.NotEmpty(t, a.TicketCode)

	b, err := s.Submit(ctx, event.ID, attendee("ben"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)

	// Event full, waitlist disabled: no record is created.
	_, err = s.Submit(ctx, event.ID, attendee("cara"))
	require.ErrorIs(t, err, ErrCapacityExceeded)

	var count int64
	db.Model(&models.Registration{}).Where("event_id = ?", event.ID).Count(&count)
	assert.EqualValues(t, 2, count)

	event = reloadEvent(t, db, event.ID)
	assert.Equal(t, 2, event.ConfirmedCount)
	assert.Equal(t, 0, event.WaitlistCount)
}

func TestSubmitWaitlistsWhenFull(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	alice, err := s.Submit(ctx, event.ID, attendee("alice"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, alice.Status)

	bob, err := s.Submit(ctx, event.ID, attendee("bob"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlisted, bob.Status)
	require.NotNil(t, bob.WaitlistRank)
	assert.Equal(t, 1, *bob.WaitlistRank)
	assert.Nil(t, bob.ConfirmedAt)

	// Cancelling alice frees the seat; bob is promoted.
	_, err = s.Cancel(ctx, alice.ID, "can't make it")
	require.NoError(t, err)

	promoted, err := s.Get(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, promoted.Status)
	assert.Nil(t, promoted.WaitlistRank)
	assert.NotNil(t, promoted.ConfirmedAt)

	event = reloadEvent(t, db, event.ID)
	assert.Equal(t, 1, event.ConfirmedCount)
	assert.Equal(t, 0, event.WaitlistCount)
}

func TestSubmitRegistrationClosed(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 5, true)
	require.NoError(t, db.Model(event).Update("registration_open", false).Error)

	_, err := s.Submit(ctx, event.ID, attendee("dana"))
	require.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestSubmitUnknownEvent(t *testing.T) {
	s, _ := newTestService(t)

	_, err := s.Submit(context.Background(), 999, attendee("eve"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitDuplicate(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	first, err := s.Submit(ctx, event.ID, attendee("frank"))
	require.NoError(t, err)

	// Same attendee again, even with different casing, is rejected.
	dup := attendee("frank")
	dup.AttendeeEmail = "Frank@Example.com"
	_, err = s.Submit(ctx, event.ID, dup)
	require.ErrorIs(t, err, ErrDuplicateRegistration)

	// A waitlisted registration blocks a second submission too.
	wl, err := s.Submit(ctx, event.ID, attendee("gina"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlisted, wl.Status)
	_, err = s.Submit(ctx, event.ID, attendee("gina"))
	require.ErrorIs(t, err, ErrDuplicateRegistration)

	// After cancelling, the attendee may register again.
	_, err = s.Cancel(ctx, first.ID, "")
	require.NoError(t, err)
	again, err := s.Submit(ctx, event.ID, attendee("frank"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
}

func TestCancelWaitlistedRenumbers(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	a, err := s.Submit(ctx, event.ID, attendee("ana"))
	require.NoError(t, err)
	b, err := s.Submit(ctx, event.ID, attendee("bea"))
	require.NoError(t, err)
	c, err := s.Submit(ctx, event.ID, attendee("cleo"))
	require.NoError(t, err)
	require.NotNil(t, c.WaitlistRank)
	assert.Equal(t, 2, *c.WaitlistRank)

	// Cancelling a waitlisted registration closes the rank gap but never
	// promotes anyone: no confirmed seat was freed.
	_, err = s.Cancel(ctx, b.ID, "")
	require.NoError(t, err)

	cAfter, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlisted, cAfter.Status)
	require.NotNil(t, cAfter.WaitlistRank)
	assert.Equal(t, 1, *cAfter.WaitlistRank)

	aAfter, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, aAfter.Status)

	event = reloadEvent(t, db, event.ID)
	assert.Equal(t, 1, event.ConfirmedCount)
	assert.Equal(t, 1, event.WaitlistCount)
	assertContiguousRanks(t, db, event.ID)
}

func TestCancelIsTerminal(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 2, false)

	reg, err := s.Submit(ctx, event.ID, attendee("hugo"))
	require.NoError(t, err)

	cancelled, err := s.Cancel(ctx, reg.ID, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, "changed plans", cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = s.Cancel(ctx, reg.ID, "again")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Cancel(ctx, 999, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckInGuard(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	reg, err := s.Submit(ctx, event.ID, attendee("iris"))
	require.NoError(t, err)

	attended, err := s.CheckIn(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAttended, attended.Status)
	assert.NotNil(t, attended.CheckedInAt)

	// Second check-in fails instead of silently succeeding.
	_, err = s.CheckIn(ctx, reg.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// The seat stays occupied: nobody gets promoted and counts are unchanged.
	wl, err := s.Submit(ctx, event.ID, attendee("jon"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlisted, wl.Status)
	event = reloadEvent(t, db, event.ID)
	assert.Equal(t, 1, event.ConfirmedCount)
}

func TestCheckInWaitlisted(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	_, err := s.Submit(ctx, event.ID, attendee("kay"))
	require.NoError(t, err)
	wl, err := s.Submit(ctx, event.ID, attendee("liz"))
	require.NoError(t, err)

	_, err = s.CheckIn(ctx, wl.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkNoShow(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	reg, err := s.Submit(ctx, event.ID, attendee("mia"))
	require.NoError(t, err)
	wl, err := s.Submit(ctx, event.ID, attendee("noah"))
	require.NoError(t, err)

	noShow, err := s.MarkNoShow(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoShow, noShow.Status)

	// The slot was consumed; the no-show does not reopen it.
	event = reloadEvent(t, db, event.ID)
	assert.Equal(t, 1, event.ConfirmedCount)
	wlAfter, err := s.Get(ctx, wl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlisted, wlAfter.Status)

	// No-show is terminal.
	_, err = s.MarkNoShow(ctx, reg.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.Cancel(ctx, reg.ID, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetStatusDemotion(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	a, err := s.Submit(ctx, event.ID, attendee("omar"))
	require.NoError(t, err)
	b, err := s.Submit(ctx, event.ID, attendee("pia"))
	require.NoError(t, err)

	// Demoting omar frees his seat; pia (head of the queue) takes it and
	// omar lands at the back, which after renumbering is rank 1.
	demoted, err := s.SetStatus(ctx, a.ID, models.StatusWaitlisted, "gave up seat")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlisted, demoted.Status)
	require.NotNil(t, demoted.WaitlistRank)
	assert.Equal(t, 1, *demoted.WaitlistRank)

	bAfter, err := s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, bAfter.Status)

	event = reloadEvent(t, db, event.ID)
	assert.Equal(t, 1, event.ConfirmedCount)
	assert.Equal(t, 1, event.WaitlistCount)
	assertContiguousRanks(t, db, event.ID)
}

func TestSetStatusDemotionEmptyWaitlist(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	a, err := s.Submit(ctx, event.ID, attendee("quinn"))
	require.NoError(t, err)

	// With nobody else queued, the demoted registrant is the head of the
	// queue and immediately wins the freed seat back.
	res, err := s.SetStatus(ctx, a.ID, models.StatusWaitlisted, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, res.Status)

	event = reloadEvent(t, db, event.ID)
	assert.Equal(t, 1, event.ConfirmedCount)
	assert.Equal(t, 0, event.WaitlistCount)
}

func TestSetStatusGuards(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	a, err := s.Submit(ctx, event.ID, attendee("rosa"))
	require.NoError(t, err)
	wl, err := s.Submit(ctx, event.ID, attendee("sam"))
	require.NoError(t, err)

	// Manual promotion would jump the FIFO queue.
	_, err = s.SetStatus(ctx, wl.ID, models.StatusConfirmed, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Waitlisted registrants were never at the event.
	_, err = s.SetStatus(ctx, wl.ID, models.StatusNoShow, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Terminal states cannot be edited.
	_, err = s.CheckIn(ctx, a.ID)
	require.NoError(t, err)
	_, err = s.SetStatus(ctx, a.ID, models.StatusCancelled, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.SetStatus(ctx, wl.ID, "vanished", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetStatusCancelRoutesThroughPromotion(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	a, err := s.Submit(ctx, event.ID, attendee("tara"))
	require.NoError(t, err)
	b, err := s.Submit(ctx, event.ID, attendee("uri"))
	require.NoError(t, err)

	_, err = s.SetStatus(ctx, a.ID, models.StatusCancelled, "admin removal")
	require.NoError(t, err)

	bAfter, err := s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, bAfter.Status)
}

func TestFIFOPromotionOrder(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 2, true)

	var confirmed []*models.Registration
	var queued []*models.Registration
	for i := 0; i < 6; i++ {
		reg, err := s.Submit(ctx, event.ID, attendee(fmt.Sprintf("guest%d", i)))
		require.NoError(t, err)
		if reg.Status == models.StatusConfirmed {
			confirmed = append(confirmed, reg)
		} else {
			queued = append(queued, reg)
		}
	}
	require.Len(t, confirmed, 2)
	require.Len(t, queued, 4)

	// Free seats one by one; promotions must follow queue order exactly.
	for i, seat := range confirmed {
		_, err := s.Cancel(ctx, seat.ID, "")
		require.NoError(t, err)

		next, err := s.Get(ctx, queued[i].ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, next.Status, "queued[%d] should be promoted", i)
		if i+1 < len(queued) {
			later, err := s.Get(ctx, queued[i+1].ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusWaitlisted, later.Status, "queued[%d] promoted out of order", i+1)
		}
		assertContiguousRanks(t, db, event.ID)
	}
}

func TestWaitlistContiguityUnderMixedOps(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 2, true)

	var regs []*models.Registration
	for i := 0; i < 8; i++ {
		reg, err := s.Submit(ctx, event.ID, attendee(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
		regs = append(regs, reg)
	}
	assertContiguousRanks(t, db, event.ID)

	// Cancel from the middle of the queue, the head of the queue, and a
	// confirmed seat; contiguity and the capacity invariant must hold after
	// every operation.
	for _, id := range []uint{regs[4].ID, regs[2].ID, regs[0].ID} {
		_, err := s.Cancel(ctx, id, "")
		require.NoError(t, err)
		assertContiguousRanks(t, db, event.ID)

		e := reloadEvent(t, db, event.ID)
		assert.LessOrEqual(t, e.ConfirmedCount, e.Capacity)
	}
}

func TestGetWaitlistOrdering(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	_, err := s.Submit(ctx, event.ID, attendee("val"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Submit(ctx, event.ID, attendee(fmt.Sprintf("wait%d", i)))
		require.NoError(t, err)
	}

	waitlist, err := s.GetWaitlist(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, waitlist, 3)
	for i, reg := range waitlist {
		require.NotNil(t, reg.WaitlistRank)
		assert.Equal(t, i+1, *reg.WaitlistRank)
		assert.Equal(t, fmt.Sprintf("wait%d@example.com", i), reg.AttendeeEmail)
	}

	_, err = s.GetWaitlist(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListByEvent(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 5, false)

	for i := 0; i < 3; i++ {
		_, err := s.Submit(ctx, event.ID, attendee(fmt.Sprintf("list%d", i)))
		require.NoError(t, err)
	}

	regs, err := s.ListByEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Len(t, regs, 3)

	_, err = s.ListByEvent(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListByAttendee(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	meetup := createEvent(t, db, 1, true)
	workshop := createEvent(t, db, 5, false)

	_, err := s.Submit(ctx, meetup.ID, attendee("zoe"))
	require.NoError(t, err)
	_, err = s.Submit(ctx, meetup.ID, attendee("yuri"))
	require.NoError(t, err)
	second, err := s.Submit(ctx, workshop.ID, attendee("yuri"))
	require.NoError(t, err)

	// Lookup spans events and ignores email casing.
	regs, err := s.ListByAttendee(ctx, "  Yuri@Example.com ")
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, second.ID, regs[0].ID, "newest registration should come first")
	assert.Equal(t, models.StatusWaitlisted, regs[1].Status)
	assert.Equal(t, models.StatusConfirmed, regs[0].Status)

	regs, err = s.ListByAttendee(ctx, "stranger@example.com")
	require.NoError(t, err)
	assert.Empty(t, regs)

	_, err = s.ListByAttendee(ctx, "  ")
	require.Error(t, err)
}

func TestStatusChangeAudit(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	a, err := s.Submit(ctx, event.ID, attendee("wes"))
	require.NoError(t, err)
	b, err := s.Submit(ctx, event.ID, attendee("xena"))
	require.NoError(t, err)
	_, err = s.Cancel(ctx, a.ID, "sick")
	require.NoError(t, err)

	var changes []models.StatusChange
	require.NoError(t, db.Where("event_id = ?", event.ID).Order("id ASC").Find(&changes).Error)
	// Two admissions, one cancellation, one promotion.
	require.Len(t, changes, 4)
	assert.Equal(t, models.StatusCancelled, changes[2].ToStatus)
	assert.Equal(t, "sick", changes[2].Reason)
	assert.Equal(t, b.ID, changes[3].RegistrationID)
	assert.Equal(t, models.StatusWaitlisted, changes[3].FromStatus)
	assert.Equal(t, models.StatusConfirmed, changes[3].ToStatus)
}

func TestGetStatistics(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 1, true)

	a, err := s.Submit(ctx, event.ID, attendee("yara"))
	require.NoError(t, err)
	_, err = s.Submit(ctx, event.ID, attendee("zack"))
	require.NoError(t, err)
	_, err = s.CheckIn(ctx, a.ID)
	require.NoError(t, err)

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalRegistrations)
	assert.EqualValues(t, 1, stats.Attended)
	assert.EqualValues(t, 1, stats.Waitlisted)
	assert.EqualValues(t, 0, stats.Confirmed)
}

// Fifty concurrent submissions against a ten-seat event must end with
// exactly ten confirmed and forty waitlisted registrations, ranks 1..40,
// regardless of interleaving.
func TestConcurrentSubmissions(t *testing.T) {
	s, db := newTestService(t)
	ctx := context.Background()
	event := createEvent(t, db, 10, true)

	const total = 50
	var wg sync.WaitGroup
	errs := make(chan error, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Submit(ctx, event.ID, attendee(fmt.Sprintf("racer%d", n)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	var confirmed, waitlisted int64
	db.Model(&models.Registration{}).Where("event_id = ? AND status = ?", event.ID, models.StatusConfirmed).Count(&confirmed)
	db.Model(&models.Registration{}).Where("event_id = ? AND status = ?", event.ID, models.StatusWaitlisted).Count(&waitlisted)
	assert.EqualValues(t, 10, confirmed)
	assert.EqualValues(t, 40, waitlisted)

	event = reloadEvent(t, db, event.ID)
	assert.Equal(t, 10, event.ConfirmedCount)
	assert.Equal(t, 40, event.WaitlistCount)
	assertContiguousRanks(t, db, event.ID)
}
