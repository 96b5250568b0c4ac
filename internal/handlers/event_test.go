package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/communityos/event-rsvp-api/internal/models"
)

func TestHandleCreateEvent(t *testing.T) {
	_, eventHandler, _, authCookie := setupTest(t)

	req := &CreateEventRequest{}
	req.Cookie = authCookie
	req.Body.Title = "Go Meetup"
	req.Body.Capacity = 40
	req.Body.AllowWaitlist = true
	req.Body.StartsAt = time.Now().Add(24 * time.Hour)
	req.Body.EndsAt = time.Now().Add(27 * time.Hour)

	resp, err := eventHandler.HandleCreate(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleCreate returned error: %v", err)
	}
	if resp.Body.RegistrationOpen {
		t.Error("new events must start with registration closed")
	}
	if resp.Body.Capacity != 40 {
		t.Errorf("expected capacity 40, got %d", resp.Body.Capacity)
	}

	// Staff-only: no credentials means no event.
	_, err = eventHandler.HandleCreate(context.Background(), &CreateEventRequest{})
	expectStatus(t, err, 401)
}

func TestHandleCreateEventRejectsBadWindow(t *testing.T) {
	_, eventHandler, _, authCookie := setupTest(t)

	req := &CreateEventRequest{}
	req.Cookie = authCookie
	req.Body.Title = "Backwards"
	req.Body.Capacity = 10
	req.Body.StartsAt = time.Now().Add(48 * time.Hour)
	req.Body.EndsAt = time.Now().Add(24 * time.Hour)

	_, err := eventHandler.HandleCreate(context.Background(), req)
	expectStatus(t, err, 400)
}

func TestHandleOpenAndCloseRegistration(t *testing.T) {
	rsvpHandler, eventHandler, db, authCookie := setupTest(t)

	event := &models.Event{Title: "Workshop", Capacity: 5, RegistrationOpen: false}
	db.Create(event)

	submit := &SubmitRequest{EventID: event.ID}
	submit.Body.AttendeeName = "Early Bird"
	submit.Body.AttendeeEmail = "early@example.com"
	_, err := rsvpHandler.HandleSubmit(context.Background(), submit)
	expectStatus(t, err, 400)

	openReq := &SetRegistrationOpenRequest{ID: event.ID}
	openReq.Cookie = authCookie
	openResp, err := eventHandler.HandleOpenRegistration(context.Background(), openReq)
	if err != nil {
		t.Fatalf("HandleOpenRegistration returned error: %v", err)
	}
	if !openResp.Body.RegistrationOpen {
		t.Error("expected registration to be open")
	}

	if _, err := rsvpHandler.HandleSubmit(context.Background(), submit); err != nil {
		t.Fatalf("HandleSubmit after open returned error: %v", err)
	}

	closeResp, err := eventHandler.HandleCloseRegistration(context.Background(), openReq)
	if err != nil {
		t.Fatalf("HandleCloseRegistration returned error: %v", err)
	}
	if closeResp.Body.RegistrationOpen {
		t.Error("expected registration to be closed")
	}
}

func TestHandleSlots(t *testing.T) {
	rsvpHandler, eventHandler, db, _ := setupTest(t)
	event := createOpenEvent(t, db, 2, true)

	submit := &SubmitRequest{EventID: event.ID}
	submit.Body.AttendeeName = "Taken"
	submit.Body.AttendeeEmail = "taken@example.com"
	if _, err := rsvpHandler.HandleSubmit(context.Background(), submit); err != nil {
		t.Fatalf("HandleSubmit returned error: %v", err)
	}

	resp, err := eventHandler.HandleSlots(context.Background(), &GetSlotsRequest{ID: event.ID})
	if err != nil {
		t.Fatalf("HandleSlots returned error: %v", err)
	}
	if resp.Body.AvailableSlots != 1 {
		t.Errorf("expected 1 available slot, got %d", resp.Body.AvailableSlots)
	}
	if resp.Body.ConfirmedCount != 1 {
		t.Errorf("expected confirmed count 1, got %d", resp.Body.ConfirmedCount)
	}

	_, err = eventHandler.HandleSlots(context.Background(), &GetSlotsRequest{ID: 999})
	expectStatus(t, err, 404)
}
