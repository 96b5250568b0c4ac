package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/communityos/event-rsvp-api/internal/auth"
	"github.com/communityos/event-rsvp-api/internal/models"
	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"
)

type EventHandler struct {
	db          *gorm.DB
	authHandler *auth.AuthHandler
}

func NewEventHandler(db *gorm.DB, authHandler *auth.AuthHandler) *EventHandler {
	return &EventHandler{db: db, authHandler: authHandler}
}

type EventResponse struct {
	ID               uint      `json:"id"`
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

func toEventResponse(e *models.Event) EventResponse {
	return EventResponse{
		ID:               e.ID,
		Title:            e.Title,
		Description:      e.Description,
		Location:         e.Location,
		StartsAt:         e.StartsAt,
		EndsAt:           e.EndsAt,
		Capacity:         e.Capacity,
		ConfirmedCount:   e.ConfirmedCount,
		WaitlistCount:    e.WaitlistCount,
		AllowWaitlist:    e.AllowWaitlist,
		RegistrationOpen: e.RegistrationOpen,
		OrganizerName:    e.OrganizerName,
		OrganizerEmail:   e.OrganizerEmail,
	}
}

type CreateEventRequest struct {
	auth.AuthInput
	Body struct {
		Title          string    `json:"title" doc:"Event title" required:"true"`
		Description    string    `json:"description" doc:"Event description"`
		Location       string    `json:"location" doc:"Where the event takes place"`
		StartsAt       time.Time `json:"starts_at" doc:"Event start time"`
		EndsAt         time.Time `json:"ends_at" doc:"Event end time"`
		Capacity       int       `json:"capacity" doc:"Number of confirmed seats" minimum:"1" required:"true"`
		AllowWaitlist  bool      `json:"allow_waitlist" doc:"Queue attendees once the event is full"`
		OrganizerName  string    `json:"organizer_name"`
		OrganizerEmail string    `json:"organizer_email"`
	}
}

type CreateEventResponse struct {
	Body EventResponse
}

// HandleCreate creates an event with registration closed; it starts accepting
// RSVPs only after an explicit open call.
func (h *EventHandler) HandleCreate(ctx context.Context, input *CreateEventRequest) (*CreateEventResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput); err != nil {
		return nil, err
	}

	if !input.Body.StartsAt.IsZero() && !input.Body.EndsAt.IsZero() && input.Body.StartsAt.After(input.Body.EndsAt) {
		return nil, huma.Error400BadRequest("Event cannot end before it starts")
	}

	event := models.Event{
		Title:            input.Body.Title,
		Description:      input.Body.Description,
		Location:         input.Body.Location,
		StartsAt:         input.Body.StartsAt,
		EndsAt:           input.Body.EndsAt,
		Capacity:         input.Body.Capacity,
		AllowWaitlist:    input.Body.AllowWaitlist,
		RegistrationOpen: false,
		OrganizerName:    input.Body.OrganizerName,
		OrganizerEmail:   input.Body.OrganizerEmail,
	}

	if err := h.db.Create(&event).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to create event: " + err.Error())
	}

	return &CreateEventResponse{Body: toEventResponse(&event)}, nil
}

type ListEventsRequest struct{}

type ListEventsResponse struct {
	Body []EventResponse
}

func (h *EventHandler) HandleList(ctx context.Context, input *ListEventsRequest) (*ListEventsResponse, error) {
	var events []models.Event
	if err := h.db.Order("starts_at ASC").Find(&events).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to list events")
	}

	res := &ListEventsResponse{Body: make([]EventResponse, 0, len(events))}
	for i := range events {
		res.Body = append(res.Body, toEventResponse(&events[i]))
	}
	return res, nil
}

type GetEventRequest struct {
	ID uint `path:"id"`
}

type GetEventResponse struct {
	Body EventResponse
}

func (h *EventHandler) HandleGet(ctx context.Context, input *GetEventRequest) (*GetEventResponse, error) {
	var event models.Event
	if err := h.db.First(&event, input.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("Event not found")
		}
		return nil, huma.Error500InternalServerError("Failed to load event")
	}
	return &GetEventResponse{Body: toEventResponse(&event)}, nil
}

type GetSlotsRequest struct {
	ID uint `path:"id"`
}

type GetSlotsResponse struct {
	Body struct {
		Capacity         int  `json:"capacity"`
		ConfirmedCount   int  `json:"confirmed_count"`
		WaitlistCount    int  `json:"waitlist_count"`
		AvailableSlots   int  `json:"available_slots"`
		AllowWaitlist    bool `json:"allow_waitlist"`
		RegistrationOpen bool `json:"registration_open"`
	}
}

func (h *EventHandler) HandleSlots(ctx context.Context, input *GetSlotsRequest) (*GetSlotsResponse, error) {
	var event models.Event
	if err := h.db.First(&event, input.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("Event not found")
		}
		return nil, huma.Error500InternalServerError("Failed to load event")
	}

	res := &GetSlotsResponse{}
	res.Body.Capacity = event.Capacity
	res.Body.ConfirmedCount = event.ConfirmedCount
	res.Body.WaitlistCount = event.WaitlistCount
	res.Body.AvailableSlots = event.AvailableSlots()
	res.Body.AllowWaitlist = event.AllowWaitlist
	res.Body.RegistrationOpen = event.RegistrationOpen
	return res, nil
}

type SetRegistrationOpenRequest struct {
	auth.AuthInput
	ID uint `path:"id"`
}

type SetRegistrationOpenResponse struct {
	Body EventResponse
}

func (h *EventHandler) HandleOpenRegistration(ctx context.Context, input *SetRegistrationOpenRequest) (*SetRegistrationOpenResponse, error) {
	return h.setRegistrationOpen(ctx, input, true)
}

func (h *EventHandler) HandleCloseRegistration(ctx context.Context, input *SetRegistrationOpenRequest) (*SetRegistrationOpenResponse, error) {
	return h.setRegistrationOpen(ctx, input, false)
}

func (h *EventHandler) setRegistrationOpen(ctx context.Context, input *SetRegistrationOpenRequest, open bool) (*SetRegistrationOpenResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput); err != nil {
		return nil, err
	}

	var event models.Event
	if err := h.db.First(&event, input.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, huma.Error404NotFound("Event not found")
		}
		return nil, huma.Error500InternalServerError("Failed to load event")
	}

	if err := h.db.Model(&event).Update("registration_open", open).Error; err != nil {
		return nil, huma.Error500InternalServerError("Failed to update event")
	}
	event.RegistrationOpen = open

	return &SetRegistrationOpenResponse{Body: toEventResponse(&event)}, nil
}
