package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/communityos/event-rsvp-api/internal/auth"
	"github.com/communityos/event-rsvp-api/internal/models"
	"github.com/communityos/event-rsvp-api/internal/rsvp"
	"github.com/danielgtaylor/huma/v2"
	"github.com/patrickmn/go-cache"
)

const statsCacheKey = "rsvp-statistics"

type RSVPHandler struct {
	service     *rsvp.Service
	authHandler *auth.AuthHandler
	statsCache  *cache.Cache
}

func NewRSVPHandler(service *rsvp.Service, authHandler *auth.AuthHandler, statsTTL time.Duration) *RSVPHandler {
	if statsTTL <= 0 {
		statsTTL = 30 * time.Second
	}
	return &RSVPHandler{
		service:     service,
		authHandler: authHandler,
		statsCache:  cache.New(statsTTL, 2*statsTTL),
	}
}

type RegistrationResponse struct {
	ID                 uint                      `json:"id"`
	EventID            uint                      `json:"event_id"`
	AttendeeName       string                    `json:"attendee_name"`
	AttendeeEmail      string                    `json:"attendee_email"`
	Status             models.RegistrationStatus `json:"status"`
	WaitlistRank       *int                      `json:"waitlist_rank,omitempty"`
	TicketCode         string                    `json:"ticket_code"`
	ConfirmedAt        *time.Time                `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time                `json:"cancelled_at,omitempty"`
	CheckedInAt        *time.Time                `json:"checked_in_at,omitempty"`
	CancellationReason string                    `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
}

func toRegistrationResponse(r *models.Registration) RegistrationResponse {
	return RegistrationResponse{
		ID:                 r.ID,
		EventID:            r.EventID,
		AttendeeName:       r.AttendeeName,
		AttendeeEmail:      r.AttendeeEmail,
		Status:             r.Status,
		WaitlistRank:       r.WaitlistRank,
		TicketCode:         r.TicketCode,
		ConfirmedAt:        r.ConfirmedAt,
		CancelledAt:        r.CancelledAt,
		CheckedInAt:        r.CheckedInAt,
		CancellationReason: r.CancellationReason,
		CreatedAt:          r.CreatedAt,
	}
}

// mapServiceError translates the rsvp package's typed failures into precise
// HTTP responses; business conditions never surface as a generic 500.
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, rsvp.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, rsvp.ErrDuplicateRegistration):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, rsvp.ErrRegistrationClosed):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, rsvp.ErrCapacityExceeded):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, rsvp.ErrInvalidTransition):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, rsvp.ErrBusy):
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error500InternalServerError("Failed to process registration: " + err.Error())
	}
}

type SubmitRequest struct {
	EventID uint `path:"eventId"`
	Body    struct {
		AttendeeName        string `json:"attendee_name" doc:"Full name of the attendee" required:"true"`
		AttendeeEmail       string `json:"attendee_email" doc:"Attendee email, unique per event" format:"email" required:"true"`
		AttendeePhone       string `json:"attendee_phone" doc:"Contact phone number"`
		Organization        string `json:"organization" doc:"Attendee organization"`
		DietaryRestrictions string `json:"dietary_restrictions" doc:"Dietary restrictions or allergies"`
		Notes               string `json:"notes" doc:"Anything the organizers should know"`
	}
}

type SubmitResponse struct {
	Body RegistrationResponse
}

// HandleSubmit registers an attendee; they come back CONFIRMED or WAITLISTED
// depending on remaining capacity.
func (h *RSVPHandler) HandleSubmit(ctx context.Context, input *SubmitRequest) (*SubmitResponse, error) {
	reg, err := h.service.Submit(ctx, input.EventID, rsvp.SubmitRequest{
		AttendeeName:        input.Body.AttendeeName,
		AttendeeEmail:       input.Body.AttendeeEmail,
		AttendeePhone:       input.Body.AttendeePhone,
		Organization:        input.Body.Organization,
		DietaryRestrictions: input.Body.DietaryRestrictions,
		Notes:               input.Body.Notes,
		Source:              models.SourceWeb,
	})
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &SubmitResponse{Body: toRegistrationResponse(reg)}, nil
}

type CancelRequest struct {
	ID   uint `path:"id"`
	Body struct {
		Reason string `json:"reason,omitempty" doc:"Why the registration is being cancelled"`
	}
}

type CancelResponse struct {
	Body RegistrationResponse
}

func (h *RSVPHandler) HandleCancel(ctx context.Context, input *CancelRequest) (*CancelResponse, error) {
	reg, err := h.service.Cancel(ctx, input.ID, input.Body.Reason)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &CancelResponse{Body: toRegistrationResponse(reg)}, nil
}

type CheckInRequest struct {
	auth.AuthInput
	ID uint `path:"id"`
}

type CheckInResponse struct {
	Body RegistrationResponse
}

func (h *RSVPHandler) HandleCheckIn(ctx context.Context, input *CheckInRequest) (*CheckInResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput); err != nil {
		return nil, err
	}
	reg, err := h.service.CheckIn(ctx, input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &CheckInResponse{Body: toRegistrationResponse(reg)}, nil
}

type NoShowRequest struct {
	auth.AuthInput
	ID uint `path:"id"`
}

type NoShowResponse struct {
	Body RegistrationResponse
}

func (h *RSVPHandler) HandleNoShow(ctx context.Context, input *NoShowRequest) (*NoShowResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput); err != nil {
		return nil, err
	}
	reg, err := h.service.MarkNoShow(ctx, input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &NoShowResponse{Body: toRegistrationResponse(reg)}, nil
}

type SetStatusRequest struct {
	auth.AuthInput
	ID   uint `path:"id"`
	Body struct {
		Status models.RegistrationStatus `json:"status" doc:"Target status" enum:"confirmed,waitlisted,cancelled,attended,no_show" required:"true"`
		Reason string                    `json:"reason,omitempty" doc:"Reason recorded in the audit trail"`
	}
}

type SetStatusResponse struct {
	Body RegistrationResponse
}

func (h *RSVPHandler) HandleSetStatus(ctx context.Context, input *SetStatusRequest) (*SetStatusResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput); err != nil {
		return nil, err
	}
	reg, err := h.service.SetStatus(ctx, input.ID, input.Body.Status, input.Body.Reason)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &SetStatusResponse{Body: toRegistrationResponse(reg)}, nil
}

type GetRegistrationRequest struct {
	ID uint `path:"id"`
}

type GetRegistrationResponse struct {
	Body RegistrationResponse
}

func (h *RSVPHandler) HandleGet(ctx context.Context, input *GetRegistrationRequest) (*GetRegistrationResponse, error) {
	reg, err := h.service.Get(ctx, input.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &GetRegistrationResponse{Body: toRegistrationResponse(reg)}, nil
}

type ListByEventRequest struct {
	auth.AuthInput
	EventID uint `path:"eventId"`
}

type ListByEventResponse struct {
	Body []RegistrationResponse
}

func (h *RSVPHandler) HandleListByEvent(ctx context.Context, input *ListByEventRequest) (*ListByEventResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput); err != nil {
		return nil, err
	}
	regs, err := h.service.ListByEvent(ctx, input.EventID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	res := &ListByEventResponse{Body: make([]RegistrationResponse, 0, len(regs))}
	for i := range regs {
		res.Body = append(res.Body, toRegistrationResponse(&regs[i]))
	}
	return res, nil
}

type ListByAttendeeRequest struct {
	auth.AuthInput
	Email string `query:"email" doc:"Attendee email to look up" required:"true"`
}

type ListByAttendeeResponse struct {
	Body []RegistrationResponse
}

// HandleListByAttendee returns one attendee's registrations across all
// events, newest first.
func (h *RSVPHandler) HandleListByAttendee(ctx context.Context, input *ListByAttendeeRequest) (*ListByAttendeeResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput); err != nil {
		return nil, err
	}
	regs, err := h.service.ListByAttendee(ctx, input.Email)
	if err != nil {
		return nil, mapServiceError(err)
	}
	res := &ListByAttendeeResponse{Body: make([]RegistrationResponse, 0, len(regs))}
	for i := range regs {
		res.Body = append(res.Body, toRegistrationResponse(&regs[i]))
	}
	return res, nil
}

type WaitlistRequest struct {
	auth.AuthInput
	EventID uint `path:"eventId"`
}

type WaitlistResponse struct {
	Body []RegistrationResponse
}

// HandleWaitlist returns the queue in promotion order, ascending by rank.
func (h *RSVPHandler) HandleWaitlist(ctx context.Context, input *WaitlistRequest) (*WaitlistResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput); err != nil {
		return nil, err
	}
	regs, err := h.service.GetWaitlist(ctx, input.EventID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	res := &WaitlistResponse{Body: make([]RegistrationResponse, 0, len(regs))}
	for i := range regs {
		res.Body = append(res.Body, toRegistrationResponse(&regs[i]))
	}
	return res, nil
}

type StatisticsRequest struct {
	auth.AuthInput
}

type StatisticsResponse struct {
	Body rsvp.Statistics
}

// HandleStatistics serves aggregate counts with a short-TTL cache; the
// numbers are advisory and do not need to be read-your-writes fresh.
func (h *RSVPHandler) HandleStatistics(ctx context.Context, input *StatisticsRequest) (*StatisticsResponse, error) {
	if _, err := h.authHandler.Authorize(ctx, input.AuthInput); err != nil {
		return nil, err
	}

	if cached, found := h.statsCache.Get(statsCacheKey); found {
		return &StatisticsResponse{Body: *cached.(*rsvp.Statistics)}, nil
	}

	stats, err := h.service.GetStatistics(ctx)
	if err != nil {
		return nil, mapServiceError(err)
	}
	h.statsCache.Set(statsCacheKey, stats, cache.DefaultExpiration)

	return &StatisticsResponse{Body: *stats}, nil
}
