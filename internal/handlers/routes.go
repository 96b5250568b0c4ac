package handlers

import (
	"net/http"

	"github.com/communityos/event-rsvp-api/internal/auth"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func RegisterRoutes(r *chi.Mux, authHandler *auth.AuthHandler, eventHandler *EventHandler, rsvpHandler *RSVPHandler, apiKeyHandler *APIKeyHandler) {
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Initialize Huma API
	config := huma.DefaultConfig("Event RSVP API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"cookieAuth": {
			Type: "apiKey",
			In:   "cookie",
			Name: "auth_token",
		},
		"apiKeyAuth": {
			Type: "apiKey",
			In:   "header",
			Name: "X-API-KEY",
		},
	}
	api := humachi.New(r, config)

	staffOnly := func(o *huma.Operation) {
		o.Security = []map[string][]string{{"cookieAuth": {}}, {"apiKeyAuth": {}}}
	}

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Auth routes
	r.Get("/auth/discord/login", authHandler.HandleLogin)
	r.Get("/auth/discord/callback", authHandler.HandleCallback)
	huma.Get(api, "/me", authHandler.HandleMe, staffOnly)

	// Attendee-facing routes
	huma.Get(api, "/events", eventHandler.HandleList)
	huma.Get(api, "/events/{id}", eventHandler.HandleGet)
	huma.Get(api, "/events/{id}/slots", eventHandler.HandleSlots)
	huma.Post(api, "/events/{eventId}/rsvp", rsvpHandler.HandleSubmit)
	huma.Get(api, "/rsvps/{id}", rsvpHandler.HandleGet)
	huma.Post(api, "/rsvps/{id}/cancel", rsvpHandler.HandleCancel)

	// Staff routes
	r.Group(func(r chi.Router) {
		r.Use(authHandler.AuthMiddleware)
		huma.Post(api, "/events", eventHandler.HandleCreate, staffOnly)
		huma.Post(api, "/events/{id}/open", eventHandler.HandleOpenRegistration, staffOnly)
		huma.Post(api, "/events/{id}/close", eventHandler.HandleCloseRegistration, staffOnly)
		huma.Get(api, "/events/{eventId}/rsvps", rsvpHandler.HandleListByEvent, staffOnly)
		huma.Get(api, "/events/{eventId}/rsvps/waitlist", rsvpHandler.HandleWaitlist, staffOnly)
		huma.Post(api, "/rsvps/{id}/checkin", rsvpHandler.HandleCheckIn, staffOnly)
		huma.Post(api, "/rsvps/{id}/no-show", rsvpHandler.HandleNoShow, staffOnly)
		huma.Patch(api, "/rsvps/{id}", rsvpHandler.HandleSetStatus, staffOnly)
		huma.Get(api, "/rsvps/statistics", rsvpHandler.HandleStatistics, staffOnly)
		huma.Get(api, "/attendees/rsvps", rsvpHandler.HandleListByAttendee, staffOnly)
		huma.Post(api, "/api-keys", apiKeyHandler.HandleCreate, staffOnly)
		huma.Get(api, "/api-keys", apiKeyHandler.HandleList, staffOnly)
		huma.Delete(api, "/api-keys/{id}", apiKeyHandler.HandleDelete, staffOnly)
	})
}
