package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/communityos/event-rsvp-api/internal/auth"
	"github.com/communityos/event-rsvp-api/internal/config"
	"github.com/communityos/event-rsvp-api/internal/database"
	"github.com/communityos/event-rsvp-api/internal/handlers"
	"github.com/communityos/event-rsvp-api/internal/notifier"
	"github.com/communityos/event-rsvp-api/internal/rsvp"
	"github.com/go-chi/chi/v5"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	// Connect to Database
	db := database.Connect(cfg)

	// Initialize Notifier
	var dispatcher *notifier.Dispatcher
	if cfg.DiscordBotToken != "" {
		session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
		if err != nil {
			log.Printf("Discord notifier not initialized: %v", err)
		} else {
			dispatcher = notifier.NewDispatcher(notifier.NewDiscordNotifier(session, cfg.DiscordNotificationsChannelID))
		}
	}

	// Initialize Services and Handlers
	rsvpService := rsvp.NewService(db, dispatcher, cfg.LockTimeout())

	authHandler := auth.NewAuthHandler(cfg, db)
	eventHandler := handlers.NewEventHandler(db, authHandler)
	rsvpHandler := handlers.NewRSVPHandler(rsvpService, authHandler, cfg.StatsCacheTTL())
	apiKeyHandler := handlers.NewAPIKeyHandler(db, authHandler)

	// Initialize Router
	r := chi.NewRouter()

	// Register Routes
	handlers.RegisterRoutes(r, authHandler, eventHandler, rsvpHandler, apiKeyHandler)

	// Start Server
	log.Printf("Starting server on port %s", cfg.Port)
	if err := http.ListenAndServe(fmt.Sprintf(":%s", cfg.Port), r); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
