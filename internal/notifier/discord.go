package notifier

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/communityos/event-rsvp-api/internal/models"
)

type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscordNotifier(session *discordgo.Session, channelID string) *DiscordNotifier {
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
	}
}

func (n *DiscordNotifier) NotifyRSVP(registration models.Registration, event models.Event, kind Kind) error {
	if n.session == nil {
		return fmt.Errorf("discord session is nil")
	}
	if n.channelID == "" {
		return fmt.Errorf("discord channel ID is empty")
	}

	var status string
	switch kind {
	case KindConfirmed:
		status = "confirmed ✅"
	case KindWaitlisted:
		status = fmt.Sprintf("waitlisted 📝 (position %s)", rankString(registration.WaitlistRank))
	case KindPromoted:
		status = "promoted from the waitlist 🎉"
	case KindCheckedIn:
		status = "checked in 🎟️"
	case KindCancelled:
		status = "cancelled 😢"
	default:
		status = string(kind)
	}

	message := fmt.Sprintf("**RSVP Update — %s**\n**Attendee:** %s (%s)\n**Status:** %s\n**Seats:** %d/%d confirmed, %d waitlisted",
		event.Title,
		registration.AttendeeName,
		registration.AttendeeEmail,
		status,
		event.ConfirmedCount,
		event.Capacity,
		event.WaitlistCount,
	)

	_, err := n.session.ChannelMessageSend(n.channelID, message)
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}

	return nil
}

func rankString(rank *int) string {
	if rank == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *rank)
}
