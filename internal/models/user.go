package models

import (
	"gorm.io/gorm"
)

// User is a staff member (organizer or door crew) signed in via Discord.
// Attendees are not users; they are identified by email on the registration.
type User struct {
	gorm.Model
	DiscordID string `gorm:"uniqueIndex"`
	Username  string
	Email     string
	Avatar    string
}
