package users

import (
	"strings"
	"time"
)

// Identity is one registered Spark account.
type Identity struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName  string    `gorm:"column:display_name;size:320;not null"`
	AvatarURL    string    `gorm:"column:avatar_url;size:512"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Profile is the public slice of an identity, safe to hand to peers.
type Profile struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (i Identity) profile() Profile {
	return Profile{
		UserID:      i.UserID,
		Email:       i.Email,
		DisplayName: i.DisplayName,
		AvatarURL:   i.AvatarURL,
	}
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
