package presence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the presence states a session may report.
type Status string

const (
	// StatusOnline marks a session with recent input activity.
	StatusOnline Status = "online"
	// StatusIdle marks a session past the idle threshold without input.
	StatusIdle Status = "idle"
	// StatusAway marks a session past the away threshold without input.
	StatusAway Status = "away"
)

// ErrInvalidStatus indicates a status value outside the known enumeration.
var ErrInvalidStatus = errors.New("presence: invalid status")

// ParseStatus validates raw input against the status enumeration.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusOnline:
		return StatusOnline, nil
	case StatusIdle:
		return StatusIdle, nil
	case StatusAway:
		return StatusAway, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// Cursor records the last reported pointer position of a session.
type Cursor struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session is one connection's identity and presence record within a room.
// A room holds at most one session per connection id; the same user may hold
// several sessions through separate connections.
type Session struct {
	ConnID      string    `json:"conn_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	WorkspaceID string    `json:"workspace_id"`
	Status      Status    `json:"status"`
	LastSeen    time.Time `json:"last_seen"`
	Cursor      *Cursor   `json:"cursor,omitempty"`
}

// Claim is an advisory marker that a connection is editing an item. Claims
// are non-exclusive: several connections may claim the same item at once.
type Claim struct {
	ItemID      string    `json:"item_id"`
	ConnID      string    `json:"conn_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	StartedAt   time.Time `json:"started_at"`
}

// RoomSnapshot is the full room state handed to a joining connection.
type RoomSnapshot struct {
	WorkspaceID string    `json:"workspace_id"`
	Sessions    []Session `json:"sessions"`
	Claims      []Claim   `json:"claims"`
}
