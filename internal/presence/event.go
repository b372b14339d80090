package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContentKind tags which part of an item a content change touches.
type ContentKind string

const (
	ContentKindTitle       ContentKind = "title"
	ContentKindDescription ContentKind = "description"
	ContentKindContent     ContentKind = "content"
	ContentKindStatus      ContentKind = "status"
	ContentKindPosition    ContentKind = "position"
)

// ErrInvalidContentKind indicates a change kind outside the known enumeration.
var ErrInvalidContentKind = errors.New("presence: invalid content change kind")

// ParseContentKind validates raw input against the change-kind enumeration.
func ParseContentKind(raw string) (ContentKind, error) {
	switch ContentKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ContentKindTitle:
		return ContentKindTitle, nil
	case ContentKindDescription:
		return ContentKindDescription, nil
	case ContentKindContent:
		return ContentKindContent, nil
	case ContentKindStatus:
		return ContentKindStatus, nil
	case ContentKindPosition:
		return ContentKindPosition, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidContentKind, raw)
	}
}

// Event is the sealed set of relay-to-client messages. Each variant carries
// exactly the payload its wire frame serializes; Kind doubles as the frame
// type name.
type Event interface {
	Kind() string
}

// RoomStateEvent returns the full room snapshot to a joining connection.
type RoomStateEvent struct {
	Snapshot RoomSnapshot `json:"snapshot"`
}

// PeerJoinedEvent announces a new session to existing room members.
type PeerJoinedEvent struct {
	Session Session `json:"session"`
}

// PeerLeftEvent announces a departed session to remaining room members.
type PeerLeftEvent struct {
	ConnID      string `json:"conn_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// StatusChangedEvent announces a peer's presence status transition.
type StatusChangedEvent struct {
	ConnID   string    `json:"conn_id"`
	UserID   string    `json:"user_id"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

// CursorChangedEvent announces a peer's cursor movement.
type CursorChangedEvent struct {
	ConnID      string `json:"conn_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Cursor      Cursor `json:"cursor"`
}

// EditBeganEvent announces a new editing claim on an item.
type EditBeganEvent struct {
	ItemID      string `json:"item_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// EditEndedEvent announces a released editing claim, whether released
// explicitly or as part of disconnect cleanup.
type EditEndedEvent struct {
	ItemID      string `json:"item_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// ContentChangedEvent relays an item edit verbatim to peers. The payload is
// opaque to the relay: no transformation, ordering across connections, or
// reconciliation is applied, and delivery is at-most-once.
type ContentChangedEvent struct {
	ItemID      string          `json:"item_id"`
	Payload     json.RawMessage `json:"payload"`
	ChangeKind  ContentKind     `json:"change_kind"`
	UserID      string          `json:"user_id"`
	DisplayName string          `json:"display_name"`
}

// NotificationEvent pushes an application notification to a user's
// connections through the same frame stream.
type NotificationEvent struct {
	NotificationID string          `json:"notification_id"`
	Type           string          `json:"type"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// ErrorEvent reports a rejected inbound frame to its sender.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (RoomStateEvent) Kind() string      { return "roomState" }
func (PeerJoinedEvent) Kind() string     { return "peerJoined" }
func (PeerLeftEvent) Kind() string       { return "peerLeft" }
func (StatusChangedEvent) Kind() string  { return "statusChanged" }
func (CursorChangedEvent) Kind() string  { return "cursorChanged" }
func (EditBeganEvent) Kind() string      { return "editBegan" }
func (EditEndedEvent) Kind() string      { return "editEnded" }
func (ContentChangedEvent) Kind() string { return "contentChanged" }
func (NotificationEvent) Kind() string   { return "notification" }
func (ErrorEvent) Kind() string          { return "error" }

// Delivery addresses one event to one connection.
type Delivery struct {
	ConnID string
	Event  Event
}
