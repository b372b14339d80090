package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Frame is the JSON envelope carried on the wire in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

var (
	// ErrUnknownFrameType indicates a frame whose type is not part of the
	// client protocol.
	ErrUnknownFrameType = errors.New("presence: unknown frame type")
	// ErrMalformedFrame indicates a frame whose payload failed to decode or
	// validate.
	ErrMalformedFrame = errors.New("presence: malformed frame")
)

// ClientEvent is the sealed set of client-to-relay messages produced by
// DecodeClientFrame. The hub dispatches them through an exhaustive type
// switch, so adding a variant without a handler fails at review rather than
// silently at runtime.
type ClientEvent interface {
	clientEvent()
}

// JoinEvent announces the connection to a workspace room.
type JoinEvent struct {
	WorkspaceID string `json:"workspace_id"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// LeaveEvent withdraws the connection from a workspace room.
type LeaveEvent struct {
	WorkspaceID string `json:"workspace_id"`
}

// StatusUpdateEvent reports the connection's presence status.
type StatusUpdateEvent struct {
	Status Status `json:"status"`
}

// CursorUpdateEvent reports the connection's pointer position. The relay
// applies no debouncing; callers are expected to throttle.
type CursorUpdateEvent struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BeginEditEvent places an advisory editing claim on an item.
type BeginEditEvent struct {
	ItemID string `json:"item_id"`
}

// EndEditEvent releases an advisory editing claim on an item.
type EndEditEvent struct {
	ItemID string `json:"item_id"`
}

// ContentChangeEvent carries an opaque item edit for verbatim relay.
type ContentChangeEvent struct {
	ItemID     string          `json:"item_id"`
	Payload    json.RawMessage `json:"payload"`
	ChangeKind string          `json:"change_kind"`
}

func (JoinEvent) clientEvent()          {}
func (LeaveEvent) clientEvent()         {}
func (StatusUpdateEvent) clientEvent()  {}
func (CursorUpdateEvent) clientEvent()  {}
func (BeginEditEvent) clientEvent()     {}
func (EndEditEvent) clientEvent()       {}
func (ContentChangeEvent) clientEvent() {}

// Client frame type names.
const (
	frameTypeJoin          = "join"
	frameTypeLeave         = "leave"
	frameTypeStatusUpdate  = "statusUpdate"
	frameTypeCursorUpdate  = "cursorUpdate"
	frameTypeBeginEdit     = "beginEdit"
	frameTypeEndEdit       = "endEdit"
	frameTypeContentChange = "contentChange"
)

// DecodeClientFrame parses and validates a raw inbound frame. Unknown types,
// undecodable payloads, out-of-enumeration values, and empty identifiers are
// all rejected; nothing malformed reaches the registry or peers.
func DecodeClientFrame(raw []byte) (ClientEvent, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Type {
	case frameTypeJoin:
		var event JoinEvent
		if err := decodePayload(frame.Data, &event); err != nil {
			return nil, err
		}
		if strings.TrimSpace(event.WorkspaceID) == "" {
			return nil, fmt.Errorf("%w: join requires workspace_id", ErrMalformedFrame)
		}
		return event, nil
	case frameTypeLeave:
		var event LeaveEvent
		if err := decodePayload(frame.Data, &event); err != nil {
			return nil, err
		}
		if strings.TrimSpace(event.WorkspaceID) == "" {
			return nil, fmt.Errorf("%w: leave requires workspace_id", ErrMalformedFrame)
		}
		return event, nil
	case frameTypeStatusUpdate:
		var payload struct {
			Status string `json:"status"`
		}
		if err := decodePayload(frame.Data, &payload); err != nil {
			return nil, err
		}
		status, err := ParseStatus(payload.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return StatusUpdateEvent{Status: status}, nil
	case frameTypeCursorUpdate:
		var event CursorUpdateEvent
		if err := decodePayload(frame.Data, &event); err != nil {
			return nil, err
		}
		return event, nil
	case frameTypeBeginEdit:
		var event BeginEditEvent
		if err := decodePayload(frame.Data, &event); err != nil {
			return nil, err
		}
		if strings.TrimSpace(event.ItemID) == "" {
			return nil, fmt.Errorf("%w: beginEdit requires item_id", ErrMalformedFrame)
		}
		return event, nil
	case frameTypeEndEdit:
		var event EndEditEvent
		if err := decodePayload(frame.Data, &event); err != nil {
			return nil, err
		}
		if strings.TrimSpace(event.ItemID) == "" {
			return nil, fmt.Errorf("%w: endEdit requires item_id", ErrMalformedFrame)
		}
		return event, nil
	case frameTypeContentChange:
		var event ContentChangeEvent
		if err := decodePayload(frame.Data, &event); err != nil {
			return nil, err
		}
		if strings.TrimSpace(event.ItemID) == "" {
			return nil, fmt.Errorf("%w: contentChange requires item_id", ErrMalformedFrame)
		}
		if _, err := ParseContentKind(event.ChangeKind); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return event, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, frame.Type)
	}
}

func decodePayload(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformedFrame)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// EncodeEvent serializes a relay-to-client event into its wire frame.
func EncodeEvent(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: event.Kind(), Data: data})
}

// EncodeClientEvent serializes a client-to-relay event into its wire frame.
// Used by the Go client; the server only decodes these.
func EncodeClientEvent(event ClientEvent) ([]byte, error) {
	frameType, err := clientFrameType(event)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: frameType, Data: data})
}

func clientFrameType(event ClientEvent) (string, error) {
	switch event.(type) {
	case JoinEvent:
		return frameTypeJoin, nil
	case LeaveEvent:
		return frameTypeLeave, nil
	case StatusUpdateEvent:
		return frameTypeStatusUpdate, nil
	case CursorUpdateEvent:
		return frameTypeCursorUpdate, nil
	case BeginEditEvent:
		return frameTypeBeginEdit, nil
	case EndEditEvent:
		return frameTypeEndEdit, nil
	case ContentChangeEvent:
		return frameTypeContentChange, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownFrameType, event)
	}
}
