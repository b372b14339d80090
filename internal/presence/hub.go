package presence

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Hub runs the relay's single event loop. Every registry mutation (client
// registration, inbound frames, disconnects, notification pushes) flows
// through Run's select, so the Tracker needs no locking and events from one
// connection reach peers in the order the loop processed them. No ordering
// holds across different connections.
type Hub struct {
	tracker *Tracker
	logger  *zap.Logger

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	notify     chan userNotification
	stopped    chan struct{}

	clients map[string]*Client
}

type inboundFrame struct {
	client *Client
	event  ClientEvent
}

type userNotification struct {
	userID string
	event  NotificationEvent
}

// NewHub wires a hub around an injected tracker.
func NewHub(tracker *Tracker, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		tracker:    tracker,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 64),
		notify:     make(chan userNotification, 64),
		stopped:    make(chan struct{}),
		clients:    make(map[string]*Client),
	}
}

// Run consumes hub events until the context is cancelled. Call it on its own
// goroutine; it is the only goroutine allowed to touch the tracker. Pump
// goroutines still draining after Run returns observe the stopped channel
// instead of blocking on the loop's unbuffered channels.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.stopped)
			for _, client := range h.clients {
				client.shutdown()
			}
			return
		case client := <-h.register:
			h.clients[client.connID] = client
			h.logger.Debug("client registered",
				zap.String("conn_id", client.connID),
				zap.String("user_id", client.userID))
		case client := <-h.unregister:
			if _, ok := h.clients[client.connID]; !ok {
				continue
			}
			delete(h.clients, client.connID)
			h.deliver(h.tracker.Disconnect(client.connID))
			client.shutdown()
			h.logger.Debug("client unregistered",
				zap.String("conn_id", client.connID),
				zap.String("user_id", client.userID))
		case frame := <-h.inbound:
			h.handle(frame.client, frame.event)
		case notification := <-h.notify:
			for _, connID := range h.tracker.ConnectionsFor(notification.userID) {
				h.deliver([]Delivery{{ConnID: connID, Event: notification.event}})
			}
		}
	}
}

// PushNotification queues a notification event for every live connection the
// user holds. Best-effort: dropped when the hub is saturated or stopped.
func (h *Hub) PushNotification(userID string, event NotificationEvent) {
	select {
	case h.notify <- userNotification{userID: userID, event: event}:
	default:
	}
}

// handle applies one validated client event to the registry. The type switch
// is exhaustive over the ClientEvent variants; DecodeClientFrame guarantees
// nothing else arrives.
func (h *Hub) handle(client *Client, event ClientEvent) {
	switch ev := event.(type) {
	case JoinEvent:
		snapshot, deliveries := h.tracker.Join(
			ev.WorkspaceID, client.connID, client.userID, client.displayName, ev.AvatarURL)
		client.send(RoomStateEvent{Snapshot: snapshot})
		h.deliver(deliveries)
	case LeaveEvent:
		h.deliver(h.tracker.Leave(ev.WorkspaceID, client.connID))
	case StatusUpdateEvent:
		h.deliver(h.tracker.UpdateStatus(client.connID, ev.Status))
	case CursorUpdateEvent:
		h.deliver(h.tracker.UpdateCursor(client.connID, ev.X, ev.Y))
	case BeginEditEvent:
		h.deliver(h.tracker.BeginEdit(client.connID, ev.ItemID))
	case EndEditEvent:
		h.deliver(h.tracker.EndEdit(client.connID, ev.ItemID))
	case ContentChangeEvent:
		kind, err := ParseContentKind(ev.ChangeKind)
		if err != nil {
			client.send(ErrorEvent{Code: "invalid_change_kind", Message: err.Error()})
			return
		}
		h.deliver(h.tracker.RelayContentChange(client.connID, ev.ItemID, json.RawMessage(ev.Payload), kind))
	}
}

func (h *Hub) deliver(deliveries []Delivery) {
	for _, delivery := range deliveries {
		client, ok := h.clients[delivery.ConnID]
		if !ok {
			continue
		}
		client.send(delivery.Event)
	}
}
