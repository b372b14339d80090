package presence

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxFrameSize   = 32 * 1024
	sendBufferSize = 64
)

var errHubStopped = errors.New("presence: hub stopped")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one WebSocket connection attached to the hub. The read pump
// decodes and validates inbound frames before they reach the hub loop; the
// write pump drains the buffered outbound channel with ping keepalive.
// Outbound frames to a slow consumer are dropped rather than blocking the
// hub.
type Client struct {
	connID      string
	userID      string
	displayName string

	hub      *Hub
	conn     *websocket.Conn
	outbound chan []byte
	mu       sync.Mutex
	closed   bool
	logger   *zap.Logger
}

// ServeWS upgrades an authenticated HTTP request and attaches the resulting
// connection to the hub. Identity comes from the caller, not the wire.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, userID, displayName string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		connID:      uuid.NewString(),
		userID:      userID,
		displayName: displayName,
		hub:         hub,
		conn:        conn,
		outbound:    make(chan []byte, sendBufferSize),
		logger:      hub.logger,
	}

	select {
	case hub.register <- client:
	case <-hub.stopped:
		conn.Close()
		return errHubStopped
	}
	go client.writePump()
	go client.readPump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed",
					zap.String("conn_id", c.connID), zap.Error(err))
			}
			return
		}

		event, err := DecodeClientFrame(raw)
		if err != nil {
			c.reject(err)
			continue
		}
		select {
		case c.hub.inbound <- inboundFrame{client: c, event: event}:
		case <-c.hub.stopped:
			return
		}
	}
}

// detach hands the connection back to the hub loop, or gives up once the
// loop has stopped so late read errors cannot strand this goroutine.
func (c *Client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.stopped:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send encodes and queues an event for this connection. A full buffer drops
// the frame: presence traffic is best-effort.
func (c *Client) send(event Event) {
	frame, err := EncodeEvent(event)
	if err != nil {
		c.logger.Warn("event encode failed",
			zap.String("conn_id", c.connID),
			zap.String("event", event.Kind()),
			zap.Error(err))
		return
	}
	c.enqueue(frame)
}

// shutdown closes the outbound stream, ending the write pump.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.outbound)
}

// reject reports a malformed inbound frame back to its sender.
func (c *Client) reject(cause error) {
	code := "malformed_frame"
	if errors.Is(cause, ErrUnknownFrameType) {
		code = "unknown_frame_type"
	}
	frame, err := EncodeEvent(ErrorEvent{Code: code, Message: cause.Error()})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.outbound <- frame:
	default:
	}
}
