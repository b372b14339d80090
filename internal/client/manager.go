// Package client implements the Go client for the Spark presence relay: a
// reconnecting WebSocket session with exponential backoff and local
// idle/away detection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MeshVSC/SparkV2/internal/presence"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State enumerates the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	// StateError is terminal: the retry budget is spent and only an explicit
	// Connect call leaves it.
	StateError State = "error"
)

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultMaxAttempts = 8
)

var (
	// ErrAlreadyRunning indicates Connect was called on a live session.
	ErrAlreadyRunning = errors.New("client: session already running")
	// ErrNotConnected indicates a send was attempted without a live transport.
	ErrNotConnected = errors.New("client: not connected")
)

// Conn is the slice of *websocket.Conn the manager needs; tests substitute
// in-memory fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens the relay transport. The default wraps
// websocket.DefaultDialer with the bearer token attached.
type DialFunc func(ctx context.Context) (Conn, error)

// Config configures a Manager.
type Config struct {
	URL         string
	Token       string
	BackoffBase time.Duration
	MaxAttempts int
	Dial        DialFunc
	OnState     func(State)
	OnFrame     func(presence.Frame)
	Logger      *zap.Logger
}

// Manager owns the client-side connection lifecycle: connect, read, detect
// drops, retry with exponential backoff, and replay the workspace join after
// a successful reconnect. A server-initiated close is honored and never
// fought with retries.
type Manager struct {
	cfg  Config
	dial DialFunc

	mu        sync.Mutex
	state     State
	conn      Conn
	workspace string
	avatarURL string
	cancel    context.CancelFunc
	done      chan struct{}

	logger *zap.Logger
}

// NewManager constructs a manager in the disconnected state.
func NewManager(cfg Config) *Manager {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &Manager{
		cfg:    cfg,
		state:  StateDisconnected,
		logger: logger,
	}
	manager.dial = cfg.Dial
	if manager.dial == nil {
		manager.dial = manager.dialWebsocket
	}
	return manager
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts the session. It returns once the first dial has resolved;
// retries after later drops run in the background. Callable again after the
// session ends, including from the terminal error state.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.setState(StateConnecting)
	conn, err := m.dial(sessionCtx)
	if err != nil {
		cancel()
		close(done)
		m.clearSession()
		m.setState(StateDisconnected)
		return err
	}
	m.attach(conn)
	go m.run(sessionCtx, done)
	return nil
}

// Close ends the session and leaves the manager disconnected.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	done := m.done
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}
	m.clearSession()
	m.setState(StateDisconnected)
}

// Join announces the workspace and remembers it for automatic replay after
// reconnects.
func (m *Manager) Join(workspaceID, avatarURL string) error {
	m.mu.Lock()
	m.workspace = workspaceID
	m.avatarURL = avatarURL
	m.mu.Unlock()
	return m.Send(presence.JoinEvent{WorkspaceID: workspaceID, AvatarURL: avatarURL})
}

// Send writes one client event to the relay.
func (m *Manager) Send(event presence.ClientEvent) error {
	m.mu.Lock()
	conn := m.conn
	state := m.state
	m.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}
	frame, err := presence.EncodeClientEvent(event)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// run reads frames until the transport drops, then drives the retry state
// machine.
func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := m.readLoop(ctx)
		if ctx.Err() != nil {
			m.clearSession()
			return
		}
		if isServerClose(err) {
			// The server chose to drop us; retrying would fight it.
			m.logger.Info("server closed connection", zap.Error(err))
			m.clearSession()
			m.setState(StateDisconnected)
			return
		}

		m.setState(StateReconnecting)
		conn, reconnectErr := m.reconnect(ctx)
		if reconnectErr != nil {
			m.clearSession()
			if ctx.Err() != nil {
				return
			}
			m.setState(StateError)
			return
		}
		m.attach(conn)
		m.rejoin()
	}
}

func (m *Manager) readLoop(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if m.cfg.OnFrame == nil {
			continue
		}
		var frame presence.Frame
		if unmarshalErr := json.Unmarshal(raw, &frame); unmarshalErr != nil {
			m.logger.Debug("discarding undecodable frame", zap.Error(unmarshalErr))
			continue
		}
		m.cfg.OnFrame(frame)
	}
}

// reconnect retries the dial with exponentially growing delays. The delay
// doubles on every attempt; after MaxAttempts failures the caller moves to
// the terminal error state.
func (m *Manager) reconnect(ctx context.Context) (Conn, error) {
	schedule := newBackoff(m.cfg.BackoffBase)
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		delay := schedule.NextBackOff()
		m.logger.Debug("scheduling reconnect",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		conn, err := m.dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNotConnected
	}
	return nil, lastErr
}

func (m *Manager) rejoin() {
	m.mu.Lock()
	workspace := m.workspace
	avatarURL := m.avatarURL
	m.mu.Unlock()
	if workspace == "" {
		return
	}
	if err := m.Send(presence.JoinEvent{WorkspaceID: workspace, AvatarURL: avatarURL}); err != nil {
		m.logger.Warn("workspace rejoin failed", zap.Error(err))
	}
}

func (m *Manager) attach(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.setState(StateConnected)
}

func (m *Manager) clearSession() {
	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.cancel = nil
	m.mu.Unlock()
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.mu.Unlock()
	if changed && m.cfg.OnState != nil {
		m.cfg.OnState(state)
	}
}

func (m *Manager) dialWebsocket(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, m.cfg.URL, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// newBackoff builds the retry schedule: base delay doubled per attempt, no
// jitter, no elapsed-time cap (the attempt count is the budget).
func newBackoff(base time.Duration) backoff.BackOff {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = base
	schedule.Multiplier = 2
	schedule.RandomizationFactor = 0
	schedule.MaxInterval = 5 * time.Minute
	schedule.MaxElapsedTime = 0
	schedule.Reset()
	return schedule
}

func isServerClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.ClosePolicyViolation:
			return true
		}
	}
	return false
}
