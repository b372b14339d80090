package presence

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Tracker is the room registry: every live room, session, and editing claim
// in this process. It holds no locks; all mutation happens on the hub's
// single Run loop, which serializes access. Construct one at startup and
// hand it to the hub; nothing here persists, so a process restart drops all
// rooms.
//
// Mutating methods return the deliveries the caller owes peers. The tracker
// itself never touches a transport, which keeps it testable in isolation.
type Tracker struct {
	rooms  map[string]*room
	byConn map[string]string
	clock  func() time.Time
	logger *zap.Logger
}

type room struct {
	workspaceID string
	sessions    map[string]*Session
	claims      map[claimKey]*Claim
}

type claimKey struct {
	itemID string
	connID string
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithClock injects the time source, for tests.
func WithClock(clock func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger attaches a logger for lifecycle events.
func WithLogger(logger *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker constructs an empty registry.
func NewTracker(opts ...TrackerOption) *Tracker {
	tracker := &Tracker{
		rooms:  make(map[string]*room),
		byConn: make(map[string]string),
		clock:  time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(tracker)
	}
	return tracker
}

// Join adds a session to a workspace room, creating the room on first join.
// The returned snapshot reflects the room including the new session; the
// deliveries announce the arrival to every other session, plus the departure
// events owed to the prior room when the connection switches rooms. Rejoining
// on the same connection replaces the prior session. Duplicate user ids are
// allowed: each tab is its own session.
func (t *Tracker) Join(workspaceID, connID, userID, displayName, avatarURL string) (RoomSnapshot, []Delivery) {
	var deliveries []Delivery
	if prior, ok := t.byConn[connID]; ok && prior != workspaceID {
		// A connection belongs to one room at a time.
		deliveries = t.Leave(prior, connID)
	}

	joined, ok := t.rooms[workspaceID]
	if !ok {
		joined = &room{
			workspaceID: workspaceID,
			sessions:    make(map[string]*Session),
			claims:      make(map[claimKey]*Claim),
		}
		t.rooms[workspaceID] = joined
		t.logger.Debug("room created", zap.String("workspace_id", workspaceID))
	}

	session := &Session{
		ConnID:      connID,
		UserID:      userID,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		WorkspaceID: workspaceID,
		Status:      StatusOnline,
		LastSeen:    t.clock().UTC(),
	}
	joined.sessions[connID] = session
	t.byConn[connID] = workspaceID

	deliveries = append(deliveries, t.fanOut(joined, connID, PeerJoinedEvent{Session: *session})...)
	return t.snapshot(joined), deliveries
}

// Leave removes the connection's session from the given room along with any
// claims it holds, announcing each removal. A missing room or session is a
// no-op: the advisory nature of this registry makes "absent" equivalent to
// "already resolved". An empty room is discarded.
func (t *Tracker) Leave(workspaceID, connID string) []Delivery {
	current, ok := t.rooms[workspaceID]
	if !ok {
		return nil
	}
	session, ok := current.sessions[connID]
	if !ok {
		return nil
	}

	deliveries := t.releaseClaims(current, connID)
	delete(current.sessions, connID)
	delete(t.byConn, connID)
	deliveries = append(deliveries, t.fanOut(current, connID, PeerLeftEvent{
		ConnID:      connID,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
	})...)

	if len(current.sessions) == 0 {
		delete(t.rooms, workspaceID)
		t.logger.Debug("room discarded", zap.String("workspace_id", workspaceID))
	}
	return deliveries
}

// Disconnect performs leave cleanup for a connection whose room is unknown
// to the caller, as on an abrupt transport drop.
func (t *Tracker) Disconnect(connID string) []Delivery {
	workspaceID, ok := t.byConn[connID]
	if !ok {
		return nil
	}
	return t.Leave(workspaceID, connID)
}

// UpdateStatus records the connection's presence status and last-seen time.
func (t *Tracker) UpdateStatus(connID string, status Status) []Delivery {
	current, session := t.lookup(connID)
	if session == nil {
		return nil
	}
	session.Status = status
	session.LastSeen = t.clock().UTC()
	return t.fanOut(current, connID, StatusChangedEvent{
		ConnID:   connID,
		UserID:   session.UserID,
		Status:   status,
		LastSeen: session.LastSeen,
	})
}

// UpdateCursor overwrites the connection's cursor position. No debouncing is
// applied here; throttling is the sender's job.
func (t *Tracker) UpdateCursor(connID string, x, y float64) []Delivery {
	current, session := t.lookup(connID)
	if session == nil {
		return nil
	}
	now := t.clock().UTC()
	session.Cursor = &Cursor{X: x, Y: y, UpdatedAt: now}
	session.LastSeen = now
	return t.fanOut(current, connID, CursorChangedEvent{
		ConnID:      connID,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		Cursor:      *session.Cursor,
	})
}

// BeginEdit places an advisory claim on an item. Claims never exclude each
// other; observers see the full claimant list.
func (t *Tracker) BeginEdit(connID, itemID string) []Delivery {
	current, session := t.lookup(connID)
	if session == nil {
		return nil
	}
	current.claims[claimKey{itemID: itemID, connID: connID}] = &Claim{
		ItemID:      itemID,
		ConnID:      connID,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		StartedAt:   t.clock().UTC(),
	}
	return t.fanOut(current, connID, EditBeganEvent{
		ItemID:      itemID,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
	})
}

// EndEdit releases the connection's claim on an item. Ending a claim that
// was never begun is a no-op.
func (t *Tracker) EndEdit(connID, itemID string) []Delivery {
	current, session := t.lookup(connID)
	if session == nil {
		return nil
	}
	key := claimKey{itemID: itemID, connID: connID}
	if _, held := current.claims[key]; !held {
		return nil
	}
	delete(current.claims, key)
	return t.fanOut(current, connID, EditEndedEvent{
		ItemID:      itemID,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
	})
}

// RelayContentChange forwards an item edit verbatim to every peer in the
// room. The payload is opaque: no validation beyond frame decoding, no
// merge, no cross-connection ordering, at-most-once delivery. Peers that
// apply changes out of order diverge until the next full content reload;
// that is a documented property of this relay, not a defect to repair here.
func (t *Tracker) RelayContentChange(connID, itemID string, payload json.RawMessage, kind ContentKind) []Delivery {
	current, session := t.lookup(connID)
	if session == nil {
		return nil
	}
	return t.fanOut(current, connID, ContentChangedEvent{
		ItemID:      itemID,
		Payload:     payload,
		ChangeKind:  kind,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
	})
}

// RoomFor reports the workspace a connection currently occupies.
func (t *Tracker) RoomFor(connID string) (string, bool) {
	workspaceID, ok := t.byConn[connID]
	return workspaceID, ok
}

// SessionCount reports the number of live sessions in a room; zero when the
// room does not exist.
func (t *Tracker) SessionCount(workspaceID string) int {
	current, ok := t.rooms[workspaceID]
	if !ok {
		return 0
	}
	return len(current.sessions)
}

// ConnectionsFor lists connection ids held by a user across all rooms, for
// targeted notification delivery.
func (t *Tracker) ConnectionsFor(userID string) []string {
	var conns []string
	for _, current := range t.rooms {
		for connID, session := range current.sessions {
			if session.UserID == userID {
				conns = append(conns, connID)
			}
		}
	}
	return conns
}

func (t *Tracker) lookup(connID string) (*room, *Session) {
	workspaceID, ok := t.byConn[connID]
	if !ok {
		return nil, nil
	}
	current, ok := t.rooms[workspaceID]
	if !ok {
		return nil, nil
	}
	return current, current.sessions[connID]
}

func (t *Tracker) releaseClaims(current *room, connID string) []Delivery {
	session := current.sessions[connID]
	var deliveries []Delivery
	for key := range current.claims {
		if key.connID != connID {
			continue
		}
		delete(current.claims, key)
		if session == nil {
			continue
		}
		deliveries = append(deliveries, t.fanOut(current, connID, EditEndedEvent{
			ItemID:      key.itemID,
			UserID:      session.UserID,
			DisplayName: session.DisplayName,
		})...)
	}
	return deliveries
}

func (t *Tracker) fanOut(current *room, originConnID string, event Event) []Delivery {
	deliveries := make([]Delivery, 0, len(current.sessions))
	for connID := range current.sessions {
		if connID == originConnID {
			continue
		}
		deliveries = append(deliveries, Delivery{ConnID: connID, Event: event})
	}
	return deliveries
}

func (t *Tracker) snapshot(current *room) RoomSnapshot {
	snapshot := RoomSnapshot{
		WorkspaceID: current.workspaceID,
		Sessions:    make([]Session, 0, len(current.sessions)),
		Claims:      make([]Claim, 0, len(current.claims)),
	}
	for _, session := range current.sessions {
		snapshot.Sessions = append(snapshot.Sessions, *session)
	}
	for _, claim := range current.claims {
		snapshot.Claims = append(snapshot.Claims, *claim)
	}
	return snapshot
}
