package notify

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type recordingChannel struct {
	mu        sync.Mutex
	name      string
	delivered []Notification
	err       error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Deliver(_ context.Context, notification Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.delivered = append(c.delivered, notification)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

type uuidIDs struct{}

func (uuidIDs) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func newTestDispatcher(t *testing.T, channels ...Channel) *Dispatcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notify_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Notification{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Database:   db,
		Channels:   channels,
		IDProvider: uuidIDs{},
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}
	return dispatcher
}

func waitForDeliveries(t *testing.T, channel *recordingChannel, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if channel.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries, got %d", want, channel.count())
}

func TestDispatchFansOutToAllChannels(t *testing.T) {
	first := &recordingChannel{name: "first"}
	second := &recordingChannel{name: "second"}
	dispatcher := newTestDispatcher(t, first, second)

	stored, err := dispatcher.Dispatch(context.Background(), Notification{
		UserID:  "alice",
		Type:    "achievement_unlocked",
		Title:   "First spark!",
		Message: "You planted your first idea.",
	})
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if stored.NotificationID == "" {
		t.Fatal("expected a generated notification id")
	}

	waitForDeliveries(t, first, 1)
	waitForDeliveries(t, second, 1)
}

func TestDispatchSurvivesFailingChannel(t *testing.T) {
	broken := &recordingChannel{name: "broken", err: errors.New("smtp down")}
	healthy := &recordingChannel{name: "healthy"}
	dispatcher := newTestDispatcher(t, broken, healthy)

	if _, err := dispatcher.Dispatch(context.Background(), Notification{
		UserID: "alice",
		Type:   "todo_due",
		Title:  "Todo due",
	}); err != nil {
		t.Fatalf("channel failure must not surface to the caller: %v", err)
	}
	waitForDeliveries(t, healthy, 1)
}

func TestDispatchRejectsMissingFields(t *testing.T) {
	dispatcher := newTestDispatcher(t)
	if _, err := dispatcher.Dispatch(context.Background(), Notification{Title: "no target"}); !errors.Is(err, ErrInvalidNotification) {
		t.Fatalf("expected ErrInvalidNotification, got %v", err)
	}
}

func TestInboxListAndMarkRead(t *testing.T) {
	dispatcher := newTestDispatcher(t)

	stored, err := dispatcher.Dispatch(context.Background(), Notification{
		UserID: "alice",
		Type:   "peer_joined",
		Title:  "Bob joined your workspace",
	})
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	unread, err := dispatcher.ListUnread(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(unread) != 1 {
		t.Fatalf("expected one unread notification, got %d", len(unread))
	}

	if err := dispatcher.MarkRead(context.Background(), "bob", stored.NotificationID); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("foreign mark-read must fail, got %v", err)
	}
	if err := dispatcher.MarkRead(context.Background(), "alice", stored.NotificationID); err != nil {
		t.Fatalf("unexpected mark-read error: %v", err)
	}

	unread, err = dispatcher.ListUnread(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("expected empty unread inbox, got %d", len(unread))
	}
}
