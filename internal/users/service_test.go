package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1700000000, 0).UTC()
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestRegisterAndAuthenticate(t *testing.T) {
	service := newTestService(t)

	profile, err := service.Register(context.Background(), RegisterRequest{
		Email:       "Alice@Example.com",
		DisplayName: "Alice",
		Password:    "correct horse",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if profile.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", profile.Email)
	}
	if profile.UserID == "" {
		t.Fatal("expected a generated user id")
	}

	authed, err := service.Authenticate(context.Background(), "alice@example.com", "correct horse")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if authed.UserID != profile.UserID {
		t.Fatalf("expected stable user id, got %q vs %q", authed.UserID, profile.UserID)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service := newTestService(t)
	request := RegisterRequest{Email: "alice@example.com", DisplayName: "Alice", Password: "correct horse"}
	if _, err := service.Register(context.Background(), request); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := service.Register(context.Background(), request); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	service := newTestService(t)
	_, err := service.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Password:    "short",
	})
	if !errors.Is(err, ErrInvalidRegistration) {
		t.Fatalf("expected ErrInvalidRegistration, got %v", err)
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Password:    "correct horse",
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, err := service.Authenticate(context.Background(), "alice@example.com", "wrong horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "nobody@example.com", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must look like bad credentials, got %v", err)
	}
}

func TestDisplayNameFallsBackToUserID(t *testing.T) {
	service := newTestService(t)
	if name := service.DisplayName(context.Background(), "ghost-id"); name != "ghost-id" {
		t.Fatalf("expected user id fallback, got %q", name)
	}

	profile, err := service.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Password:    "correct horse",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if name := service.DisplayName(context.Background(), profile.UserID); name != "Alice" {
		t.Fatalf("expected cached display name, got %q", name)
	}
}
