package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken indicates a registration against an email already in use.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a failed email/password check.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates an unknown user id.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrInvalidRegistration indicates missing or malformed signup fields.
	ErrInvalidRegistration = errors.New("users: invalid registration")
)

const minPasswordLength = 8

// ServiceConfig describes the dependencies for the identity provider.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service is Spark's identity provider: registration, credential checks, and
// profile lookup. Display names are cached per user id for the presence
// relay's snapshot enrichment.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// RegisterRequest carries the signup fields.
type RegisterRequest struct {
	Email       string
	DisplayName string
	Password    string
	AvatarURL   string
}

// Register creates an account and returns its public profile.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Profile, error) {
	email := normalizeEmail(req.Email)
	displayName := normalize(req.DisplayName)
	if email == "" || displayName == "" {
		return Profile{}, fmt.Errorf("%w: email and display name are required", ErrInvalidRegistration)
	}
	if len(req.Password) < minPasswordLength {
		return Profile{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, minPasswordLength)
	}

	var existing Identity
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return Profile{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Profile{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Profile{}, err
	}

	identity := Identity{
		UserID:       id.String(),
		Email:        email,
		DisplayName:  displayName,
		AvatarURL:    normalize(req.AvatarURL),
		PasswordHash: string(hash),
		LastSeenAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
		return Profile{}, err
	}
	s.cache.Store(identity.UserID, identity.DisplayName)
	return identity.profile(), nil
}

// Authenticate checks an email/password pair and returns the matching
// profile. Unknown emails and wrong passwords are indistinguishable.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Profile, error) {
	var identity Identity
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return Profile{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)) != nil {
		return Profile{}, ErrInvalidCredentials
	}

	_ = s.db.WithContext(ctx).Model(&Identity{}).
		Where("user_id = ?", identity.UserID).
		Update("last_seen_at", s.now()).Error
	s.cache.Store(identity.UserID, identity.DisplayName)
	return identity.profile(), nil
}

// Get returns the public profile for a user id.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	var identity Identity
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrUserNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	s.cache.Store(identity.UserID, identity.DisplayName)
	return identity.profile(), nil
}

// UpdateProfile changes the display name and avatar; empty fields are kept.
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) (Profile, error) {
	updates := map[string]interface{}{}
	if name := normalize(displayName); name != "" {
		updates["display_name"] = name
	}
	if avatar := normalize(avatarURL); avatar != "" {
		updates["avatar_url"] = avatar
	}
	if len(updates) > 0 {
		tx := s.db.WithContext(ctx).Model(&Identity{}).
			Where("user_id = ?", userID).
			Updates(updates)
		if tx.Error != nil {
			return Profile{}, tx.Error
		}
		if tx.RowsAffected == 0 {
			return Profile{}, ErrUserNotFound
		}
		s.cache.Delete(userID)
	}
	return s.Get(ctx, userID)
}

// DisplayName resolves a user's display name through the cache, falling back
// to the database. Unknown users resolve to the id itself so presence frames
// always carry something renderable.
func (s *Service) DisplayName(ctx context.Context, userID string) string {
	if cached, ok := s.cache.Load(userID); ok {
		if name, ok := cached.(string); ok {
			return name
		}
	}
	profile, err := s.Get(ctx, userID)
	if err != nil {
		return userID
	}
	return profile.DisplayName
}
