package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAssertion indicates the provider assertion carried no usable provider id.
	ErrInvalidAssertion = errors.New("users: invalid assertion")
	// ErrIdentityCreation indicates a new identity could not be persisted.
	ErrIdentityCreation = errors.New("users: identity creation failed")
	// ErrIdentityNotFound indicates no identity exists for the requested id.
	ErrIdentityNotFound = errors.New("users: identity not found")

	errMissingDatabase = errors.New("users: database connection required")
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	NewID    func() (string, error)
	Logger   *zap.Logger
}

// Service maps provider assertions onto local identities.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	newID  func() (string, error)
	logger *zap.Logger
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newUUIDv7
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		newID:  newID,
		logger: logger,
	}, nil
}

// Resolve returns the identity bound to the assertion's provider id, creating it on first sight.
// Existing identities are returned as stored; repeat logins do not refresh profile fields.
func (s *Service) Resolve(ctx context.Context, assertion auth.Assertion) (Identity, error) {
	providerID := assertion.ProviderID()
	if providerID == "" {
		return Identity{}, ErrInvalidAssertion
	}

	identity, err := s.findByProviderID(ctx, providerID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("identity lookup failed", zap.String("provider_id", providerID), zap.Error(err))
		return Identity{}, fmt.Errorf("%w: %w", ErrIdentityCreation, err)
	}

	identity, err = s.newIdentity(providerID, assertion)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrIdentityCreation, err)
	}
	if createErr := s.db.WithContext(ctx).Create(&identity).Error; createErr != nil {
		// A concurrent first login may have inserted the same provider id.
		if winner, lookupErr := s.findByProviderID(ctx, providerID); lookupErr == nil {
			return winner, nil
		}
		s.logger.Warn("identity creation failed",
			zap.String("provider_id", providerID),
			zap.String("email", identity.Email),
			zap.Error(createErr))
		return Identity{}, fmt.Errorf("%w: %w", ErrIdentityCreation, createErr)
	}

	s.logger.Info("identity created", zap.String("identity_id", identity.ID), zap.String("provider", assertion.Provider))
	return identity, nil
}

// Get loads an identity by its local id.
func (s *Service) Get(ctx context.Context, identityID string) (Identity, error) {
	identityID = normalize(identityID)
	if identityID == "" {
		return Identity{}, ErrIdentityNotFound
	}
	var identity Identity
	err := s.db.WithContext(ctx).Where("id = ?", identityID).Take(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrIdentityNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("users: load identity: %w", err)
	}
	return identity, nil
}

func (s *Service) findByProviderID(ctx context.Context, providerID string) (Identity, error) {
	var identity Identity
	err := s.db.WithContext(ctx).Where("provider_id = ?", providerID).Take(&identity).Error
	return identity, err
}

func (s *Service) newIdentity(providerID string, assertion auth.Assertion) (Identity, error) {
	id, err := s.newID()
	if err != nil {
		return Identity{}, err
	}
	email := normalizeEmail(assertion.Email)
	displayName := normalize(assertion.DisplayName)
	if displayName == "" {
		displayName = email
	}
	if displayName == "" {
		displayName = normalize(assertion.Subject)
	}
	now := s.now().UTC()
	return Identity{
		ID:          id,
		ProviderID:  &providerID,
		Email:       email,
		DisplayName: displayName,
		FirstName:   normalize(assertion.GivenName),
		LastName:    normalize(assertion.FamilyName),
		AvatarURL:   normalize(assertion.AvatarURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func newUUIDv7() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
