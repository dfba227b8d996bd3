package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("sessions: database connection required")

// Record is the persisted form of a session.
type Record struct {
	TokenHash  string    `gorm:"column:token_hash;primaryKey;size:64;not null"`
	IdentityID string    `gorm:"column:identity_id;size:190;not null;index"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "sessions"
}

// DatabaseStoreConfig describes the dependencies of a DatabaseStore.
type DatabaseStoreConfig struct {
	Database *gorm.DB
	TTL      time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// DatabaseStore keeps sessions in the relational database shared with notes and identities.
type DatabaseStore struct {
	db     *gorm.DB
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

// NewDatabaseStore constructs a gorm-backed session store.
func NewDatabaseStore(cfg DatabaseStoreConfig) (*DatabaseStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatabaseStore{db: cfg.Database, ttl: ttl, clock: clock, logger: logger}, nil
}

// Create issues a new session for the identity.
func (s *DatabaseStore) Create(ctx context.Context, identityID string) (Session, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return Session{}, ErrMissingIdentity
	}
	token, err := newToken()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	now := s.clock().UTC()
	record := Record{
		TokenHash:  hashToken(token),
		IdentityID: identityID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Session{
		Token:      token,
		IdentityID: record.IdentityID,
		CreatedAt:  record.CreatedAt,
		ExpiresAt:  record.ExpiresAt,
	}, nil
}

// Resolve returns the live session for the token. Expired records are removed lazily.
func (s *DatabaseStore) Resolve(ctx context.Context, token string) (Session, error) {
	token = normalizeToken(token)
	if token == "" {
		return Session{}, ErrSessionNotFound
	}
	tokenHash := hashToken(token)

	var record Record
	err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	session := Session{
		IdentityID: record.IdentityID,
		CreatedAt:  record.CreatedAt,
		ExpiresAt:  record.ExpiresAt,
	}
	if session.Expired(s.clock()) {
		if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).Delete(&Record{}).Error; err != nil {
			s.logger.Warn("expired session cleanup failed", zap.Error(err))
		}
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Destroy removes the session. Unknown tokens are ignored.
func (s *DatabaseStore) Destroy(ctx context.Context, token string) error {
	token = normalizeToken(token)
	if token == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hashToken(token)).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// PurgeExpired deletes every session whose expiry has passed and reports how many were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at <= ?", s.clock().UTC()).Delete(&Record{})
	if result.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Error)
	}
	return result.RowsAffected, nil
}

var _ Store = (*DatabaseStore)(nil)
