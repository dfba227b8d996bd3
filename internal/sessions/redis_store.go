package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const redisKeyPrefix = "jotter:session:"

var errMissingRedisClient = errors.New("sessions: redis client required")

type redisRecord struct {
	IdentityID string    `json:"identity_id"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RedisStoreConfig describes the dependencies of a RedisStore.
type RedisStoreConfig struct {
	Client *redis.Client
	TTL    time.Duration
	Clock  func() time.Time
	Logger *zap.Logger
}

// RedisStore keeps sessions in Redis; expiry is delegated to key TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
	tokens func() (string, error)
}

// NewRedisStore constructs a Redis-backed session store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
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
	return &RedisStore{client: cfg.Client, ttl: ttl, clock: clock, logger: logger, tokens: newToken}, nil
}

// Create issues a new session for the identity.
func (s *RedisStore) Create(ctx context.Context, identityID string) (Session, error) {
	identityID = strings.TrimSpace(identityID)
	if identityID == "" {
		return Session{}, ErrMissingIdentity
	}
	token, err := s.tokens()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	now := s.clock().UTC()
	record := redisRecord{IdentityID: identityID, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	payload, err := json.Marshal(record)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	// SETNX never overwrites an existing session.
	created, err := s.client.SetNX(ctx, redisKey(token), payload, s.ttl).Result()
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !created {
		return Session{}, fmt.Errorf("%w: token collision", ErrStoreUnavailable)
	}
	return Session{Token: token, IdentityID: identityID, CreatedAt: record.CreatedAt, ExpiresAt: record.ExpiresAt}, nil
}

// Resolve returns the live session for the token.
func (s *RedisStore) Resolve(ctx context.Context, token string) (Session, error) {
	token = normalizeToken(token)
	if token == "" {
		return Session{}, ErrSessionNotFound
	}
	payload, err := s.client.Get(ctx, redisKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var record redisRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	session := Session{IdentityID: record.IdentityID, CreatedAt: record.CreatedAt, ExpiresAt: record.ExpiresAt}
	if session.Expired(s.clock()) {
		if err := s.client.Del(ctx, redisKey(token)).Err(); err != nil {
			s.logger.Warn("expired session cleanup failed", zap.Error(err))
		}
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Destroy removes the session. Unknown tokens are ignored.
func (s *RedisStore) Destroy(ctx context.Context, token string) error {
	token = normalizeToken(token)
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, redisKey(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func redisKey(token string) string {
	return redisKeyPrefix + hashToken(token)
}

var _ Store = (*RedisStore)(nil)
