package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// AccessTokenKey holds the MAIB access token shared by all replicas.
	AccessTokenKey = "maib:access_token"
	// TokenExpiryBuffer is how long before expiry a token stops being used.
	TokenExpiryBuffer = 60 * time.Second
)

type CachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t *CachedToken) IsValid(now time.Time) bool {
	if t == nil || t.Token == "" {
		return false
	}
	return now.Add(TokenExpiryBuffer).Before(t.ExpiresAt)
}

// TokenStore caches the gateway access token. Get returns (nil, nil) on a
// miss or when the stored token is no longer usable.
type TokenStore interface {
	Get(ctx context.Context) (*CachedToken, error)
	Set(ctx context.Context, token string, expiresIn time.Duration) error
}

type RedisTokenStore struct {
	Client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{Client: client}
}

func (s *RedisTokenStore) Get(ctx context.Context) (*CachedToken, error) {
	raw, err := s.Client.Get(ctx, AccessTokenKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token from redis: %w", err)
	}

	var tok CachedToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	if !tok.IsValid(time.Now()) {
		return nil, nil
	}
	return &tok, nil
}

func (s *RedisTokenStore) Set(ctx context.Context, token string, expiresIn time.Duration) error {
	data, err := json.Marshal(CachedToken{Token: token, ExpiresAt: time.Now().Add(expiresIn)})
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := s.Client.Set(ctx, AccessTokenKey, data, expiresIn).Err(); err != nil {
		return fmt.Errorf("store token in redis: %w", err)
	}
	return nil
}

// MemoryTokenStore is used when Redis is disabled.
type MemoryTokenStore struct {
	mu  sync.Mutex
	tok *CachedToken
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Get(ctx context.Context) (*CachedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tok.IsValid(time.Now()) {
		return nil, nil
	}
	cp := *s.tok
	return &cp, nil
}

func (s *MemoryTokenStore) Set(ctx context.Context, token string, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = &CachedToken{Token: token, ExpiresAt: time.Now().Add(expiresIn)}
	return nil
}
