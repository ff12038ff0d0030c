// Package redis provides a Redis-backed cache.TokenStore for deployments
// where several server instances share one refresh-token cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/keygate-dev/keygate/cache"
)

const keyPrefix = "keygate:rt:"

// TokenStore implements cache.TokenStore over a Redis client.
type TokenStore struct {
	client *goredis.Client
}

// NewTokenStore creates a Redis token store from client options.
func NewTokenStore(opts *goredis.Options) *TokenStore {
	return &TokenStore{client: goredis.NewClient(opts)}
}

// NewTokenStoreFromClient wraps an existing client; useful in tests.
func NewTokenStoreFromClient(client *goredis.Client) *TokenStore {
	return &TokenStore{client: client}
}

func (s *TokenStore) key(token string) string {
	return keyPrefix + cache.HashToken(token)
}

// Set stores the entry with a TTL matching the record's expiry.
func (s *TokenStore) Set(ctx context.Context, entry *cache.Entry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(entry.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache token: %w", err)
	}
	return nil
}

// Get returns the cached entry or cache.ErrNotFound.
func (s *TokenStore) Get(ctx context.Context, token string) (*cache.Entry, error) {
	payload, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cached token: %w", err)
	}
	var entry cache.Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	entry.Token = token
	return &entry, nil
}

// Delete removes a token from the cache.
func (s *TokenStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, s.key(token)).Err()
}

// Close closes the underlying client.
func (s *TokenStore) Close() error {
	return s.client.Close()
}

var _ cache.TokenStore = (*TokenStore)(nil)
