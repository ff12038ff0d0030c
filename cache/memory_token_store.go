package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryTokenStore implements TokenStore using ttlcache.
type MemoryTokenStore struct {
	cache *ttlcache.Cache[string, *Entry]
}

// NewMemoryTokenStore creates an in-memory token store with automatic
// expiry-driven cleanup.
func NewMemoryTokenStore() *MemoryTokenStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *Entry](),
	)
	go cache.Start()

	return &MemoryTokenStore{cache: cache}
}

// Set stores the entry until the record's own expiry.
func (s *MemoryTokenStore) Set(_ context.Context, entry *Entry) error {
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(HashToken(entry.Token), entry, ttl)
	return nil
}

// Get returns the cached entry or ErrNotFound.
func (s *MemoryTokenStore) Get(_ context.Context, token string) (*Entry, error) {
	item := s.cache.Get(HashToken(token))
	if item == nil {
		return nil, ErrNotFound
	}
	return item.Value(), nil
}

// Delete removes a token from the cache.
func (s *MemoryTokenStore) Delete(_ context.Context, token string) error {
	s.cache.Delete(HashToken(token))
	return nil
}

// Close stops the cleanup goroutine.
func (s *MemoryTokenStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ TokenStore = (*MemoryTokenStore)(nil)
