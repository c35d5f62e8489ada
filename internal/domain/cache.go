package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations. The primary use
// is short-TTL snapshots of the active lender catalog so repeated runs
// do not re-read lenders, programs, and rules on every execution.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetCatalog retrieves the cached lender catalog snapshot.
	// Returns nil, nil on a miss.
	GetCatalog(ctx context.Context) ([]*Lender, error)

	// SetCatalog caches the lender catalog snapshot.
	SetCatalog(ctx context.Context, lenders []*Lender, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// CatalogTTL bounds staleness of the catalog snapshot.
	CatalogTTL time.Duration
}
