package store

import (
	"context"
	"errors"
	"time"
)

// TTL sentinels returned by KV.TTL, matching the Redis TTL reply codes.
const (
	TTLMissing    time.Duration = -2 // key does not exist
	TTLPersistent time.Duration = -1 // key exists without an expiry
)

// ErrNotFound is returned when an operation requires an existing key.
var ErrNotFound = errors.New("store: key not found")

// KV defines the expiring key-value operations the chat core relies on.
// RedisStore and MemoryStore both implement this interface.
type KV interface {
	// Connection management
	Ping(ctx context.Context) error
	Close() error

	// Hash operations. A positive ttl on HSet sets the key's expiry in the
	// same round trip; zero leaves the expiry untouched.
	HSet(ctx context.Context, key string, values map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// AppendMember atomically appends member to the JSON string list stored
	// in the hash field, unless the list already holds limit entries.
	// Returns true if member is in the list afterwards, ErrNotFound if the
	// hash does not exist.
	AppendMember(ctx context.Context, key, field, member string, limit int) (bool, error)

	// List operations
	RPush(ctx context.Context, key, value string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Key lifecycle. Expire with ttl <= 0 deletes the key.
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
