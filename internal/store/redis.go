package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/burnroom/internal/metrics"
)

// appendMemberScript appends ARGV[2] to the JSON list in hash field ARGV[1]
// of KEYS[1] unless the list holds ARGV[3] entries already.
// Returns -1 if the hash is missing, 0 if full, 1 if the member is present.
var appendMemberScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local raw = redis.call('HGET', KEYS[1], ARGV[1])
local members = {}
if raw and raw ~= '' and raw ~= '[]' then
	members = cjson.decode(raw)
end
for _, m in ipairs(members) do
	if m == ARGV[2] then
		return 1
	end
end
if #members >= tonumber(ARGV[3]) then
	return 0
end
table.insert(members, ARGV[2])
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(members))
return 1
`)

// RedisStore implements KV on top of a Redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client exposes the underlying client for pub/sub and rate limiting.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return s.client.Ping(ctx).Err()
}

// HSet writes hash fields and optionally sets the key's expiry atomically.
func (s *RedisStore) HSet(ctx context.Context, key string, values map[string]string, ttl time.Duration) error {
	defer observe("hset", time.Now())

	args := make([]interface{}, 0, len(values)*2)
	for field, value := range values {
		args = append(args, field, value)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, args...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// HGetAll returns all fields of a hash. A missing key yields an empty map.
func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	defer observe("hgetall", time.Now())
	return s.client.HGetAll(ctx, key).Result()
}

// AppendMember appends to a JSON list hash field with a capacity check.
func (s *RedisStore) AppendMember(ctx context.Context, key, field, member string, limit int) (bool, error) {
	defer observe("append_member", time.Now())

	res, err := appendMemberScript.Run(ctx, s.client, []string{key}, field, member, limit).Int()
	if err != nil {
		return false, err
	}
	switch res {
	case -1:
		return false, ErrNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

// RPush appends a value to the tail of a list.
func (s *RedisStore) RPush(ctx context.Context, key, value string) error {
	defer observe("rpush", time.Now())
	return s.client.RPush(ctx, key, value).Err()
}

// LRange returns a range of list elements, inclusive on both ends.
func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	defer observe("lrange", time.Now())
	return s.client.LRange(ctx, key, start, stop).Result()
}

// Exists reports whether a key exists.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	defer observe("exists", time.Now())

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of a key, or TTLMissing/TTLPersistent.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	defer observe("ttl", time.Now())

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return ttl, nil
}

// Expire sets a key's expiry with second resolution. ttl <= 0 deletes the key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	defer observe("expire", time.Now())

	if ttl <= 0 {
		return s.client.Del(ctx, key).Err()
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return s.client.Expire(ctx, key, ttl).Err()
}

// Del removes keys. Missing keys are ignored.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	defer observe("del", time.Now())

	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
