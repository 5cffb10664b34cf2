package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var errWrongType = errors.New("store: operation against a key holding the wrong kind of value")

type entry struct {
	hash      map[string]string
	list      []string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process KV with lazy expiry. It backs development
// runs without Redis and the service tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*entry),
		now:  time.Now,
	}
}

// SetClock replaces the clock used for expiry decisions.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// lookup returns a live entry, evicting it if it has expired. Caller holds mu.
func (s *MemoryStore) lookup(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *MemoryStore) HSet(ctx context.Context, key string, values map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		e = &entry{hash: make(map[string]string)}
		s.data[key] = e
	}
	if e.hash == nil {
		return errWrongType
	}
	for field, value := range values {
		e.hash[field] = value
	}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	e := s.lookup(key)
	if e == nil {
		return out, nil
	}
	if e.hash == nil {
		return nil, errWrongType
	}
	for field, value := range e.hash {
		out[field] = value
	}
	return out, nil
}

func (s *MemoryStore) AppendMember(ctx context.Context, key, field, member string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return false, ErrNotFound
	}
	if e.hash == nil {
		return false, errWrongType
	}

	var members []string
	if raw := e.hash[field]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &members); err != nil {
			return false, err
		}
	}
	for _, m := range members {
		if m == member {
			return true, nil
		}
	}
	if len(members) >= limit {
		return false, nil
	}

	data, err := json.Marshal(append(members, member))
	if err != nil {
		return false, err
	}
	e.hash[field] = string(data)
	return true, nil
}

func (s *MemoryStore) RPush(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		e = &entry{}
		s.data[key] = e
	}
	if e.hash != nil {
		return errWrongType
	}
	e.list = append(e.list, value)
	return nil
}

// LRange follows Redis index rules: negative indexes count from the tail.
func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	if e.hash != nil {
		return nil, errWrongType
	}

	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}

	out := make([]string, stop-start+1)
	copy(out, e.list[start:stop+1])
	return out, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(key) != nil, nil
}

// TTL truncates to whole seconds like Redis does.
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return TTLMissing, nil
	}
	if e.expiresAt.IsZero() {
		return TTLPersistent, nil
	}
	return e.expiresAt.Sub(s.now()).Truncate(time.Second), nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(key)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		delete(s.data, key)
		return nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	e.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
