package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists session records by the hash of their token.
type Store interface {
	Save(ctx context.Context, key string, s Session, ttl time.Duration) error
	// Get returns ErrNotFound when the key is absent or has expired.
	Get(ctx context.Context, key string) (Session, error)
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	session   Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Sessions are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, key string, sess Session, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)
	s.items[key] = memoryEntry{session: sess, expiresAt: now.Add(ttl)}
	return nil
}

// sweep drops expired entries. Callers hold s.mu.
func (s *MemoryStore) sweep(now time.Time) {
	for key, entry := range s.items {
		if now.After(entry.expiresAt) {
			delete(s.items, key)
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[key]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.items, key)
		return Session{}, ErrNotFound
	}
	return entry.session, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// redisKV is the subset of *redis.Client the store needs.
type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps sessions as JSON values with a TTL in redis.
type RedisStore struct {
	client  redisKV
	prefix  string
	timeout time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  "session:",
		timeout: 500 * time.Millisecond,
	}
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
}

func (s *RedisStore) Save(ctx context.Context, key string, sess Session, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidToken
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Set(ctx, s.prefix+key, payload, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (Session, error) {
	if strings.TrimSpace(key) == "" {
		return Session{}, ErrNotFound
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Del(ctx, s.prefix+key).Err()
}
