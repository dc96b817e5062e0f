package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists profiles keyed by normalized email.
type Store interface {
	Load(ctx context.Context, email string) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, email string) error
}

const redisKeyPrefix = "slotsync:session:"

// RedisStore keeps profiles as JSON values. A zero ttl keeps them forever.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(email string) string {
	return redisKeyPrefix + NormalizeEmail(email)
}

func (s *RedisStore) Load(ctx context.Context, email string) (*Profile, error) {
	data, err := s.rdb.Get(ctx, redisKey(email)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &p, nil
}

func (s *RedisStore) Save(ctx context.Context, p *Profile) error {
	if p == nil || p.Email == "" {
		return fmt.Errorf("save session: email required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKey(p.Email), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, email string) error {
	if err := s.rdb.Del(ctx, redisKey(email)).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (s *MemoryStore) Load(_ context.Context, email string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Save(_ context.Context, p *Profile) error {
	if p == nil || p.Email == "" {
		return fmt.Errorf("save session: email required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[NormalizeEmail(p.Email)] = *p
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, NormalizeEmail(email))
	return nil
}
