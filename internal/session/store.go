package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store is the durable home of finished sessions, newest first.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
	// Append prepends the record and persists the whole list.
	Append(ctx context.Context, record Record) error
}

// RedisStore keeps the session list as a JSON array under a single key,
// mirroring the dashboard's original durable layout.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]Record, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *RedisStore) Save(ctx context.Context, records []Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, raw, 0).Err()
}

func (s *RedisStore) Append(ctx context.Context, record Record) error {
	records, err := s.Load(ctx)
	if err != nil {
		return err
	}
	return s.Save(ctx, append([]Record{record}, records...))
}

// MemoryStore is the fallback when no durable backend is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...), nil
}

func (s *MemoryStore) Save(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]Record(nil), records...)
	return nil
}

func (s *MemoryStore) Append(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]Record{record}, s.records...)
	return nil
}
