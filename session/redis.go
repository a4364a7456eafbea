package session

import (
	"time"

	"github.com/go-redis/redis/v7"
	jsoniter "github.com/json-iterator/go"
)

var sessionJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisStore persists the opaque session map in Redis, for deployments
// that hand accepted sockets off to sibling processes (§4.5, §4.10) and
// so can't rely on an in-process map surviving the handoff.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an already-configured *redis.Client. ttl is the
// expiration applied to every Save; zero means no expiration.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Get fetches and decodes the session's stored JSON map.
func (s *RedisStore) Get(sessionID string) (map[string]string, error) {
	raw, err := s.client.Get(keyOf(sessionID)).Bytes()
	if err == redis.Nil {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	data := make(map[string]string)
	if err := sessionJSON.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Save encodes data as JSON and writes it under the session's key.
func (s *RedisStore) Save(sessionID string, data map[string]string) error {
	raw, err := sessionJSON.Marshal(data)
	if err != nil {
		return err
	}
	return s.client.Set(keyOf(sessionID), raw, s.ttl).Err()
}
