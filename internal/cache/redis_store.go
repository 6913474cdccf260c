// Package cache keeps normalized workspaces in Redis so reads skip the database
// and the normalization pass.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marginalia/api/internal/outline"
)

const DefaultTTL = 10 * time.Minute

// RedisStore caches one workspace per concept under workspace:v<schema>:<id>.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: fmt.Sprintf("workspace:v%d:", outline.SchemaVersion),
		ttl:    ttl,
	}
}

func (s *RedisStore) key(conceptID string) string {
	return s.prefix + conceptID
}

// Get reports ok=false on a miss.
func (s *RedisStore) Get(ctx context.Context, conceptID string) (outline.Workspace, bool, error) {
	data, err := s.client.Get(ctx, s.key(conceptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return outline.Workspace{}, false, nil
	}
	if err != nil {
		return outline.Workspace{}, false, fmt.Errorf("get cached workspace: %w", err)
	}

	var ws outline.Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		// An undecodable entry is treated as a miss and dropped.
		_ = s.client.Del(ctx, s.key(conceptID)).Err()
		return outline.Workspace{}, false, nil
	}
	return ws, true, nil
}

// maxSetAttempts bounds the optimistic retries when another writer touches the
// key between WATCH and EXEC.
const maxSetAttempts = 3

// ErrContended is returned when Set keeps losing the race for a key.
var ErrContended = errors.New("cache entry contended")

// Set stores ws unless the cached entry carries a later updatedAt. Writers
// finish in any order, so the newest workspace wins rather than the last Set.
func (s *RedisStore) Set(ctx context.Context, conceptID string, ws outline.Workspace) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}
	key := s.key(conceptID)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && supersedes(current, ws.UpdatedAt) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSetAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("cache workspace: %w", err)
		}
		return nil
	}
	return fmt.Errorf("cache workspace %s: %w", conceptID, ErrContended)
}

// supersedes reports whether the cached entry is strictly newer than updatedAt.
// Unreadable entries or timestamps never win.
func supersedes(cached []byte, updatedAt string) bool {
	var entry struct {
		UpdatedAt string `json:"updatedAt"`
	}
	if json.Unmarshal(cached, &entry) != nil {
		return false
	}
	have, err := time.Parse(time.RFC3339Nano, entry.UpdatedAt)
	if err != nil {
		return false
	}
	want, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return false
	}
	return have.After(want)
}

func (s *RedisStore) Delete(ctx context.Context, conceptID string) error {
	if err := s.client.Del(ctx, s.key(conceptID)).Err(); err != nil {
		return fmt.Errorf("evict workspace: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
