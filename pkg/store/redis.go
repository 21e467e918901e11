package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/1F47E/geo-viewport-cache/pkg/viewcache"
)

// DefaultRedisKey is the hash holding the snapshot when none is configured
const DefaultRedisKey = "viewcache:entries"

// Redis keeps the snapshot in a single hash, one field per entry
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis wraps client. An empty key uses DefaultRedisKey.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// OpenRedis connects to addr and checks the connection
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}
	return client, nil
}

// SaveEntries replaces the hash with entries atomically
func (r *Redis) SaveEntries(ctx context.Context, entries []viewcache.Entry) error {
	fields := make(map[string]any, len(entries))
	for _, e := range entries {
		data, err := encodeEntry(e)
		if err != nil {
			return err
		}
		fields[e.Bounds.Key()] = data
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(fields) > 0 {
			pipe.HSet(ctx, r.key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", r.key, err)
	}
	return nil
}

// LoadEntries reads every field of the hash
func (r *Redis) LoadEntries(ctx context.Context) ([]viewcache.Entry, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.key, err)
	}

	entries := make([]viewcache.Entry, 0, len(fields))
	for field, val := range fields {
		e, err := decodeEntry([]byte(val))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
