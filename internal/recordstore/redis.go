package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces document keys.
const DefaultRedisPrefix = "chatgate:"

// maxUpdateRetries bounds optimistic transaction retries on WATCH conflicts.
const maxUpdateRetries = 16

// RedisBackend stores each document as a single string key:
//
//	Key:   <prefix><doc>
//	Value: JSON document
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, prefix string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisBackend(client, prefix), nil
}

func (b *RedisBackend) key(doc string) string {
	return b.prefix + doc
}

func (b *RedisBackend) Read(ctx context.Context, doc string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(doc)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (b *RedisBackend) Write(ctx context.Context, doc string, data []byte) error {
	return b.client.Set(ctx, b.key(doc), data, 0).Err()
}

// Update uses WATCH/MULTI; fn is re-run when another writer touched the key
// between the read and the commit.
func (b *RedisBackend) Update(ctx context.Context, doc string, fn func([]byte) ([]byte, error)) error {
	key := b.key(doc)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			current = nil
		} else if err != nil {
			return err
		} else if current == nil {
			current = []byte{}
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update of %s: too many conflicting writers", doc)
}

// Close closes the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
