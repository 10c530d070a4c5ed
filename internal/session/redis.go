package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

// RedisStore keeps sessions in Redis so every API replica sees the same
// active code. Each session is one JSON value; updates use WATCH/MULTI.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisStore builds a store using keys under prefix. Keys expire
// retention after the session itself expires.
func NewRedisStore(client *redis.Client, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "attendance:session:"
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

func (r *RedisStore) key(k Key) string {
	return r.prefix + k.CourseID + ":" + k.Date
}

// Get loads the session stored under k.
func (r *RedisStore) Get(ctx context.Context, k Key) (*Session, error) {
	return load(ctx, r.client, r.key(k))
}

// Update runs fn inside an optimistic transaction, retrying when another
// writer touched the key between the read and the commit.
func (r *RedisStore) Update(ctx context.Context, k Key, fn func(cur *Session) (*Session, error)) (*Session, error) {
	key := r.key(k)
	var out *Session

	txf := func(tx *redis.Tx) error {
		cur, err := load(ctx, tx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ExpireAt(ctx, key, next.ExpiresAt.Add(r.retention))
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("update %s: too much contention", key)
}

// Delete removes the session stored under k.
func (r *RedisStore) Delete(ctx context.Context, k Key) error {
	return r.client.Del(ctx, r.key(k)).Err()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, g getter, key string) (*Session, error) {
	data, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return &s, nil
}
