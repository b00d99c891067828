package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configure a RedisStore.
type RedisOptions struct {
	// Prefix is prepended to every key. Defaults to "markgraph:checkpoint:".
	Prefix string
	// TTL expires idle threads; zero keeps checkpoints forever.
	TTL time.Duration
}

// RedisStore keeps each checkpoint as a JSON string value.
type RedisStore struct {
	client redis.UniversalClient
	opts   RedisOptions
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, optFns ...func(o *RedisOptions)) *RedisStore {
	opts := RedisOptions{Prefix: "markgraph:checkpoint:"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{client: client, opts: opts}
}

// DialRedisStore connects to addr and verifies the connection.
func DialRedisStore(ctx context.Context, addr, password string, db int, optFns ...func(o *RedisOptions)) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("checkpoint: connect to redis: %w", err)
	}

	return NewRedisStore(client, optFns...), nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}

	data, err := encode(cp)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key(cp.ThreadID), data, s.opts.TTL).Err(); err != nil {
		return fmt.Errorf("checkpoint: put %s: %w", cp.ThreadID, err)
	}

	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, threadID string) (Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, ErrNotFound
	} else if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: get %s: %w", threadID, err)
	}

	return decode(data)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("checkpoint: delete %s: %w", threadID, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(threadID string) string {
	return s.opts.Prefix + threadID
}
