package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgellow/authguard/internal/crypto"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures talking to redis
var ErrRedisUnavailable = errors.New("redis unavailable")

// RedisStore keeps each session as a JSON value under prefix+id. Redis
// expires keys itself, so RedisStore is not a Sweeper.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	codec  codec
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. The store owns the client and
// closes it in Close.
func NewRedisStore(client redis.UniversalClient, prefix string, encryptor crypto.Encryptor) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	c, err := newCodec(encryptor)
	if err != nil {
		return nil, err
	}
	return &RedisStore{
		redis:  client,
		prefix: prefix,
		codec:  c,
		now:    time.Now,
	}, nil
}

// DialRedis connects to addr and verifies the connection with PING
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return client, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	r, err := s.codec.decode(&stored)
	if err != nil {
		return nil, err
	}
	if r.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *RedisStore) Save(ctx context.Context, r *Record) error {
	var ttl time.Duration
	if !r.ExpiresAt.IsZero() {
		ttl = r.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Delete(ctx, r.ID)
		}
	}

	stored, err := s.codec.encode(r)
	if err != nil {
		return err
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(r.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
