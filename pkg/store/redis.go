package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

// RedisConfig holds the redis connection settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps each record as a JSON string and tracks creation order in a sorted set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address must not be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "router"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string { return s.prefix + ":intent:" + id }
func (s *RedisStore) indexKey() string     { return s.prefix + ":intents:created" }

func (s *RedisStore) Get(ctx context.Context, id string) (*models.IntentRecord, error) {
	data, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load intent record %s: %w", id, err)
	}
	var rec models.IntentRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode intent record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *models.IntentRecord) error {
	rec.Version = 1
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode intent record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(rec.Intent.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert intent record %s: %w", rec.Intent.ID, err)
	}
	if !ok {
		return ErrExists
	}
	err = s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CreatedAt), Member: rec.Intent.ID}).Err()
	if err != nil {
		return fmt.Errorf("failed to index intent record %s: %w", rec.Intent.ID, err)
	}
	return nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, expectedVersion int64, rec *models.IntentRecord) error {
	key := s.key(rec.Intent.ID)
	next := *rec
	next.Version = expectedVersion + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode intent record: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var current models.IntentRecord
		if err := json.Unmarshal([]byte(data), &current); err != nil {
			return fmt.Errorf("failed to decode intent record %s: %w", rec.Intent.ID, err)
		}
		if current.Version != expectedVersion {
			return ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		rec.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err
	default:
		return fmt.Errorf("failed to update intent record %s: %w", rec.Intent.ID, err)
	}
}

func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*models.IntentRecord, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list intent records: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load intent records: %w", err)
	}

	out := []*models.IntentRecord{}
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var rec models.IntentRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode intent record: %w", err)
		}
		if !opts.matches(rec.Status) {
			continue
		}
		out = append(out, &rec)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
