package remote

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisStore keeps every (owner, collection) pair as one hash of id -> JSON document.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Create(ctx context.Context, owner, collection string, data []byte) (string, error) {
	id := uuid.NewString()
	ok, err := s.rdb.HSetNX(ctx, namespace(owner, collection), id, data).Result()
	if err != nil {
		return "", fmt.Errorf("create %s document: %w", collection, err)
	}
	if !ok {
		return "", fmt.Errorf("create %s document: id %s already taken", collection, id)
	}
	return id, nil
}

func (s *RedisStore) Set(ctx context.Context, owner, collection, id string, data []byte) error {
	if err := s.rdb.HSet(ctx, namespace(owner, collection), id, data).Err(); err != nil {
		return fmt.Errorf("set %s document %s: %w", collection, id, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, owner, collection, id string) (Document, error) {
	val, err := s.rdb.HGet(ctx, namespace(owner, collection), id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("get %s document %s: %w", collection, id, err)
	}
	return Document{ID: id, Data: val}, nil
}

func (s *RedisStore) List(ctx context.Context, owner, collection string) ([]Document, error) {
	return s.scan(ctx, owner, collection, func([]byte) bool { return true })
}

// Query loads the whole collection and filters on a top-level JSON field.
func (s *RedisStore) Query(ctx context.Context, owner, collection, field, value string) ([]Document, error) {
	return s.scan(ctx, owner, collection, func(data []byte) bool { return fieldEquals(data, field, value) })
}

func (s *RedisStore) Delete(ctx context.Context, owner, collection, id string) error {
	n, err := s.rdb.HDel(ctx, namespace(owner, collection), id).Result()
	if err != nil {
		return fmt.Errorf("delete %s document %s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) scan(ctx context.Context, owner, collection string, keep func([]byte) bool) ([]Document, error) {
	all, err := s.rdb.HGetAll(ctx, namespace(owner, collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s documents: %w", collection, err)
	}
	docs := make([]Document, 0, len(all))
	for id, val := range all {
		data := []byte(val)
		if keep(data) {
			docs = append(docs, Document{ID: id, Data: data})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func namespace(owner, collection string) string {
	return fmt.Sprintf("careplanner:%s:%s", owner, collection)
}
