package redis_session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/session/session_models"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "researcher:session:"
	indexKey  = "researcher:sessions"
)

// Store keeps each session as one JSON value and tracks ids in a set.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore connects and pings the server.
func NewRedisSessionStore(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	return NewFromClient(rdb, cfg.TTL), nil
}

// NewFromClient wraps an existing client. ttl <= 0 keeps sessions forever.
func NewFromClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl < 0 {
		ttl = 0
	}
	return &Store{client: client, ttl: ttl}
}

func key(id string) string { return keyPrefix + id }

func (s *Store) Save(ctx context.Context, id string, st session_models.State) error {
	if err := session_models.ValidateID(id); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	data, err := session_models.Encode(st)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key(id), data, s.ttl)
		pipe.SAdd(ctx, indexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id string) (session_models.State, error) {
	if err := session_models.ValidateID(id); err != nil {
		return session_models.State{}, err
	}
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session_models.State{}, nil
	}
	if err != nil {
		return session_models.State{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return session_models.Decode(data)
}

// List reads every indexed session and drops ids whose value has expired.
func (s *Store) List(ctx context.Context) ([]session_models.Info, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []session_models.Info{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]session_models.Info, 0, len(ids))
	var stale []interface{}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := session_models.DecodeRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", ids[i], err)
		}
		out = append(out, rec.Info(ids[i]))
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, indexKey, stale...).Err()
	}
	session_models.SortInfos(out)
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := session_models.ValidateID(id); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key(id))
		pipe.SRem(ctx, indexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
