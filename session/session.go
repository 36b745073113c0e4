// Package session persists chat sessions: the conversation history and the
// documents uploaded into it.
package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/session/file"
	"github.com/mohammad-safakhou/researcher/session/inmemory"
	redis_session "github.com/mohammad-safakhou/researcher/session/redis"
	"github.com/mohammad-safakhou/researcher/session/session_models"
)

// Store interface for session persistence. Loading an unknown id yields an
// empty state, not an error.
type Store interface {
	Save(ctx context.Context, id string, st session_models.State) error
	Load(ctx context.Context, id string) (session_models.State, error)
	List(ctx context.Context) ([]session_models.Info, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

type StoreType string

const (
	FileStore     StoreType = "file"
	RedisStore    StoreType = "redis"
	InMemoryStore StoreType = "memory"
)

func NewStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch StoreType(cfg.Backend) {
	case FileStore:
		return file.NewFileStore(cfg.File.DataDir)
	case RedisStore:
		return redis_session.NewRedisSessionStore(ctx, cfg.Redis)
	case InMemoryStore:
		return inmemory.NewInMemorySessionStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Backend)
	}
}

// NewID returns a fresh session id.
func NewID() string {
	return uuid.NewString()
}
