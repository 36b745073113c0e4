package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/mohammad-safakhou/researcher/session/session_models"
)

// Store keeps encoded sessions in memory, so callers never share slices or
// maps with it.
type Store struct {
	sessions map[string][]byte
	mu       sync.RWMutex
}

func NewInMemorySessionStore() *Store {
	return &Store{sessions: make(map[string][]byte)}
}

func (store *Store) Save(_ context.Context, id string, st session_models.State) error {
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
	store.mu.Lock()
	defer store.mu.Unlock()
	store.sessions[id] = data
	return nil
}

func (store *Store) Load(_ context.Context, id string) (session_models.State, error) {
	if err := session_models.ValidateID(id); err != nil {
		return session_models.State{}, err
	}
	store.mu.RLock()
	data, ok := store.sessions[id]
	store.mu.RUnlock()
	if !ok {
		return session_models.State{}, nil
	}
	return session_models.Decode(data)
}

func (store *Store) List(_ context.Context) ([]session_models.Info, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	out := make([]session_models.Info, 0, len(store.sessions))
	for id, data := range store.sessions {
		rec, err := session_models.DecodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Info(id))
	}
	session_models.SortInfos(out)
	return out, nil
}

func (store *Store) Delete(_ context.Context, id string) error {
	if err := session_models.ValidateID(id); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.sessions, id)
	return nil
}

func (store *Store) Close() error { return nil }
