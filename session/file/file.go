package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/researcher/session/session_models"
)

const ext = ".json"

// Store keeps one <id>.json file per session under a directory.
type Store struct {
	dir string
}

func NewFileStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+ext)
}

// Save writes through a temporary file and renames it into place.
func (s *Store) Save(_ context.Context, id string, st session_models.State) error {
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
	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("save session %s: %w", id, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save session %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save session %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save session %s: %w", id, err)
	}
	return nil
}

func (s *Store) Load(_ context.Context, id string) (session_models.State, error) {
	if err := session_models.ValidateID(id); err != nil {
		return session_models.State{}, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return session_models.State{}, nil
	}
	if err != nil {
		return session_models.State{}, fmt.Errorf("load session %s: %w", id, err)
	}
	return session_models.Decode(data)
}

func (s *Store) List(_ context.Context) ([]session_models.Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []session_models.Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ext)
		if session_models.ValidateID(id) != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		rec, err := session_models.DecodeRecord(data)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		info := rec.Info(id)
		if info.UpdatedAt.IsZero() {
			if fi, err := e.Info(); err == nil {
				info.UpdatedAt = fi.ModTime().UTC()
			}
		}
		out = append(out, info)
	}
	session_models.SortInfos(out)
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	if err := session_models.ValidateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
