package repo

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/tinoosan/modlib/internal/data"
)

const (
	libraryFile = "library.json"
	profileFile = "profile.json"
)

// FileStore keeps JSON documents in a directory. Writes go to a temporary
// file that is renamed into place.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (r *FileStore) LoadLibrary(ctx context.Context) (*LibrarySnapshot, error) {
	s := &LibrarySnapshot{DefaultUpdate: data.DefaultUpdatePolicy}
	found, err := r.read(libraryFile, s)
	if err != nil || !found {
		return s, err
	}
	if s.DefaultUpdate == "" {
		s.DefaultUpdate = data.DefaultUpdatePolicy
	}
	// Drop items persisted without versions.
	items := s.Items[:0]
	for _, it := range s.Items {
		if it != nil && len(it.Versions) > 0 {
			items = append(items, it)
		}
	}
	s.Items = items
	return s, nil
}

func (r *FileStore) SaveLibrary(ctx context.Context, s *LibrarySnapshot) error {
	return r.write(libraryFile, s)
}

func (r *FileStore) LoadProfile(ctx context.Context) (*data.Profile, error) {
	p := &data.Profile{Name: "default"}
	_, err := r.read(profileFile, p)
	return p, err
}

func (r *FileStore) SaveProfile(ctx context.Context, p *data.Profile) error {
	return r.write(profileFile, p)
}

func (r *FileStore) Close() error { return nil }

func (r *FileStore) read(name string, v any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := os.ReadFile(filepath.Join(r.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, v)
}

func (r *FileStore) write(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tmp, err := os.CreateTemp(r.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(r.dir, name))
}
