package repo

import (
	"context"
	"sync"

	"github.com/tinoosan/modlib/internal/data"
)

// InMemoryStore keeps snapshots in memory. Values are cloned on the way in
// and out so callers never share state with the store.
type InMemoryStore struct {
	mu           sync.RWMutex
	library      *LibrarySnapshot
	profile      *data.Profile
	librarySaves int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		library: &LibrarySnapshot{DefaultUpdate: data.DefaultUpdatePolicy},
		profile: &data.Profile{Name: "default"},
	}
}

func (r *InMemoryStore) LoadLibrary(ctx context.Context) (*LibrarySnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.library.Clone(), nil
}

func (r *InMemoryStore) SaveLibrary(ctx context.Context, s *LibrarySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.library = s.Clone()
	r.librarySaves++
	return nil
}

// LibrarySaves counts SaveLibrary calls.
func (r *InMemoryStore) LibrarySaves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.librarySaves
}

func (r *InMemoryStore) LoadProfile(ctx context.Context) (*data.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profile.Clone(), nil
}

func (r *InMemoryStore) SaveProfile(ctx context.Context, p *data.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profile = p.Clone()
	return nil
}

func (r *InMemoryStore) Close() error { return nil }
