package repo

import (
	"context"

	"github.com/tinoosan/modlib/internal/data"
)

// LibrarySnapshot is the persisted part of the library. Pending installs are
// session state and never stored.
type LibrarySnapshot struct {
	DefaultUpdate data.UpdatePolicy     `json:"defaultUpdate"`
	Items         []*data.InstalledItem `json:"items"`
	PendingDelete []string              `json:"pendingDelete"`
}

func (s *LibrarySnapshot) Clone() *LibrarySnapshot {
	if s == nil {
		return nil
	}
	cp := &LibrarySnapshot{
		DefaultUpdate: s.DefaultUpdate,
		Items:         make([]*data.InstalledItem, 0, len(s.Items)),
		PendingDelete: append([]string(nil), s.PendingDelete...),
	}
	for _, it := range s.Items {
		cp.Items = append(cp.Items, it.Clone())
	}
	return cp
}

type LibraryStore interface {
	// LoadLibrary returns an empty snapshot when nothing was saved yet.
	LoadLibrary(ctx context.Context) (*LibrarySnapshot, error)
	SaveLibrary(ctx context.Context, s *LibrarySnapshot) error
}

type ProfileStore interface {
	// LoadProfile returns an empty profile when nothing was saved yet.
	LoadProfile(ctx context.Context) (*data.Profile, error)
	SaveProfile(ctx context.Context, p *data.Profile) error
}

type Store interface {
	LibraryStore
	ProfileStore
	Close() error
}
