// Package library is the persisted registry of installed mods together with
// the pending-delete and pending-install bookkeeping that makes multi-step
// operations recoverable.
package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/metrics"
	"github.com/tinoosan/modlib/internal/repo"
)

type fsOps interface {
	RemoveAll(string) error
}

type osFS struct{}

func (osFS) RemoveAll(p string) error {
	if _, err := os.Lstat(p); err != nil {
		return err
	}
	return os.RemoveAll(p)
}

// PendingInstall is a finished download whose procedure still has to run.
type PendingInstall interface {
	PendingID() uuid.UUID
}

// Registry owns the installed items. Items, pending deletes and pending
// installs share one mutex, and every mutation is saved before it is
// released.
type Registry struct {
	store  repo.LibraryStore
	root   string
	fs     fsOps
	log    *slog.Logger
	status *StatusBoard

	mu             sync.Mutex
	items          []*data.InstalledItem
	lookup         map[data.ModID]int
	pendingDelete  []string
	pendingInstall []PendingInstall
	defaultUpdate  data.UpdatePolicy
}

type Option func(*Registry)

// WithFS replaces the filesystem used by AttemptDeletions.
func WithFS(fs fsOps) Option { return func(r *Registry) { r.fs = fs } }

// New returns an empty registry rooted at the library directory. Call Load
// to read persisted state.
func New(store repo.LibraryStore, root string, log *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:         store,
		root:          root,
		fs:            osFS{},
		log:           log.With("component", "library"),
		status:        newStatusBoard(),
		defaultUpdate: data.DefaultUpdatePolicy,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Root() string { return r.root }

func (r *Registry) Status() *StatusBoard { return r.status }

// SetStatus records a runtime status for a mod.
func (r *Registry) SetStatus(id data.ModID, s data.ModStatus) { r.status.Set(id, s) }

// Load replaces the in-memory state with the stored snapshot. Items without
// versions are dropped.
func (r *Registry) Load(ctx context.Context) error {
	snap, err := r.store.LoadLibrary(ctx)
	if err != nil {
		return fmt.Errorf("load library: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = r.items[:0]
	for _, it := range snap.Items {
		if it == nil || len(it.Versions) == 0 {
			continue
		}
		r.items = append(r.items, it.Clone())
		r.status.Set(it.ModID, data.StatusInstalled)
	}
	r.lookup = nil
	r.pendingDelete = append([]string(nil), snap.PendingDelete...)
	if snap.DefaultUpdate != "" {
		r.defaultUpdate = snap.DefaultUpdate
	}
	metrics.PendingDeletes.Set(float64(len(r.pendingDelete)))
	r.log.Info("library loaded", "items", len(r.items), "pending_delete", len(r.pendingDelete))
	return nil
}

func (r *Registry) snapshotLocked() *repo.LibrarySnapshot {
	return &repo.LibrarySnapshot{
		DefaultUpdate: r.defaultUpdate,
		Items:         r.items,
		PendingDelete: r.pendingDelete,
	}
}

func (r *Registry) saveLocked(ctx context.Context) error {
	metrics.PendingDeletes.Set(float64(len(r.pendingDelete)))
	if err := r.store.SaveLibrary(ctx, r.snapshotLocked()); err != nil {
		r.log.Error("save library", "err", err)
		return fmt.Errorf("save library: %w", err)
	}
	return nil
}

// indexLocked returns the position of id, rebuilding the lookup when a
// mutation invalidated it.
func (r *Registry) indexLocked(id data.ModID) (int, bool) {
	if r.lookup == nil {
		r.lookup = make(map[data.ModID]int, len(r.items))
		for i, it := range r.items {
			r.lookup[it.ModID] = i
		}
	}
	i, ok := r.lookup[id]
	return i, ok
}

// Get returns a copy of the installed item.
func (r *Registry) Get(id data.ModID) (*data.InstalledItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.indexLocked(id)
	if !ok {
		return nil, false
	}
	return r.items[i].Clone(), true
}

// Items returns copies of every installed item in registry order.
func (r *Registry) Items() []*data.InstalledItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*data.InstalledItem, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, it.Clone())
	}
	return out
}

func (r *Registry) DefaultUpdatePolicy() data.UpdatePolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.defaultUpdate
}

func (r *Registry) SetDefaultUpdatePolicy(ctx context.Context, p data.UpdatePolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultUpdate = p
	return r.saveLocked(ctx)
}

// AddInstall stores item, replacing any item with the same mod id. Its
// latest location is taken off the pending-delete list.
func (r *Registry) AddInstall(ctx context.Context, item *data.InstalledItem) error {
	if item == nil || len(item.Versions) == 0 {
		return fmt.Errorf("%w: installed item without versions", data.ErrBadStatus)
	}
	cp := item.Clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.indexLocked(cp.ModID); ok {
		r.items[i] = cp
	} else {
		r.items = append(r.items, cp)
		r.lookup = nil
	}
	if latest := cp.LatestInstalled(); latest != nil {
		r.unqueueLocked(latest.InstalledLocation)
	}
	r.status.Set(cp.ModID, data.StatusInstalled)
	return r.saveLocked(ctx)
}

// RemoveInstall forgets the item. Its files are left alone.
func (r *Registry) RemoveInstall(ctx context.Context, id data.ModID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.indexLocked(id)
	if !ok {
		return data.ErrNotFound
	}
	r.items = append(r.items[:i], r.items[i+1:]...)
	r.lookup = nil
	r.status.Set(id, data.StatusNotInstalled)
	return r.saveLocked(ctx)
}

// Update applies mutate to the stored item and saves it. The item must keep
// at least one version.
func (r *Registry) Update(ctx context.Context, id data.ModID, mutate func(*data.InstalledItem) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.indexLocked(id)
	if !ok {
		return data.ErrNotFound
	}
	cp := r.items[i].Clone()
	if err := mutate(cp); err != nil {
		return err
	}
	if len(cp.Versions) == 0 {
		return fmt.Errorf("%w: installed item without versions", data.ErrBadStatus)
	}
	cp.ModID = id
	r.items[i] = cp
	return r.saveLocked(ctx)
}

// DeleteAndRemoveInstall queues every version of the item for deletion,
// removes it and tries the deletions right away.
func (r *Registry) DeleteAndRemoveInstall(ctx context.Context, id data.ModID) error {
	r.mu.Lock()
	i, ok := r.indexLocked(id)
	if !ok {
		r.mu.Unlock()
		return data.ErrNotFound
	}
	for _, v := range r.items[i].Versions {
		r.queueLocked(v.InstalledLocation)
	}
	r.items = append(r.items[:i], r.items[i+1:]...)
	r.lookup = nil
	r.status.Set(id, data.StatusNotInstalled)
	err := r.saveLocked(ctx)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = r.AttemptDeletions(ctx)
	return err
}

// QueuePendingInstall records a finished download. A duplicate id is a
// no-op and returns false.
func (r *Registry) QueuePendingInstall(p PendingInstall) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.pendingInstall {
		if q.PendingID() == p.PendingID() {
			return false
		}
	}
	r.pendingInstall = append(r.pendingInstall, p)
	return true
}

func (r *Registry) RemovePendingInstall(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, q := range r.pendingInstall {
		if q.PendingID() == id {
			r.pendingInstall = append(r.pendingInstall[:i], r.pendingInstall[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Registry) PendingInstalls() []PendingInstall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PendingInstall(nil), r.pendingInstall...)
}

func samePath(a, b string) bool {
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}
