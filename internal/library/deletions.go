package library

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
)

// QueuePendingDelete schedules paths for deletion. Relative paths are
// resolved against the library root when deleted.
func (r *Registry) QueuePendingDelete(ctx context.Context, paths ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, p := range paths {
		if p == "" {
			continue
		}
		if r.queueLocked(p) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.saveLocked(ctx)
}

func (r *Registry) PendingDeletes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.pendingDelete...)
}

func (r *Registry) queueLocked(p string) bool {
	for _, q := range r.pendingDelete {
		if samePath(q, p) {
			return false
		}
	}
	r.pendingDelete = append(r.pendingDelete, p)
	return true
}

func (r *Registry) unqueueLocked(p string) {
	abs := r.abs(p)
	kept := r.pendingDelete[:0]
	for _, q := range r.pendingDelete {
		if samePath(q, p) || samePath(r.abs(q), abs) {
			continue
		}
		kept = append(kept, q)
	}
	r.pendingDelete = kept
}

func (r *Registry) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(r.root, p)
}

// AttemptDeletions deletes what it can from the pending list. Files that
// cannot be removed, typically because the game holds them open, stay queued
// for the next attempt. The registry is saved only when the list changed.
func (r *Registry) AttemptDeletions(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for i := len(r.pendingDelete) - 1; i >= 0; i-- {
		p := r.pendingDelete[i]
		err := r.fs.RemoveAll(r.abs(p))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn("deferred delete failed", "path", p, "err", err)
			continue
		}
		r.pendingDelete = append(r.pendingDelete[:i], r.pendingDelete[i+1:]...)
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}
	r.log.Info("pending files deleted", "deleted", deleted, "remaining", len(r.pendingDelete))
	return deleted, r.saveLocked(ctx)
}
