package library

import (
	"sync"

	"github.com/tinoosan/modlib/internal/data"
)

// StatusBoard holds the runtime status of every known mod. It is never
// persisted; Load seeds it from the installed items.
type StatusBoard struct {
	mu sync.RWMutex
	m  map[data.ModID]data.ModStatus
}

func newStatusBoard() *StatusBoard {
	return &StatusBoard{m: make(map[data.ModID]data.ModStatus)}
}

// Get returns NotInstalled for unknown mods.
func (b *StatusBoard) Get(id data.ModID) data.ModStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.m[id]; ok {
		return s
	}
	return data.StatusNotInstalled
}

// Set stores s and returns the status it replaced.
func (b *StatusBoard) Set(id data.ModID, s data.ModStatus) data.ModStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, ok := b.m[id]
	if !ok {
		prev = data.StatusNotInstalled
	}
	if s == data.StatusNotInstalled {
		delete(b.m, id)
	} else {
		b.m[id] = s
	}
	return prev
}

// Revert restores prev only while the status is still the one an operation
// set, so a later transition is not clobbered.
func (b *StatusBoard) Revert(id data.ModID, current, prev data.ModStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	got, ok := b.m[id]
	if !ok {
		got = data.StatusNotInstalled
	}
	if got != current {
		return false
	}
	if prev == data.StatusNotInstalled {
		delete(b.m, id)
	} else {
		b.m[id] = prev
	}
	return true
}

// Snapshot copies every non-default status.
func (b *StatusBoard) Snapshot() map[data.ModID]data.ModStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[data.ModID]data.ModStatus, len(b.m))
	for k, v := range b.m {
		out[k] = v
	}
	return out
}
