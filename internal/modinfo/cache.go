package modinfo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/notify"
)

// Cache memoises parsed descriptors by artifact path. Entries stay until
// Invalidate is called for their path; an install or patch that rewrites an
// artifact must invalidate it.
type Cache struct {
	mu       sync.Mutex
	root     string
	entries  map[string]*Info
	parse    func(string) (*Info, error)
	notifier notify.Notifier
	log      *slog.Logger
}

// NewCache returns a cache resolving installed locations against root.
func NewCache(root string, n notify.Notifier, log *slog.Logger) *Cache {
	return &Cache{
		root:     root,
		entries:  make(map[string]*Info),
		parse:    Parse,
		notifier: n,
		log:      log.With("component", "modinfo"),
	}
}

func (c *Cache) key(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.root, path)
	}
	return filepath.Clean(path)
}

// Get returns the descriptor for path, parsing it on first use. Failures are
// not cached.
func (c *Cache) Get(path string) (*Info, error) {
	k := c.key(path)
	c.mu.Lock()
	if info, ok := c.entries[k]; ok {
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	info, err := c.parse(k)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[k] = info
	c.mu.Unlock()
	return info, nil
}

func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, c.key(path))
	c.mu.Unlock()
}

// Lookup returns the descriptor of an item's latest installed version, or
// nil when it cannot be read. A missing variable produces a user warning;
// other failures are only logged.
func (c *Cache) Lookup(ctx context.Context, item *data.InstalledItem) *Info {
	if item == nil {
		return nil
	}
	latest := item.LatestInstalled()
	if latest == nil {
		return nil
	}
	info, err := c.Get(latest.InstalledLocation)
	if err == nil {
		return info
	}
	var missing *MissingVariableError
	switch {
	case errors.As(err, &missing):
		if c.notifier != nil {
			c.notifier.Notify(ctx, notify.Message{
				Level: notify.LevelWarning,
				Text:  fmt.Sprintf("%s: %s", item.Cached.Name, missing.Error()),
				Err:   err,
			})
		}
	case errors.Is(err, ErrNoDescriptor):
		c.log.Debug("no descriptor", "mod_id", item.ModID, "location", latest.InstalledLocation)
	default:
		c.log.Error("read mod metadata", "mod_id", item.ModID, "location", latest.InstalledLocation, "err", err)
	}
	return nil
}
