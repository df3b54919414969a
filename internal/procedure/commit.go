package procedure

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/notify"
)

// commitInstall adds res as the newest version of its mod. Without version
// retention every older version file is queued for deletion, except one
// sharing the new location.
func (e *Executor) commitInstall(ctx context.Context, res Result) error {
	v := &data.InstalledVersion{Version: res.Mod.LatestVersion, InstalledLocation: res.Location}
	item, ok := e.reg.Get(res.Mod.ID)
	var stale []string
	if !ok {
		item = &data.InstalledItem{
			ModID:        res.Mod.ID,
			UpdatePolicy: e.reg.DefaultUpdatePolicy(),
		}
	} else {
		kept := item.Versions[:0]
		for _, old := range item.Versions {
			switch {
			case samePath(old.InstalledLocation, res.Location):
			case e.cfg.KeepOldVersions:
				kept = append(kept, old)
			default:
				stale = append(stale, old.InstalledLocation)
			}
		}
		item.Versions = kept
	}
	item.Cached = res.Mod
	item.Versions = append(item.Versions, v)

	if err := e.reg.QueuePendingDelete(ctx, append(stale, res.Consumed...)...); err != nil {
		return err
	}
	if err := e.reg.AddInstall(ctx, item); err != nil {
		return err
	}
	for _, s := range stale {
		e.cache.Invalidate(s)
	}
	e.cleanup(ctx)
	e.installed(ctx, res.Mod)
	return nil
}

// commitPatch rewrites the latest version slot in place.
func (e *Executor) commitPatch(ctx context.Context, id data.ModID, res Result) error {
	err := e.reg.Update(ctx, id, func(it *data.InstalledItem) error {
		latest := it.LatestInstalled()
		if latest == nil {
			return fmt.Errorf("%w: no installed version", data.ErrNotFound)
		}
		latest.Version = res.Mod.LatestVersion
		it.Cached = res.Mod
		return nil
	})
	if err != nil {
		return err
	}
	e.reg.SetStatus(id, data.StatusInstalled)
	if err := e.reg.QueuePendingDelete(ctx, res.Consumed...); err != nil {
		return err
	}
	e.cleanup(ctx)
	e.installed(ctx, res.Mod)
	return nil
}

func (e *Executor) cleanup(ctx context.Context) {
	if _, err := e.reg.AttemptDeletions(ctx); err != nil {
		e.log.Warn("attempt deletions", "err", err)
	}
}

func (e *Executor) installed(ctx context.Context, mod data.Mod) {
	e.log.Info("mod installed", "mod_id", mod.ID, "version", mod.LatestVersion.Version)
	if e.notifier != nil {
		e.notifier.Notify(ctx, notify.Message{
			Level: notify.LevelInfo,
			Text:  fmt.Sprintf("Installed %s %s", mod.Name, mod.LatestVersion.Version),
		})
	}
}

func samePath(a, b string) bool {
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}
