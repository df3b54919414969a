package procedure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloadcfg"
	"github.com/tinoosan/modlib/internal/metrics"
	"github.com/tinoosan/modlib/internal/modinfo"
	"github.com/tinoosan/modlib/internal/notify"
	"github.com/tinoosan/modlib/internal/scheduler"
)

// Registry is the part of the library the executor commits into.
type Registry interface {
	Get(id data.ModID) (*data.InstalledItem, bool)
	AddInstall(ctx context.Context, item *data.InstalledItem) error
	Update(ctx context.Context, id data.ModID, mutate func(*data.InstalledItem) error) error
	QueuePendingDelete(ctx context.Context, paths ...string) error
	AttemptDeletions(ctx context.Context) (int, error)
	DefaultUpdatePolicy() data.UpdatePolicy
	SetStatus(id data.ModID, s data.ModStatus)
}

type Config struct {
	// Root is the library directory installed locations are relative to.
	Root string
	// KeepOldVersions retains superseded version files after an install.
	KeepOldVersions bool
	Collision       downloadcfg.CollisionPolicy
}

type Executor struct {
	cfg      Config
	reg      Registry
	cache    *modinfo.Cache
	notifier notify.Notifier
	log      *slog.Logger
}

func NewExecutor(cfg Config, reg Registry, cache *modinfo.Cache, n notify.Notifier, log *slog.Logger) *Executor {
	if cfg.Collision == "" {
		cfg.Collision = downloadcfg.DefaultCollisionPolicy
	}
	return &Executor{cfg: cfg, reg: reg, cache: cache, notifier: n, log: log.With("component", "procedure")}
}

func (e *Executor) abs(loc string) string {
	if filepath.IsAbs(loc) {
		return loc
	}
	return filepath.Join(e.cfg.Root, loc)
}

// Schedule does the file work for p. It may block, so callers run it on a
// worker. progress receives non-decreasing percentages and reaches 100 on
// success. Panics come back as *scheduler.PanicError.
func (e *Executor) Schedule(ctx context.Context, p Procedure, progress func(float64)) (Result, error) {
	pr := newProgress(progress)
	var res Result
	err := scheduler.Safely(func() error {
		var err error
		switch p := p.(type) {
		case *InstallMod:
			res, err = e.installMod(ctx, p, pr)
		case *PatchMod:
			res, err = e.patchMod(ctx, p, pr)
		case *DownloadThenPatch:
			res, err = e.downloadThenPatch(ctx, p, pr)
		case *DownloadPatchOnly:
			p.Barrier.SignalReady()
		case *Callback:
		default:
			err = fmt.Errorf("unknown procedure %T", p)
		}
		return err
	})
	if err != nil {
		return Result{}, err
	}
	pr.done()
	return res, nil
}

// Commit records o. It returns nil only when the procedure completed; on
// any failure the mod's status is reverted and the user notified before the
// cause is returned.
func (e *Executor) Commit(ctx context.Context, p Procedure, o Outcome) error {
	if o.Err != nil {
		e.failed(ctx, p, o)
		metrics.ProcedureOutcomes.WithLabelValues(p.Kind(), "error").Inc()
		return o.Err
	}
	if err := scheduler.Safely(func() error { return e.commit(ctx, p, o) }); err != nil {
		if _, ok := p.(*Callback); !ok {
			e.failed(ctx, p, Outcome{Err: err})
		}
		metrics.ProcedureOutcomes.WithLabelValues(p.Kind(), "error").Inc()
		return err
	}
	metrics.ProcedureOutcomes.WithLabelValues(p.Kind(), "complete").Inc()
	return nil
}

func (e *Executor) commit(ctx context.Context, p Procedure, o Outcome) error {
	switch p := p.(type) {
	case *InstallMod, *DownloadThenPatch:
		return e.commitInstall(ctx, o.Result)
	case *PatchMod:
		return e.commitPatch(ctx, p.Mod.ID, o.Result)
	case *DownloadPatchOnly:
		return nil
	case *Callback:
		if p.Fn == nil {
			return nil
		}
		return p.Fn(ctx, o)
	}
	return fmt.Errorf("unknown procedure %T", p)
}

func (e *Executor) failed(ctx context.Context, p Procedure, o Outcome) {
	switch p := p.(type) {
	case *DownloadPatchOnly:
		p.Barrier.SignalFailed()
		return
	case *Callback:
		if p.Fn != nil {
			if err := p.Fn(ctx, o); err != nil {
				e.log.Warn("callback failed", "err", err)
			}
		}
		return
	case *DownloadThenPatch:
		if err := e.reg.QueuePendingDelete(ctx, append([]string{p.File}, p.Barrier.Files()...)...); err != nil {
			e.log.Warn("queue failed download for deletion", "err", err)
		}
		e.cleanup(ctx)
	}
	mod, _ := Target(p)
	status := data.StatusNotInstalled
	if _, ok := e.reg.Get(mod.ID); ok {
		status = data.StatusInstalled
	}
	e.reg.SetStatus(mod.ID, status)
	e.log.Error("install failed", "mod_id", mod.ID, "kind", p.Kind(), "err", o.Err)
	if e.notifier != nil {
		e.notifier.Notify(ctx, notify.Message{
			Level: notify.LevelError,
			Text:  fmt.Sprintf("Failed to install %s: %s", mod.Name, describeErr(o.Err)),
			Err:   o.Err,
		})
	}
}

func describeErr(err error) string {
	switch {
	case errors.Is(err, data.ErrPatchBarrier):
		return data.ErrPatchBarrier.Error()
	case errors.Is(err, data.ErrTransport):
		return data.ErrTransport.Error()
	case errors.Is(err, data.ErrArchiveInvalid):
		return data.ErrArchiveInvalid.Error()
	}
	return err.Error()
}

// describe overlays the descriptor found at path onto mod. The catalog id
// wins when one is set.
func (e *Executor) describe(ctx context.Context, mod data.Mod, path string) data.Mod {
	e.cache.Invalidate(path)
	info := e.cache.Lookup(ctx, &data.InstalledItem{
		ModID:    mod.ID,
		Cached:   mod,
		Versions: []*data.InstalledVersion{{Version: mod.LatestVersion, InstalledLocation: path}},
	})
	if info == nil {
		return mod
	}
	out := info.ToMod(mod)
	if mod.ID != data.NilModID {
		out.ID = mod.ID
	}
	return out
}
