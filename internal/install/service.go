// Package install plans mod downloads and imports local mods into the
// library.
package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/archive"
	"github.com/tinoosan/modlib/internal/barrier"
	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloadcfg"
	"github.com/tinoosan/modlib/internal/library"
	"github.com/tinoosan/modlib/internal/notify"
	"github.com/tinoosan/modlib/internal/procedure"
	"github.com/tinoosan/modlib/internal/queue"
	"github.com/tinoosan/modlib/internal/reqid"
)

var ErrNoLinks = errors.New("mod has no download links")

// Library is the part of the registry the service needs.
type Library interface {
	Root() string
	Status() *library.StatusBoard
	Get(id data.ModID) (*data.InstalledItem, bool)
	AddInstall(ctx context.Context, item *data.InstalledItem) error
	DeleteAndRemoveInstall(ctx context.Context, id data.ModID) error
	DefaultUpdatePolicy() data.UpdatePolicy
}

type Queue interface {
	Enqueue(ctx context.Context, req *queue.Request) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Invalidator drops cached descriptors for removed install locations.
type Invalidator interface {
	Invalidate(path string)
}

// Deactivator drops an uninstalled mod from the active profile.
type Deactivator interface {
	Deactivate(ctx context.Context, id data.ModID) error
}

type Config struct {
	Collision downloadcfg.CollisionPolicy
}

type Service struct {
	cfg      Config
	lib      Library
	queue    Queue
	profile  Deactivator
	cache    Invalidator
	notifier notify.Notifier
	log      *slog.Logger
}

func NewService(cfg Config, lib Library, q Queue, profile Deactivator, cache Invalidator, n notify.Notifier, log *slog.Logger) *Service {
	if cfg.Collision == "" {
		cfg.Collision = downloadcfg.DefaultCollisionPolicy
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, lib: lib, queue: q, profile: profile, cache: cache, notifier: n, log: log.With("component", "install")}
}

func (s *Service) tempDir() (string, error) {
	dir := filepath.Join(s.lib.Root(), "temp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// DownloadAndInstall queues the downloads that bring mod to its latest
// catalog version and returns their request ids. A mod that is installed
// needs updating set; one already downloading is rejected.
//
// An installed mod is updated with a single bridging patch when the catalog
// has one, otherwise with a full download. A fresh mod whose latest version
// lists patch links is downloaded together with every patch; the patches are
// applied in listed order before the install commits.
func (s *Service) DownloadAndInstall(ctx context.Context, mod data.Mod, updating bool) ([]uuid.UUID, error) {
	ctx = reqid.WithOperation(ctx, uuid.NewString())
	log := reqid.Logger(ctx, s.log).With("mod_id", mod.ID, "mod", mod.Name)

	board := s.lib.Status()
	switch st := board.Get(mod.ID); {
	case st == data.StatusDownloading || st == data.StatusUpdating:
		return nil, fmt.Errorf("%s: %w", mod.Name, data.ErrAlreadyDownloading)
	case st == data.StatusInstalled && !updating:
		return nil, fmt.Errorf("%s: %w", mod.Name, data.ErrDuplicateMod)
	}
	if len(mod.LatestVersion.Links) == 0 {
		return nil, fmt.Errorf("%s: %w", mod.Name, ErrNoLinks)
	}
	temp, err := s.tempDir()
	if err != nil {
		return nil, err
	}

	v := mod.LatestVersion.Version
	file := filepath.Join(temp, data.InstallFileName(mod.ID, mod.Name, v, archive.Ext))
	base := &queue.Request{
		Category: data.CategoryMod,
		Name:     mod.Name,
		Dest:     file,
		Links:    mod.LatestVersion.Links,
		Proc:     &procedure.InstallMod{File: file, Mod: mod},
	}
	var patches []*queue.Request
	var b *barrier.Barrier

	cur := data.StatusDownloading
	installed, ok := s.lib.Get(mod.ID)
	if ok {
		cur = data.StatusUpdating
		if latest := installed.LatestInstalled(); latest != nil {
			if chain := mod.PatchesFromTo(latest.Version.Version, v); len(chain) == 1 {
				pfile := filepath.Join(temp, data.InstallFileName(mod.ID, mod.Name, v, archive.PatchExt))
				base.Dest, base.Links = pfile, chain[0].Links
				base.Proc = &procedure.PatchMod{File: pfile, Mod: mod}
			}
		}
	} else if links := mod.LatestVersion.PatchLinks; len(links) > 0 {
		b = barrier.New(len(links))
		base.Proc = &procedure.DownloadThenPatch{File: file, Mod: mod, Barrier: b}
		for i, link := range links {
			pfile := filepath.Join(temp, data.InstallFileName(mod.ID, mod.Name, v, fmt.Sprintf("_patch%d%s", i, archive.PatchExt)))
			b.AddFile(pfile)
			patches = append(patches, &queue.Request{
				Category: data.CategoryMod,
				Name:     fmt.Sprintf("%s patch %d", mod.Name, i),
				Dest:     pfile,
				Links:    []string{link},
				Proc:     &procedure.DownloadPatchOnly{File: pfile, Barrier: b},
			})
		}
	}

	reqs := append([]*queue.Request{base}, patches...)
	for _, r := range reqs {
		r.ID = uuid.New()
	}
	prev := board.Set(mod.ID, cur)
	revert := func() {
		if board.Revert(mod.ID, cur, prev) {
			log.Info("status reverted", "status", prev)
		}
	}
	// Hooks run on the queue's event loop or a pool worker, so sibling
	// cancels must not block them.
	bg := context.WithoutCancel(ctx)
	abandon := func(self *queue.Request) {
		if b == nil {
			return
		}
		b.SignalFailed()
		var others []uuid.UUID
		for _, r := range reqs {
			if r != self {
				others = append(others, r.ID)
			}
		}
		go s.cancelAll(bg, log, others)
	}
	base.OnCancel = func() {
		abandon(base)
		revert()
	}
	base.OnError = func(err error) {
		log.Error("download and install failed", "err", err)
		abandon(base)
		revert()
	}
	for _, p := range patches {
		p.OnCancel = func() {
			abandon(p)
			revert()
		}
		p.OnError = func(err error) {
			log.Error("patch download failed", "file", filepath.Base(p.Dest), "err", err)
			abandon(p)
			revert()
		}
	}

	ids := make([]uuid.UUID, 0, len(reqs))
	rollback := func() {
		if b != nil {
			b.SignalFailed()
		}
		s.cancelAll(bg, log, ids)
		revert()
	}
	for _, r := range reqs {
		ok, err := s.queue.Enqueue(ctx, r)
		if ok {
			ids = append(ids, r.ID)
		}
		if err != nil {
			rollback()
			return nil, err
		}
		if !ok {
			rollback()
			return nil, fmt.Errorf("%s: %w", mod.Name, data.ErrAlreadyDownloading)
		}
	}
	// A sibling that failed before the rest were queued could not cancel them.
	if b != nil && b.Remaining() == barrier.Failed {
		s.cancelAll(bg, log, ids)
	}
	log.Info("download queued", "kind", base.Proc.Kind(), "requests", len(ids), "status", cur)
	return ids, nil
}

// Uninstall removes the mod from the profile and the library. Its files are
// deleted now or, when locked, on a later deletion attempt.
func (s *Service) Uninstall(ctx context.Context, id data.ModID) error {
	log := reqid.Logger(ctx, s.log).With("mod_id", id)
	item, ok := s.lib.Get(id)
	if !ok {
		return data.ErrNotFound
	}
	if s.profile != nil {
		if err := s.profile.Deactivate(ctx, id); err != nil {
			return err
		}
	}
	if err := s.lib.DeleteAndRemoveInstall(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		for _, v := range item.Versions {
			s.cache.Invalidate(filepath.Join(s.lib.Root(), v.InstalledLocation))
		}
	}
	log.Info("mod uninstalled", "versions", len(item.Versions))
	return nil
}

// cancelAll cancels each request still in the queue.
func (s *Service) cancelAll(ctx context.Context, log *slog.Logger, ids []uuid.UUID) {
	for _, id := range ids {
		if err := s.queue.Cancel(ctx, id); err != nil && !errors.Is(err, data.ErrNotFound) {
			log.Warn("cancel sibling download", "id", id, "err", err)
		}
	}
}
