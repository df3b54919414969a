package procedure

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tinoosan/modlib/internal/archive"
	"github.com/tinoosan/modlib/internal/data"
)

func (e *Executor) installMod(ctx context.Context, p *InstallMod, pr *progress) (Result, error) {
	sig, err := archive.ReadSignature(p.File)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", data.ErrArchiveInvalid, err)
	}
	var loc string
	consumed := []string{}
	if archive.IsContainer(sig) {
		loc, err = e.placeContainer(p.File, p.Mod, pr)
	} else {
		var g *archive.Generic
		g, err = archive.OpenGeneric(p.File)
		if err != nil {
			return Result{}, err
		}
		consumed = append(consumed, p.File)
		if entry, ok := g.FindContainer(); ok {
			inner := p.File + archive.Ext
			if err := g.ExtractEntry(entry.Name, inner); err != nil {
				_ = os.Remove(inner)
				return Result{}, fmt.Errorf("extract %s: %w", entry.Name, err)
			}
			pr.set(40)
			loc, err = e.placeContainer(inner, p.Mod, pr)
			if err != nil {
				_ = os.Remove(inner)
			}
		} else {
			loc, err = e.extractFolder(g, p.Mod, pr)
		}
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Mod: e.describe(ctx, p.Mod, loc), Location: loc, Consumed: consumed}, nil
}

// placeContainer validates src and moves it into the library under its
// deterministic name.
func (e *Executor) placeContainer(src string, mod data.Mod, pr *progress) (string, error) {
	if err := validContainer(src); err != nil {
		return "", err
	}
	pr.set(50)
	name, err := e.targetName(mod, data.InstallFileName(mod.ID, mod.Name, mod.LatestVersion.Version, archive.Ext))
	if err != nil {
		return "", err
	}
	if err := moveFile(src, e.abs(name)); err != nil {
		return "", err
	}
	pr.set(90)
	return name, nil
}

// extractFolder extracts the whole archive into a directory named after
// the mod, honouring the sub-folder filter and relocation hints.
func (e *Executor) extractFolder(g *archive.Generic, mod data.Mod, pr *progress) (string, error) {
	name, err := e.targetName(mod, data.InstallFileName(mod.ID, mod.Name, mod.LatestVersion.Version, ""))
	if err != nil {
		return "", err
	}
	// Extract beside the target so a failure never touches a live version.
	dir := e.abs(name)
	stage := dir + ".partial"
	if err := os.RemoveAll(stage); err != nil {
		return "", err
	}
	dest := stage
	if into := mod.LatestVersion.ExtractInto; into != "" {
		dest = filepath.Join(stage, filepath.FromSlash(into))
	}
	err = os.MkdirAll(dest, 0o755)
	if err == nil {
		err = g.ExtractAll(dest, mod.LatestVersion.ExtractSubFolder, pr.span(0, 90))
	}
	if err == nil {
		err = os.RemoveAll(dir)
	}
	if err == nil {
		err = os.Rename(stage, dir)
	}
	if err != nil {
		_ = os.RemoveAll(stage)
		return "", err
	}
	return name, nil
}

// targetName applies the collision policy. The mod's own latest location is
// never a collision.
func (e *Executor) targetName(mod data.Mod, name string) (string, error) {
	keep := ""
	if it, ok := e.reg.Get(mod.ID); ok {
		if latest := it.LatestInstalled(); latest != nil {
			keep = e.abs(latest.InstalledLocation)
		}
	}
	return e.cfg.Collision.Resolve(e.cfg.Root, name, keep)
}

func (e *Executor) patchMod(ctx context.Context, p *PatchMod, pr *progress) (Result, error) {
	item, ok := e.reg.Get(p.Mod.ID)
	if !ok {
		return Result{}, fmt.Errorf("patch %s: %w", p.Mod.Name, data.ErrNotFound)
	}
	latest := item.LatestInstalled()
	h, err := archive.Open(e.abs(latest.InstalledLocation), true)
	if err != nil {
		return Result{}, err
	}
	defer h.Close()
	patch, err := archive.Open(p.File, false)
	if err != nil {
		return Result{}, err
	}
	defer patch.Close()
	if !patch.CheckValid() {
		return Result{}, fmt.Errorf("%w: %s", data.ErrArchiveInvalid, filepath.Base(p.File))
	}
	if err := h.ApplyPatch(patch, pr.span(0, 95)); err != nil {
		return Result{}, fmt.Errorf("apply patch: %w", err)
	}
	return Result{
		Mod:      e.describe(ctx, p.Mod, latest.InstalledLocation),
		Location: latest.InstalledLocation,
		Consumed: []string{p.File},
	}, nil
}

func (e *Executor) downloadThenPatch(ctx context.Context, p *DownloadThenPatch, pr *progress) (Result, error) {
	h, err := archive.Open(p.File, true)
	if err != nil {
		return Result{}, err
	}
	if !h.CheckValid() {
		h.Close()
		return Result{}, fmt.Errorf("%w: %s", data.ErrArchiveInvalid, filepath.Base(p.File))
	}
	pr.set(5)
	if !p.Barrier.WaitForAll(ctx) {
		h.Close()
		return Result{}, data.ErrPatchBarrier
	}
	files := p.Barrier.Files()
	n := float64(len(files))
	for i, f := range files {
		if err := applyOne(h, f, pr.span(5+85*float64(i)/n, 5+85*float64(i+1)/n)); err != nil {
			h.Close()
			return Result{}, fmt.Errorf("apply %s: %w", filepath.Base(f), err)
		}
	}
	if err := h.Close(); err != nil {
		return Result{}, err
	}

	mod := e.describe(ctx, p.Mod, p.File)
	e.cache.Invalidate(p.File)
	name, err := e.targetName(mod, data.InstallFileName(mod.ID, mod.Name, mod.LatestVersion.Version, archive.Ext))
	if err != nil {
		return Result{}, err
	}
	if err := moveFile(p.File, e.abs(name)); err != nil {
		return Result{}, err
	}
	pr.set(95)
	return Result{Mod: mod, Location: name, Consumed: files}, nil
}

func applyOne(h *archive.Handle, file string, progress func(float64)) error {
	ph, err := archive.Open(file, false)
	if err != nil {
		return err
	}
	defer ph.Close()
	if !ph.CheckValid() {
		return data.ErrArchiveInvalid
	}
	return h.ApplyPatch(ph, progress)
}

func validContainer(p string) error {
	h, err := archive.Open(p, false)
	if err != nil {
		return err
	}
	ok := h.CheckValid()
	h.Close()
	if !ok {
		return fmt.Errorf("%w: %s", data.ErrArchiveInvalid, filepath.Base(p))
	}
	return nil
}

// moveFile renames src to dst, copying when they sit on different volumes.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".moving"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	in.Close()
	return os.Remove(src)
}
