package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/archive"
	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/modinfo"
	"github.com/tinoosan/modlib/internal/notify"
	"github.com/tinoosan/modlib/internal/reqid"
)

// DefaultImportVersion is given to imported mods without a descriptor.
const DefaultImportVersion data.Version = "1.0"

// identify derives the mod a local container or folder holds. Without a
// descriptor the identity is derived from the file or folder name, so
// importing the same source twice is caught as a duplicate.
func identify(path string, dir bool) (data.Mod, error) {
	name := filepath.Base(path)
	if !dir {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	fallback := data.Mod{
		ID:            uuid.NewSHA1(uuid.NameSpaceURL, []byte("modlib:import:"+strings.ToLower(name))),
		Name:          name,
		LatestVersion: data.ModVersion{Version: DefaultImportVersion},
	}
	info, err := modinfo.Parse(path)
	switch {
	case errors.Is(err, modinfo.ErrNoDescriptor):
		return fallback, nil
	case err != nil:
		return data.Mod{}, err
	}
	mod := info.ToMod(fallback)
	if mod.LatestVersion.Version == "" {
		mod.LatestVersion.Version = DefaultImportVersion
	}
	return mod, nil
}

// Import copies a container file or a mod folder into the library. A mod
// identity the library already holds is rejected before anything is copied.
func (s *Service) Import(ctx context.Context, path string) (*data.InstalledItem, error) {
	ctx = reqid.WithOperation(ctx, uuid.NewString())
	log := reqid.Logger(ctx, s.log).With("source", path)

	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", data.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		sig, err := archive.ReadSignature(path)
		if err != nil {
			return nil, err
		}
		if !archive.IsContainer(sig) {
			return nil, fmt.Errorf("%w: %s is not a mod container", data.ErrArchiveInvalid, filepath.Base(path))
		}
	}
	mod, err := identify(path, st.IsDir())
	if err != nil {
		return nil, err
	}
	if _, ok := s.lib.Get(mod.ID); ok {
		return nil, fmt.Errorf("%s: %w", mod.Name, data.ErrDuplicateMod)
	}
	if cur := s.lib.Status().Get(mod.ID); cur == data.StatusDownloading || cur == data.StatusUpdating {
		return nil, fmt.Errorf("%s: %w", mod.Name, data.ErrAlreadyDownloading)
	}

	suffix := archive.Ext
	if st.IsDir() {
		suffix = ""
	}
	root := s.lib.Root()
	name, err := s.cfg.Collision.Resolve(root, data.InstallFileName(mod.ID, mod.Name, mod.LatestVersion.Version, suffix), "")
	if err != nil {
		return nil, err
	}
	target := filepath.Join(root, name)
	if st.IsDir() {
		err = copyTree(path, target)
	} else {
		err = copyFile(path, target)
	}
	if err != nil {
		_ = os.RemoveAll(target)
		return nil, fmt.Errorf("copy %s: %w", filepath.Base(path), err)
	}

	item := &data.InstalledItem{
		ModID:        mod.ID,
		Cached:       mod,
		UpdatePolicy: s.lib.DefaultUpdatePolicy(),
		Versions: []*data.InstalledVersion{{
			Version:           mod.LatestVersion,
			InstalledLocation: name,
		}},
	}
	if err := s.lib.AddInstall(ctx, item); err != nil {
		_ = os.RemoveAll(target)
		return nil, err
	}
	log.Info("mod imported", "mod_id", mod.ID, "mod", mod.Name, "location", name)
	if s.notifier != nil {
		s.notifier.Notify(ctx, notify.Message{Level: notify.LevelInfo, Text: fmt.Sprintf("Imported %s", mod.Name)})
	}
	return item, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
}
