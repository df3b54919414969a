// Package archive reads and writes mod containers and extracts generic
// archives that carry mod content.
//
// A container is the 4-byte magic "IROS" followed by a zip body. Patches use
// the same layout; their entries replace or add entries in the target, and an
// optional ".deleted" entry lists paths to remove.
package archive

import (
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tinoosan/modlib/internal/data"
)

// Magic is the signature at offset 0 of every container.
var Magic = [4]byte{'I', 'R', 'O', 'S'}

const (
	Ext             = ".iro"
	PatchExt        = ".irop"
	deletedManifest = ".deleted"
)

var (
	ErrEntryNotFound = errors.New("archive entry not found")
	ErrReadOnly      = errors.New("archive opened read-only")
)

// IsContainer reports whether sig starts with the container magic.
func IsContainer(sig []byte) bool {
	return len(sig) >= len(Magic) && bytes.Equal(sig[:len(Magic)], Magic[:])
}

// ReadSignature returns the first four bytes of the file at p. Shorter
// files return what they have.
func ReadSignature(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, len(Magic))
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// Handle is an open container.
type Handle struct {
	path     string
	writable bool
	f        *os.File
	zr       *zip.Reader
	index    map[string]*zip.File
}

// Open opens the container at p. A file without the magic or with a
// corrupt body yields an error wrapping data.ErrArchiveInvalid.
func Open(p string, writable bool) (*Handle, error) {
	h := &Handle{path: p, writable: writable}
	if err := h.load(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handle) load() error {
	f, err := os.Open(h.path)
	if err != nil {
		return err
	}
	sig := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, sig); err != nil || !IsContainer(sig) {
		f.Close()
		return fmt.Errorf("%w: %s: bad signature", data.ErrArchiveInvalid, filepath.Base(h.path))
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	size := st.Size() - int64(len(Magic))
	zr, err := zip.NewReader(io.NewSectionReader(f, int64(len(Magic)), size), size)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", data.ErrArchiveInvalid, filepath.Base(h.path), err)
	}
	h.f, h.zr = f, zr
	h.index = make(map[string]*zip.File, len(zr.File))
	for _, zf := range zr.File {
		h.index[entryKey(zf.Name)] = zf
	}
	return nil
}

func (h *Handle) Path() string { return h.path }

// CheckValid reads every entry to the end so the zip layer verifies the
// checksums.
func (h *Handle) CheckValid() bool {
	for _, zf := range h.zr.File {
		rc, err := zf.Open()
		if err != nil {
			return false
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return false
		}
	}
	return true
}

// HasFile matches names case-insensitively with either slash style.
func (h *Handle) HasFile(name string) bool {
	_, ok := h.index[entryKey(name)]
	return ok
}

// GetData opens the entry for reading. The caller closes the stream.
func (h *Handle) GetData(name string) (io.ReadCloser, error) {
	zf, ok := h.index[entryKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return zf.Open()
}

// Files lists entry names in stored order.
func (h *Handle) Files() []string {
	out := make([]string, 0, len(h.zr.File))
	for _, zf := range h.zr.File {
		if !strings.HasSuffix(zf.Name, "/") {
			out = append(out, zf.Name)
		}
	}
	return out
}

// ApplyPatch merges patch into h. The merged container is written next to
// the target and renamed over it, so a failure leaves the original intact.
// progress receives values in [0, 1].
func (h *Handle) ApplyPatch(patch *Handle, progress func(float64)) error {
	if !h.writable {
		return ErrReadOnly
	}
	if progress == nil {
		progress = func(float64) {}
	}
	deleted, err := patch.deletedEntries()
	if err != nil {
		return err
	}
	replaced := make(map[string]bool, len(patch.zr.File))
	for _, zf := range patch.zr.File {
		replaced[entryKey(zf.Name)] = true
	}

	tmp := h.path + ".patching"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	cleanup := func() { out.Close(); os.Remove(tmp) }

	if _, err := out.Write(Magic[:]); err != nil {
		cleanup()
		return err
	}
	zw := zip.NewWriter(out)
	total := float64(len(h.zr.File) + len(patch.zr.File))
	done := 0.0
	step := func() {
		done++
		if total > 0 {
			progress(done / total)
		}
	}
	for _, zf := range h.zr.File {
		k := entryKey(zf.Name)
		if !deleted[k] && !replaced[k] {
			if err := zw.Copy(zf); err != nil {
				cleanup()
				return fmt.Errorf("copy %s: %w", zf.Name, err)
			}
		}
		step()
	}
	for _, zf := range patch.zr.File {
		if entryKey(zf.Name) != deletedManifest {
			if err := zw.Copy(zf); err != nil {
				cleanup()
				return fmt.Errorf("apply %s: %w", zf.Name, err)
			}
		}
		step()
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	h.f.Close()
	if err := os.Rename(tmp, h.path); err != nil {
		os.Remove(tmp)
		_ = h.load()
		return err
	}
	progress(1)
	return h.load()
}

func (h *Handle) deletedEntries() (map[string]bool, error) {
	out := map[string]bool{}
	zf, ok := h.index[deletedManifest]
	if !ok {
		return out, nil
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	sc := bufio.NewScanner(rc)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out[entryKey(line)] = true
		}
	}
	return out, sc.Err()
}

func (h *Handle) Close() error {
	if h.f == nil {
		return nil
	}
	err := h.f.Close()
	h.f = nil
	return err
}

// Create writes a container holding files. Names are stored sorted.
func Create(p string, files map[string][]byte) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := f.Write(Magic[:]); err != nil {
		f.Close()
		return err
	}
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	zw := zip.NewWriter(f)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(files[n]); err != nil {
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func entryKey(name string) string {
	n := strings.ReplaceAll(name, "\\", "/")
	n = strings.TrimPrefix(path.Clean("/"+n), "/")
	return strings.ToLower(n)
}
