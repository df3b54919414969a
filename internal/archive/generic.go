package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/tinoosan/modlib/internal/data"
)

type Kind int

const (
	KindZip Kind = iota + 1
	KindTarGzip
	KindTarZstd
)

var (
	sigZip      = []byte("PK\x03\x04")
	sigZipEmpty = []byte("PK\x05\x06")
	sigGzip     = []byte{0x1f, 0x8b}
	sigZstd     = []byte{0x28, 0xb5, 0x2f, 0xfd}

	ErrUnsafePath = errors.New("archive entry escapes destination")
)

// DetectKind classifies a generic archive by its leading bytes.
func DetectKind(sig []byte) (Kind, bool) {
	switch {
	case bytes.HasPrefix(sig, sigZip), bytes.HasPrefix(sig, sigZipEmpty):
		return KindZip, true
	case bytes.HasPrefix(sig, sigGzip):
		return KindTarGzip, true
	case bytes.HasPrefix(sig, sigZstd):
		return KindTarZstd, true
	}
	return 0, false
}

type Entry struct {
	Name string
	Dir  bool
	Size int64
}

// Generic is a zip, tar.gz or tar.zst archive. Tar streams are re-read for
// each pass.
type Generic struct {
	path    string
	kind    Kind
	entries []Entry
}

func OpenGeneric(p string) (*Generic, error) {
	sig, err := ReadSignature(p)
	if err != nil {
		return nil, err
	}
	kind, ok := DetectKind(sig)
	if !ok {
		return nil, fmt.Errorf("%w: %s: unrecognised archive format", data.ErrArchiveInvalid, filepath.Base(p))
	}
	g := &Generic{path: p, kind: kind}
	err = g.walk(func(e Entry, _ io.Reader) error {
		g.entries = append(g.entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", data.ErrArchiveInvalid, filepath.Base(p), err)
	}
	return g, nil
}

func (g *Generic) Kind() Kind { return g.kind }
func (g *Generic) Entries() []Entry { return g.entries }

// FindContainer returns the first member that is itself a container.
func (g *Generic) FindContainer() (Entry, bool) {
	for _, e := range g.entries {
		if !e.Dir && strings.EqualFold(path.Ext(e.Name), Ext) {
			return e, true
		}
	}
	return Entry{}, false
}

// ExtractEntry writes the single member name to dest.
func (g *Generic) ExtractEntry(name, dest string) error {
	found := false
	err := g.walk(func(e Entry, r io.Reader) error {
		if found || e.Dir || e.Name != name {
			return nil
		}
		found = true
		return writeFile(dest, r)
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return nil
}

// ExtractAll writes every member under destDir. When subFolder is set only
// members below it are written, with that prefix removed; the match is
// case-insensitive. progress receives values in [0, 1].
func (g *Generic) ExtractAll(destDir, subFolder string, progress func(float64)) error {
	if progress == nil {
		progress = func(float64) {}
	}
	prefix := ""
	if s := cleanEntry(subFolder); s != "" && s != "." {
		prefix = s + "/"
	}
	total := float64(len(g.entries))
	done := 0.0
	return g.walk(func(e Entry, r io.Reader) error {
		defer func() {
			done++
			if total > 0 {
				progress(done / total)
			}
		}()
		name := cleanEntry(e.Name)
		if prefix != "" {
			if len(name) < len(prefix) || !strings.EqualFold(name[:len(prefix)], prefix) {
				return nil
			}
			name = name[len(prefix):]
		}
		if name == "" || name == "." {
			return nil
		}
		target, err := safeJoin(destDir, name)
		if err != nil {
			return err
		}
		if e.Dir {
			return os.MkdirAll(target, 0o755)
		}
		return writeFile(target, r)
	})
}

func (g *Generic) walk(fn func(Entry, io.Reader) error) error {
	if g.kind == KindZip {
		zr, err := zip.OpenReader(g.path)
		if err != nil {
			return err
		}
		defer zr.Close()
		for _, zf := range zr.File {
			e := Entry{Name: zf.Name, Dir: zf.FileInfo().IsDir(), Size: int64(zf.UncompressedSize64)}
			if e.Dir {
				if err := fn(e, nil); err != nil {
					return err
				}
				continue
			}
			rc, err := zf.Open()
			if err != nil {
				return err
			}
			err = fn(e, rc)
			rc.Close()
			if err != nil {
				return err
			}
		}
		return nil
	}

	f, err := os.Open(g.path)
	if err != nil {
		return err
	}
	defer f.Close()
	var stream io.Reader
	switch g.kind {
	case KindTarGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		stream = gz
	case KindTarZstd:
		zd, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zd.Close()
		stream = zd
	}
	tr := tar.NewReader(stream)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fn(Entry{Name: hdr.Name, Dir: true}, nil); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := fn(Entry{Name: hdr.Name, Size: hdr.Size}, tr); err != nil {
				return err
			}
		}
	}
}

func cleanEntry(name string) string {
	n := strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+n), "/")
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func writeFile(dest string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
