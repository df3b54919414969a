// Package downloadcfg holds the policies that decide where a finished
// artifact lands in the library.
package downloadcfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CollisionPolicy defines how to handle an existing library entry with the
// name an install wants. Values: "overwrite" | "rename" | "error".
type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
	CollisionError     CollisionPolicy = "error"

	DefaultCollisionPolicy = CollisionOverwrite
)

// ErrCollision is returned under CollisionError when the target exists.
var ErrCollision = errors.New("install target already exists")

// ParseCollisionPolicy converts a string to a CollisionPolicy. Empty input
// yields the default.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch p := CollisionPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultCollisionPolicy, nil
	case CollisionOverwrite, CollisionRename, CollisionError:
		return p, nil
	}
	return "", fmt.Errorf("unknown collision policy %q", s)
}

// Resolve returns the name to write under dir. Overwrite removes whatever
// is there, rename picks the first free "name (n).ext", error refuses.
// A name equal to keep is never treated as a collision.
func (p CollisionPolicy) Resolve(dir, name, keep string) (string, error) {
	target := filepath.Join(dir, name)
	if keep != "" && strings.EqualFold(filepath.Clean(keep), filepath.Clean(target)) {
		return name, nil
	}
	if _, err := os.Lstat(target); errors.Is(err, fs.ErrNotExist) {
		return name, nil
	} else if err != nil {
		return "", err
	}
	switch p {
	case CollisionError:
		return "", fmt.Errorf("%w: %s", ErrCollision, name)
	case CollisionRename:
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		for n := 1; ; n++ {
			cand := fmt.Sprintf("%s (%d)%s", base, n, ext)
			if _, err := os.Lstat(filepath.Join(dir, cand)); errors.Is(err, fs.ErrNotExist) {
				return cand, nil
			}
		}
	default:
		if err := os.RemoveAll(target); err != nil {
			return "", err
		}
		return name, nil
	}
}
