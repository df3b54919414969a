package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// NormalizeLink trims surrounding whitespace.
func NormalizeLink(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeDest trims whitespace and cleans the path. Paths are not
// lowercased.
func NormalizeDest(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	return filepath.Clean(p)
}

// Fingerprint is a hex SHA-256 over the destination and the ordered links.
// Two requests fetching the same mirrors to the same file share it.
func Fingerprint(dest string, links ...string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeDest(dest)))
	for _, l := range links {
		h.Write([]byte{0})
		h.Write([]byte(NormalizeLink(l)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
