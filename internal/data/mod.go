package data

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ModID is the stable identity of a mod across versions.
type ModID = uuid.UUID

// NilModID is the zero identity, used before a descriptor supplies one.
var NilModID = uuid.Nil

// Mod is the catalog entry for a mod: what can be downloaded, not what is
// installed.
type Mod struct {
	ID            ModID      `json:"id"`
	Name          string     `json:"name"`
	Author        string     `json:"author,omitempty"`
	Description   string     `json:"description,omitempty"`
	LatestVersion ModVersion `json:"latestVersion"`
	Patches       []ModPatch `json:"patches,omitempty"`
}

type ModVersion struct {
	Version          Version  `json:"version"`
	Links            []string `json:"links,omitempty"`
	PatchLinks       []string `json:"patchLinks,omitempty"`
	ExtractSubFolder string   `json:"extractSubFolder,omitempty"`
	ExtractInto      string   `json:"extractInto,omitempty"`
}

// ModPatch upgrades an installed From version to To.
type ModPatch struct {
	From  Version  `json:"from"`
	To    Version  `json:"to"`
	Links []string `json:"links"`
}

// PatchesFromTo returns the chain of patches leading from one version to
// another, or nil when the catalog has no complete chain.
func (m Mod) PatchesFromTo(from, to Version) []ModPatch {
	var chain []ModPatch
	cur := from
	for guard := 0; !cur.Equal(to) && guard <= len(m.Patches); guard++ {
		next := -1
		for i, p := range m.Patches {
			if p.From.Equal(cur) && cur.Less(p.To) && !to.Less(p.To) {
				next = i
				break
			}
		}
		if next < 0 {
			return nil
		}
		chain = append(chain, m.Patches[next])
		cur = m.Patches[next].To
	}
	if !cur.Equal(to) {
		return nil
	}
	return chain
}

// InstalledVersion is one retained version of an installed mod. A full
// install appends a new one; a patch rewrites the latest in place.
type InstalledVersion struct {
	Version           ModVersion `json:"version"`
	InstalledLocation string     `json:"installedLocation"`
}

type InstalledItem struct {
	ModID        ModID               `json:"modId"`
	Cached       Mod                 `json:"cached"`
	UpdatePolicy UpdatePolicy        `json:"updatePolicy"`
	Versions     []*InstalledVersion `json:"versions"`
}

// LatestInstalled returns the version with the highest version value, or
// nil for an item with no versions.
func (i *InstalledItem) LatestInstalled() *InstalledVersion {
	var latest *InstalledVersion
	for _, v := range i.Versions {
		if latest == nil || latest.Version.Version.Less(v.Version.Version) {
			latest = v
		}
	}
	return latest
}

// Clone returns a deep copy of the item.
func (i *InstalledItem) Clone() *InstalledItem {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Cached = i.Cached.clone()
	cp.Versions = make([]*InstalledVersion, 0, len(i.Versions))
	for _, v := range i.Versions {
		vv := *v
		vv.Version = v.Version.clone()
		cp.Versions = append(cp.Versions, &vv)
	}
	return &cp
}

func (m Mod) clone() Mod {
	m.LatestVersion = m.LatestVersion.clone()
	if m.Patches != nil {
		ps := make([]ModPatch, len(m.Patches))
		for i, p := range m.Patches {
			p.Links = append([]string(nil), p.Links...)
			ps[i] = p
		}
		m.Patches = ps
	}
	return m
}

func (v ModVersion) clone() ModVersion {
	v.Links = append([]string(nil), v.Links...)
	v.PatchLinks = append([]string(nil), v.PatchLinks...)
	return v
}

// SafeName replaces every rune that is not a letter or digit with '_'.
func SafeName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, s)
}

// InstallFileName is the deterministic library file name for a mod version.
func InstallFileName(id ModID, name string, v Version, suffix string) string {
	return fmt.Sprintf("%s_%s_%s%s", id, SafeName(name), v, suffix)
}
