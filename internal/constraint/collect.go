package constraint

import (
	"strings"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/modinfo"
)

// Describe returns the descriptor of an installed mod, or nil when none can
// be read.
type Describe func(id data.ModID) *modinfo.Info

// Collect builds one constraint per demanded option from the compatibility
// demands of active mods on other active mods. Demands on inactive mods are
// ignored. Order follows the profile, then each descriptor's declarations.
func Collect(p *data.Profile, describe Describe) []*Constraint {
	type key struct {
		mod     data.ModID
		setting string
	}
	var out []*Constraint
	byKey := map[key]*Constraint{}
	infos := map[data.ModID]*modinfo.Info{}
	info := func(id data.ModID) *modinfo.Info {
		if i, ok := infos[id]; ok {
			return i
		}
		i := describe(id)
		infos[id] = i
		return i
	}

	for _, it := range p.Items {
		src := info(it.ModID)
		if src == nil {
			continue
		}
		who := Participant{ModID: it.ModID, Name: src.Name}
		for _, d := range src.Compatibility {
			if !p.IsActive(d.ModID) {
				continue
			}
			k := key{d.ModID, strings.ToLower(d.Setting)}
			c := byKey[k]
			if c == nil {
				c = &Constraint{ModID: d.ModID, Setting: d.Setting, Forbid: map[int]struct{}{}}
				if target := info(d.ModID); target != nil {
					c.ModName = target.Name
					c.Option = target.Option(d.Setting)
				}
				if c.ModName == "" {
					c.ModName = d.ModID.String()
				}
				byKey[k] = c
				out = append(out, c)
			}
			for _, v := range d.Require {
				c.require(v)
			}
			for _, v := range d.Forbid {
				c.Forbid[v] = struct{}{}
			}
			c.join(who)
		}
	}
	return out
}

// Result is the outcome of a sanity pass over a whole profile.
type Result struct {
	Changes []Change
	Errors  []*UnsatisfiableError
}

// OK reports whether every constraint could be satisfied.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// SanityCheck verifies every constraint of p, rewriting stored values in
// place where needed.
func SanityCheck(p *data.Profile, describe Describe) Result {
	var res Result
	for _, c := range Collect(p, describe) {
		item := p.Find(c.ModID)
		if item == nil {
			continue
		}
		ch, err := c.Verify(item)
		if err != nil {
			res.Errors = append(res.Errors, err.(*UnsatisfiableError))
			continue
		}
		if ch != nil {
			res.Changes = append(res.Changes, *ch)
		}
	}
	return res
}
