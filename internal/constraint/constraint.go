// Package constraint keeps the configurable options of active mods
// compatible with what other active mods demand of them.
package constraint

import (
	"fmt"
	"strings"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/modinfo"
)

// Participant is a mod placing a demand on another mod's option.
type Participant struct {
	ModID data.ModID `json:"modId"`
	Name  string     `json:"name"`
}

// Constraint merges every active demand on one option of one mod.
type Constraint struct {
	ModID   data.ModID
	ModName string
	Setting string
	// Require holds each distinct required value in the order first seen.
	Require      []int
	Forbid       map[int]struct{}
	Participants []Participant
	// Option is nil when the owning mod no longer declares the setting.
	Option *modinfo.ConfigOption
}

// Change records one stored value the solver rewrote.
type Change struct {
	ModID     data.ModID `json:"modId"`
	Setting   string     `json:"setting"`
	From      int        `json:"from"`
	To        int        `json:"to"`
	ValueName string     `json:"valueName,omitempty"`
}

// UnsatisfiableError names the option no value can satisfy and the mods
// whose demands collide on it.
type UnsatisfiableError struct {
	ModID        data.ModID    `json:"modId"`
	ModName      string        `json:"modName"`
	Setting      string        `json:"setting"`
	Reason       string        `json:"reason"`
	Participants []Participant `json:"participants"`
}

func (e *UnsatisfiableError) Error() string {
	names := make([]string, 0, len(e.Participants))
	for _, p := range e.Participants {
		names = append(names, p.Name)
	}
	return fmt.Sprintf("option %q of %s cannot be satisfied (%s); demanded by: %s",
		e.Setting, e.ModName, e.Reason, strings.Join(names, ", "))
}

func (e *UnsatisfiableError) Is(target error) bool { return target == data.ErrUnsatisfiable }

func (c *Constraint) require(v int) {
	for _, r := range c.Require {
		if r == v {
			return
		}
	}
	c.Require = append(c.Require, v)
}

func (c *Constraint) forbidden(v int) bool {
	_, ok := c.Forbid[v]
	return ok
}

func (c *Constraint) join(p Participant) {
	for _, have := range c.Participants {
		if have.ModID == p.ModID {
			return
		}
	}
	c.Participants = append(c.Participants, p)
}

func (c *Constraint) unsatisfiable(reason string) *UnsatisfiableError {
	return &UnsatisfiableError{
		ModID:        c.ModID,
		ModName:      c.ModName,
		Setting:      c.Setting,
		Reason:       reason,
		Participants: append([]Participant(nil), c.Participants...),
	}
}

// Verify brings item's stored value for the option in line with the
// constraint. An unsatisfiable constraint leaves item untouched. A nil
// Change means the stored value already complied.
func (c *Constraint) Verify(item *data.ProfileItem) (*Change, error) {
	if c.Option == nil {
		return nil, nil
	}
	opt := c.Option
	cur, stored := item.Setting(c.Setting)
	if !stored {
		cur = opt.Default
	}

	switch {
	case len(c.Require) > 1:
		return nil, c.unsatisfiable(fmt.Sprintf("conflicting required values %v", c.Require))
	case len(c.Require) == 1 && c.forbidden(c.Require[0]):
		return nil, c.unsatisfiable(fmt.Sprintf("required value %d is also forbidden", c.Require[0]))
	case len(c.Require) == 1 && cur != c.Require[0] && !c.declares(c.Require[0]):
		return nil, c.unsatisfiable(fmt.Sprintf("required value %d is not offered", c.Require[0]))
	case len(opt.Values) > 0 && c.allForbidden():
		return nil, c.unsatisfiable("every value is forbidden")
	}

	set := func(to int) *Change {
		item.SetSetting(c.Setting, to)
		return &Change{ModID: c.ModID, Setting: opt.ID, From: cur, To: to, ValueName: c.valueName(to)}
	}
	if len(c.Require) == 1 && cur != c.Require[0] {
		return set(c.Require[0]), nil
	}
	if c.forbidden(cur) {
		for _, v := range opt.Values {
			if !c.forbidden(v.Value) {
				return set(v.Value), nil
			}
		}
	}
	if !stored {
		item.SetSetting(c.Setting, cur)
	}
	return nil, nil
}

func (c *Constraint) declares(v int) bool {
	for _, ov := range c.Option.Values {
		if ov.Value == v {
			return true
		}
	}
	return false
}

func (c *Constraint) allForbidden() bool {
	for _, ov := range c.Option.Values {
		if !c.forbidden(ov.Value) {
			return false
		}
	}
	return true
}

func (c *Constraint) valueName(v int) string {
	for _, ov := range c.Option.Values {
		if ov.Value == v {
			return ov.Name
		}
	}
	return ""
}
