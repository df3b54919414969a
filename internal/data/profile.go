package data

import "strings"

// Profile is the active load set: which installed mods are on, and their
// option values.
type Profile struct {
	Name  string         `json:"name"`
	Items []*ProfileItem `json:"items"`
}

type ProfileItem struct {
	ModID    ModID            `json:"modId"`
	Settings []ProfileSetting `json:"settings,omitempty"`
}

type ProfileSetting struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func (p *Profile) Find(id ModID) *ProfileItem {
	for _, it := range p.Items {
		if it.ModID == id {
			return it
		}
	}
	return nil
}

func (p *Profile) IsActive(id ModID) bool { return p.Find(id) != nil }

// Activate appends id to the active set and returns its entry. An already
// active mod keeps its entry.
func (p *Profile) Activate(id ModID) *ProfileItem {
	if it := p.Find(id); it != nil {
		return it
	}
	it := &ProfileItem{ModID: id}
	p.Items = append(p.Items, it)
	return it
}

// Deactivate removes id from the active set, reporting whether it was there.
func (p *Profile) Deactivate(id ModID) bool {
	for i, it := range p.Items {
		if it.ModID == id {
			p.Items = append(p.Items[:i], p.Items[i+1:]...)
			return true
		}
	}
	return false
}

// ActiveIDs lists the active mods in profile order.
func (p *Profile) ActiveIDs() []ModID {
	ids := make([]ModID, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.ModID)
	}
	return ids
}

func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	cp := &Profile{Name: p.Name, Items: make([]*ProfileItem, 0, len(p.Items))}
	for _, it := range p.Items {
		ii := &ProfileItem{ModID: it.ModID, Settings: append([]ProfileSetting(nil), it.Settings...)}
		cp.Items = append(cp.Items, ii)
	}
	return cp
}

// Setting returns the stored value for id, if any. Ids compare
// case-insensitively.
func (it *ProfileItem) Setting(id string) (int, bool) {
	for _, s := range it.Settings {
		if strings.EqualFold(s.ID, id) {
			return s.Value, true
		}
	}
	return 0, false
}

func (it *ProfileItem) SetSetting(id string, value int) {
	for i := range it.Settings {
		if strings.EqualFold(it.Settings[i].ID, id) {
			it.Settings[i].Value = value
			return
		}
	}
	it.Settings = append(it.Settings, ProfileSetting{ID: id, Value: value})
}
