// Package modinfo parses the mod.yaml descriptor carried by installed mods.
package modinfo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tinoosan/modlib/internal/archive"
	"github.com/tinoosan/modlib/internal/data"
)

const DescriptorName = "mod.yaml"

var ErrNoDescriptor = errors.New("mod descriptor not found")

// MissingVariableError reports an option whose default names a variable the
// descriptor does not define.
type MissingVariableError struct {
	Option   string
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("option %q references undefined variable %q", e.Option, e.Variable)
}

func (e *MissingVariableError) Is(target error) bool { return target == data.ErrMetadataParse }

// Info is the authoritative metadata of an installed mod.
type Info struct {
	ID            data.ModID
	Name          string
	Author        string
	Description   string
	Version       data.Version
	Extract       ExtractHints
	Requires      []Dependency
	Forbids       []Dependency
	Compatibility []SettingDemand
	Options       []ConfigOption
	Variables     map[string]int
}

type ExtractHints struct {
	SubFolder string `yaml:"subFolder"`
	Into      string `yaml:"into"`
}

// Dependency is a require or forbid rule. Empty Versions matches any
// installed version.
type Dependency struct {
	ModID       data.ModID
	Versions    []data.Version
	Description string
}

// SettingDemand is this mod's demand on another mod's option value.
type SettingDemand struct {
	ModID   data.ModID
	Setting string
	Require []int
	Forbid  []int
}

type ConfigOption struct {
	ID      string
	Name    string
	Default int
	Values  []OptionValue
}

type OptionValue struct {
	Value int    `yaml:"value"`
	Name  string `yaml:"name"`
}

// Option returns the option with the given id, compared case-insensitively.
func (i *Info) Option(id string) *ConfigOption {
	for k := range i.Options {
		if strings.EqualFold(i.Options[k].ID, id) {
			return &i.Options[k]
		}
	}
	return nil
}

// ToMod overlays the descriptor onto a catalog entry. Fields the descriptor
// leaves empty keep the catalog value.
func (i *Info) ToMod(fallback data.Mod) data.Mod {
	m := fallback
	if i.ID != uuid.Nil {
		m.ID = i.ID
	}
	if i.Name != "" {
		m.Name = i.Name
	}
	if i.Author != "" {
		m.Author = i.Author
	}
	if i.Description != "" {
		m.Description = i.Description
	}
	if i.Version != "" {
		m.LatestVersion.Version = i.Version
	}
	if i.Extract.SubFolder != "" {
		m.LatestVersion.ExtractSubFolder = i.Extract.SubFolder
	}
	if i.Extract.Into != "" {
		m.LatestVersion.ExtractInto = i.Extract.Into
	}
	return m
}

type rawDescriptor struct {
	ID            string          `yaml:"id"`
	Name          string          `yaml:"name"`
	Author        string          `yaml:"author"`
	Description   string          `yaml:"description"`
	Version       data.Version    `yaml:"version"`
	Extract       ExtractHints    `yaml:"extract"`
	Requires      []rawDependency `yaml:"requires"`
	Forbids       []rawDependency `yaml:"forbids"`
	Compatibility struct {
		Settings []rawDemand `yaml:"settings"`
	} `yaml:"compatibility"`
	Options   []rawOption    `yaml:"options"`
	Variables map[string]int `yaml:"variables"`
}

type rawDependency struct {
	ModID       string         `yaml:"modId"`
	Versions    []data.Version `yaml:"versions"`
	Description string         `yaml:"description"`
}

type rawDemand struct {
	ModID   string `yaml:"modId"`
	Setting string `yaml:"setting"`
	Require []int  `yaml:"require"`
	Forbid  []int  `yaml:"forbid"`
}

type rawOption struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Default    int           `yaml:"default"`
	DefaultVar string        `yaml:"defaultVar"`
	Values     []OptionValue `yaml:"values"`
}

// ParseBytes decodes a descriptor document.
func ParseBytes(b []byte) (*Info, error) {
	var raw rawDescriptor
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrMetadataParse, err)
	}
	info := &Info{
		Name:        raw.Name,
		Author:      raw.Author,
		Description: raw.Description,
		Version:     raw.Version,
		Extract:     raw.Extract,
		Variables:   raw.Variables,
	}
	if raw.ID != "" {
		id, err := uuid.Parse(raw.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: id: %v", data.ErrMetadataParse, err)
		}
		info.ID = id
	}
	var err error
	if info.Requires, err = parseDependencies("requires", raw.Requires); err != nil {
		return nil, err
	}
	if info.Forbids, err = parseDependencies("forbids", raw.Forbids); err != nil {
		return nil, err
	}
	for _, d := range raw.Compatibility.Settings {
		id, err := uuid.Parse(d.ModID)
		if err != nil {
			return nil, fmt.Errorf("%w: compatibility %q: %v", data.ErrMetadataParse, d.Setting, err)
		}
		info.Compatibility = append(info.Compatibility, SettingDemand{ModID: id, Setting: d.Setting, Require: d.Require, Forbid: d.Forbid})
	}
	for _, o := range raw.Options {
		opt := ConfigOption{ID: o.ID, Name: o.Name, Default: o.Default, Values: o.Values}
		if o.DefaultVar != "" {
			v, ok := raw.Variables[o.DefaultVar]
			if !ok {
				return nil, &MissingVariableError{Option: o.ID, Variable: o.DefaultVar}
			}
			opt.Default = v
		}
		info.Options = append(info.Options, opt)
	}
	return info, nil
}

func parseDependencies(field string, in []rawDependency) ([]Dependency, error) {
	out := make([]Dependency, 0, len(in))
	for _, d := range in {
		id, err := uuid.Parse(d.ModID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", data.ErrMetadataParse, field, d.ModID, err)
		}
		out = append(out, Dependency{ModID: id, Versions: d.Versions, Description: d.Description})
	}
	return out, nil
}

// Parse reads the descriptor from an installed artifact: either a container
// file or a directory with mod.yaml at its top.
func Parse(path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		b, err := os.ReadFile(filepath.Join(path, DescriptorName))
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDescriptor, path)
		}
		if err != nil {
			return nil, err
		}
		return ParseBytes(b)
	}
	h, err := archive.Open(path, false)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	if !h.HasFile(DescriptorName) {
		return nil, fmt.Errorf("%w: %s", ErrNoDescriptor, path)
	}
	rc, err := h.GetData(DescriptorName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return ParseBytes(b)
}
