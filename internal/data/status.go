package data

import (
	"fmt"
	"strings"
)

// ModStatus is the runtime state of a mod, tracked outside persistence.
type ModStatus string

const (
	StatusNotInstalled   ModStatus = "NotInstalled"
	StatusDownloading    ModStatus = "Downloading"
	StatusInstalled      ModStatus = "Installed"
	StatusUpdating       ModStatus = "Updating"
	StatusInfoChanged    ModStatus = "InfoChanged"
	StatusPendingInstall ModStatus = "PendingInstall"
)

// UpdatePolicy decides what happens when a newer catalog version appears.
type UpdatePolicy string

const (
	UpdateNotify  UpdatePolicy = "notify"
	UpdateInstall UpdatePolicy = "install"
	UpdateIgnore  UpdatePolicy = "ignore"

	DefaultUpdatePolicy = UpdateNotify
)

// ParseUpdatePolicy accepts the policy names case-insensitively; empty
// input yields the default.
func ParseUpdatePolicy(s string) (UpdatePolicy, error) {
	switch p := UpdatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultUpdatePolicy, nil
	case UpdateNotify, UpdateInstall, UpdateIgnore:
		return p, nil
	}
	return "", fmt.Errorf("%w: update policy %q", ErrBadStatus, s)
}

// Category classifies a download request.
type Category string

const (
	CategoryMod     Category = "mod"
	CategoryCatalog Category = "catalog"
	CategoryImage   Category = "image"
	CategoryUpdate  Category = "update"
)
