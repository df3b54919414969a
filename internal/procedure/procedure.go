// Package procedure turns finished downloads into installed artifacts.
//
// A Procedure is a closed set of variants. The Executor dispatches on the
// variant in two steps: Schedule does the file work and may block, Commit
// records the outcome in the library. A transport failure skips Schedule and
// goes straight to Commit with the error set.
package procedure

import (
	"context"

	"github.com/tinoosan/modlib/internal/barrier"
	"github.com/tinoosan/modlib/internal/data"
)

// Procedure is implemented only by the variants in this package.
type Procedure interface {
	Kind() string
	isProcedure()
}

// InstallMod installs a downloaded container or generic archive.
type InstallMod struct {
	File string
	Mod  data.Mod
}

// PatchMod applies one downloaded patch to the installed latest version.
type PatchMod struct {
	File string
	Mod  data.Mod
}

// DownloadThenPatch installs a fresh container after applying every patch
// its sibling downloads deliver through Barrier.
type DownloadThenPatch struct {
	File    string
	Mod     data.Mod
	Barrier *barrier.Barrier
}

// DownloadPatchOnly fetches one patch for a DownloadThenPatch and signals
// its barrier. The file must have been added to the barrier when the
// request was planned.
type DownloadPatchOnly struct {
	File    string
	Barrier *barrier.Barrier
}

// Callback runs Fn with the outcome; used for downloads that are not mods.
type Callback struct {
	Fn func(ctx context.Context, o Outcome) error
}

func (*InstallMod) isProcedure()        {}
func (*PatchMod) isProcedure()          {}
func (*DownloadThenPatch) isProcedure() {}
func (*DownloadPatchOnly) isProcedure() {}
func (*Callback) isProcedure()          {}

func (*InstallMod) Kind() string        { return "install_mod" }
func (*PatchMod) Kind() string          { return "patch_mod" }
func (*DownloadThenPatch) Kind() string { return "download_then_patch" }
func (*DownloadPatchOnly) Kind() string { return "download_patch_only" }
func (*Callback) Kind() string          { return "callback" }

// Light reports whether p must run without waiting for a worker slot. The
// variants that release a barrier are light so a blocked waiter can never
// starve them.
func Light(p Procedure) bool {
	switch p.(type) {
	case *DownloadPatchOnly, *Callback:
		return true
	}
	return false
}

// Target returns the mod a procedure installs, if any.
func Target(p Procedure) (data.Mod, bool) {
	switch p := p.(type) {
	case *InstallMod:
		return p.Mod, true
	case *PatchMod:
		return p.Mod, true
	case *DownloadThenPatch:
		return p.Mod, true
	}
	return data.Mod{}, false
}

// Result is what Schedule produced and Commit records.
type Result struct {
	// Mod is the catalog entry overlaid with the installed descriptor.
	Mod data.Mod
	// Location is relative to the library root.
	Location string
	// Consumed files are queued for deletion once the commit succeeds.
	Consumed []string
}

// Outcome is handed to Commit. Err is set when the transport or Schedule
// failed.
type Outcome struct {
	Err    error
	Link   string
	Result Result
}
