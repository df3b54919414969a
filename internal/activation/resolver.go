// Package activation toggles mods in the active profile, pulling in what
// they require and dropping what they forbid.
package activation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinoosan/modlib/internal/constraint"
	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/metrics"
	"github.com/tinoosan/modlib/internal/modinfo"
	"github.com/tinoosan/modlib/internal/repo"
	"github.com/tinoosan/modlib/internal/reqid"
)

// Library is the part of the installed-mod registry the resolver reads.
type Library interface {
	Get(id data.ModID) (*data.InstalledItem, bool)
}

// Describer reads the descriptor of an installed item. *modinfo.Cache
// satisfies it.
type Describer interface {
	Lookup(ctx context.Context, item *data.InstalledItem) *modinfo.Info
}

// Ref names a mod in a report.
type Ref struct {
	ModID data.ModID `json:"modId"`
	Name  string     `json:"name"`
}

// Report describes what a toggle did, or would have done when Blocked.
type Report struct {
	Activated   []Ref `json:"activated,omitempty"`
	Deactivated []Ref `json:"deactivated,omitempty"`
	PulledIn    []Ref `json:"pulledIn,omitempty"`
	Removed     []Ref `json:"removed,omitempty"`
	// Missing holds the declared description of each required mod that is
	// not installed.
	Missing    []string `json:"missing,omitempty"`
	BadVersion []Ref    `json:"badVersion,omitempty"`
	// Blocked is set when missing or unsupported requirements kept the
	// profile unchanged.
	Blocked     bool                             `json:"blocked"`
	Changes     []constraint.Change              `json:"changes,omitempty"`
	Unsatisfied []*constraint.UnsatisfiableError `json:"unsatisfied,omitempty"`
}

// ConflictError reports an active mod that forbids a mod about to become
// active. Incoming is either the toggled mod or one it pulls in.
type ConflictError struct {
	Active   Ref
	Incoming Ref
	// Target is the toggled mod.
	Target Ref
}

func (e *ConflictError) Error() string {
	if e.Incoming.ModID == e.Target.ModID {
		return fmt.Sprintf("cannot activate %s: active mod %s forbids it", e.Target.Name, e.Active.Name)
	}
	return fmt.Sprintf("cannot activate %s: it requires %s, which active mod %s forbids",
		e.Target.Name, e.Incoming.Name, e.Active.Name)
}

func (e *ConflictError) Is(target error) bool { return target == data.ErrActivationConflict }

// Resolver owns the active profile.
type Resolver struct {
	lib      Library
	describe Describer
	store    repo.ProfileStore
	log      *slog.Logger

	mu      sync.Mutex
	profile *data.Profile
}

func New(lib Library, describe Describer, store repo.ProfileStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		lib:      lib,
		describe: describe,
		store:    store,
		log:      log.With("component", "activation"),
		profile:  &data.Profile{Name: "default"},
	}
}

// Load replaces the in-memory profile with the stored one.
func (r *Resolver) Load(ctx context.Context) error {
	p, err := r.store.LoadProfile(ctx)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	r.mu.Lock()
	r.profile = p
	r.mu.Unlock()
	return nil
}

// Profile returns a copy of the active profile.
func (r *Resolver) Profile() *data.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile.Clone()
}

func (r *Resolver) info(ctx context.Context, id data.ModID) *modinfo.Info {
	it, ok := r.lib.Get(id)
	if !ok {
		return nil
	}
	return r.describe.Lookup(ctx, it)
}

func (r *Resolver) ref(id data.ModID) Ref {
	if it, ok := r.lib.Get(id); ok && it.Cached.Name != "" {
		return Ref{ModID: id, Name: it.Cached.Name}
	}
	return Ref{ModID: id, Name: id.String()}
}

func (r *Resolver) latest(id data.ModID) (data.Version, bool) {
	it, ok := r.lib.Get(id)
	if !ok {
		return "", false
	}
	v := it.LatestInstalled()
	if v == nil {
		return "", false
	}
	return v.Version.Version, true
}

// forbids reports whether dep rules out the installed version of its mod.
func (r *Resolver) forbids(dep modinfo.Dependency) bool {
	if len(dep.Versions) == 0 {
		return true
	}
	v, ok := r.latest(dep.ModID)
	return ok && v.MatchesAny(dep.Versions)
}

// Toggle deactivates id when it is active and activates it otherwise. A
// conflict returns *ConflictError with the profile untouched.
func (r *Resolver) Toggle(ctx context.Context, id data.ModID) (*Report, error) {
	log := reqid.Logger(ctx, r.log).With("mod_id", id)
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.profile.Clone()
	rep := &Report{}
	if next.Deactivate(id) {
		rep.Deactivated = append(rep.Deactivated, r.ref(id))
		r.revalidate(ctx, next, rep)
		if err := r.commit(ctx, next); err != nil {
			return nil, err
		}
		log.Info("mod deactivated")
		return rep, nil
	}
	if _, ok := r.lib.Get(id); !ok {
		return nil, fmt.Errorf("activate %s: %w", id, data.ErrNotFound)
	}

	plan := r.plan(ctx, next, id)
	rep.Missing = plan.missing
	rep.BadVersion = plan.badVersion
	for _, m := range plan.pulledIn {
		rep.PulledIn = append(rep.PulledIn, r.ref(m))
	}
	for _, m := range plan.removed {
		rep.Removed = append(rep.Removed, r.ref(m))
	}
	if err := r.conflict(ctx, next, id, plan); err != nil {
		metrics.ActivationConflicts.Inc()
		log.Warn("activation conflict", "err", err)
		return nil, err
	}
	if len(plan.missing) > 0 || len(plan.badVersion) > 0 {
		rep.Blocked = true
		log.Info("activation blocked", "missing", len(plan.missing), "bad_version", len(plan.badVersion))
		return rep, nil
	}

	next.Activate(id)
	rep.Activated = append(rep.Activated, r.ref(id))
	r.revalidate(ctx, next, rep)
	for _, m := range plan.pulledIn {
		next.Activate(m)
		rep.Activated = append(rep.Activated, r.ref(m))
		r.revalidate(ctx, next, rep)
	}
	for _, m := range plan.removed {
		next.Deactivate(m)
		rep.Deactivated = append(rep.Deactivated, r.ref(m))
		r.revalidate(ctx, next, rep)
	}
	if err := r.commit(ctx, next); err != nil {
		return nil, err
	}
	log.Info("mod activated", "pulled_in", len(plan.pulledIn), "removed", len(plan.removed))
	return rep, nil
}

// Deactivate drops id from the profile if it is active, revalidating what
// remains.
func (r *Resolver) Deactivate(ctx context.Context, id data.ModID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.profile.Clone()
	if !next.Deactivate(id) {
		return nil
	}
	constraint.SanityCheck(next, r.describer(ctx))
	return r.commit(ctx, next)
}

// SanityCheck re-verifies every setting constraint of the active profile and
// saves whatever it rewrote.
func (r *Resolver) SanityCheck(ctx context.Context) (constraint.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.profile.Clone()
	res := constraint.SanityCheck(next, r.describer(ctx))
	if len(res.Changes) == 0 {
		return res, nil
	}
	return res, r.commit(ctx, next)
}

func (r *Resolver) describer(ctx context.Context) constraint.Describe {
	return func(id data.ModID) *modinfo.Info { return r.info(ctx, id) }
}

// revalidate accumulates changes across passes. Unsatisfied reflects the
// last pass only.
func (r *Resolver) revalidate(ctx context.Context, p *data.Profile, rep *Report) {
	res := constraint.SanityCheck(p, r.describer(ctx))
	rep.Changes = append(rep.Changes, res.Changes...)
	rep.Unsatisfied = res.Errors
}

func (r *Resolver) commit(ctx context.Context, p *data.Profile) error {
	if err := r.store.SaveProfile(ctx, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	r.profile = p
	return nil
}
