package activation

import (
	"context"

	"github.com/tinoosan/modlib/internal/data"
)

type plan struct {
	pulledIn   []data.ModID
	removed    []data.ModID
	missing    []string
	badVersion []Ref
}

// plan walks the requirement graph from target depth-first. Requirements
// that are installed in an acceptable version are pulled in and walked in
// turn; forbidden mods that are active are queued for removal.
func (r *Resolver) plan(ctx context.Context, p *data.Profile, target data.ModID) plan {
	var out plan
	examined := map[data.ModID]bool{}
	pulled := map[data.ModID]bool{}
	// A requirement reached on several paths is reported once.
	reported := map[data.ModID]bool{}
	stack := []data.ModID{target}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		examined[id] = true

		info := r.info(ctx, id)
		if info == nil {
			continue
		}
		for _, req := range info.Requires {
			if examined[req.ModID] || reported[req.ModID] {
				continue
			}
			it, ok := r.lib.Get(req.ModID)
			if !ok {
				desc := req.Description
				if desc == "" {
					desc = req.ModID.String()
				}
				out.missing = append(out.missing, desc)
				reported[req.ModID] = true
				continue
			}
			if len(req.Versions) > 0 {
				latest := it.LatestInstalled()
				if latest == nil || !latest.Version.Version.MatchesAny(req.Versions) {
					out.badVersion = append(out.badVersion, r.ref(req.ModID))
					reported[req.ModID] = true
					continue
				}
			}
			if !p.IsActive(req.ModID) && !pulled[req.ModID] {
				pulled[req.ModID] = true
				out.pulledIn = append(out.pulledIn, req.ModID)
			}
			stack = append(stack, req.ModID)
		}
		for _, f := range info.Forbids {
			if examined[f.ModID] {
				continue
			}
			examined[f.ModID] = true
			if p.IsActive(f.ModID) && r.forbids(f) {
				out.removed = append(out.removed, f.ModID)
			}
		}
	}
	return out
}

// conflict checks the active mods against the mods about to become active.
// Mods queued for removal are checked too.
func (r *Resolver) conflict(ctx context.Context, p *data.Profile, target data.ModID, pl plan) error {
	incoming := append([]data.ModID{target}, pl.pulledIn...)

	for _, active := range p.ActiveIDs() {
		info := r.info(ctx, active)
		if info == nil {
			continue
		}
		for _, in := range incoming {
			for _, f := range info.Forbids {
				if f.ModID == in && r.forbids(f) {
					return &ConflictError{Active: r.ref(active), Incoming: r.ref(in), Target: r.ref(target)}
				}
			}
		}
	}
	return nil
}
