// Package aria2dl drives downloads through an aria2 daemon.
package aria2dl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/aria2"
	"github.com/tinoosan/modlib/internal/downloader"
	"github.com/tinoosan/modlib/internal/metrics"
)

type tracked struct {
	id     uuid.UUID
	links  []string
	paused bool
	last   downloader.Progress
}

// Transport hands every link of a job to aria2 as mirrors of one file.
type Transport struct {
	cl   *aria2.Client
	rep  downloader.Reporter
	log  *slog.Logger
	poll time.Duration

	mu    sync.Mutex
	byGID map[string]*tracked
	gids  map[uuid.UUID]string
}

func New(cl *aria2.Client, rep downloader.Reporter, log *slog.Logger, poll time.Duration) *Transport {
	if poll <= 0 {
		poll = time.Second
	}
	return &Transport{
		cl:    cl,
		rep:   rep,
		log:   log.With("component", "aria2dl"),
		poll:  poll,
		byGID: make(map[string]*tracked),
		gids:  make(map[uuid.UUID]string),
	}
}

var (
	_ downloader.Transport   = (*Transport)(nil)
	_ downloader.EventSource = (*Transport)(nil)
)

func (t *Transport) Ping(ctx context.Context) error {
	_, err := t.cl.Call(ctx, "aria2.getVersion")
	return err
}

// Start: aria2.addUri([token?, [uris], {dir, out}])
func (t *Transport) Start(ctx context.Context, j *downloader.Job) error {
	if len(j.Links) == 0 {
		return fmt.Errorf("aria2: job %s has no links", j.ID)
	}
	opts := map[string]string{
		"dir": filepath.Dir(j.Dest),
		"out": filepath.Base(j.Dest),
	}
	res, err := t.cl.Call(ctx, "aria2.addUri", j.Links, opts)
	if err != nil {
		return err
	}
	var gid string
	if err := json.Unmarshal(res, &gid); err != nil {
		return fmt.Errorf("parse addUri result: %w", err)
	}
	t.mu.Lock()
	t.byGID[gid] = &tracked{id: j.ID, links: append([]string(nil), j.Links...)}
	t.gids[j.ID] = gid
	metrics.ActiveTransfers.Set(float64(len(t.byGID)))
	t.mu.Unlock()
	t.log.Debug("job added", "id", j.ID, "gid", gid, "links", len(j.Links))
	t.rep.Report(downloader.Event{ID: j.ID, Type: downloader.EventStart})
	return nil
}

// Pause: aria2.pause([token?, gid])
func (t *Transport) Pause(ctx context.Context, id uuid.UUID) error {
	gid, err := t.gidFor(id)
	if err != nil {
		return err
	}
	if _, err := t.cl.Call(ctx, "aria2.pause", gid); err != nil {
		return t.mapErr(gid, err)
	}
	t.markPaused(gid, true)
	return nil
}

// Resume: aria2.unpause([token?, gid])
func (t *Transport) Resume(ctx context.Context, id uuid.UUID) error {
	gid, err := t.gidFor(id)
	if err != nil {
		return err
	}
	if _, err := t.cl.Call(ctx, "aria2.unpause", gid); err != nil {
		return t.mapErr(gid, err)
	}
	t.markPaused(gid, false)
	return nil
}

// Cancel: aria2.remove([token?, gid])
func (t *Transport) Cancel(ctx context.Context, id uuid.UUID) error {
	gid, err := t.gidFor(id)
	if err != nil {
		return err
	}
	if _, err := t.cl.Call(ctx, "aria2.remove", gid); err != nil {
		return t.mapErr(gid, err)
	}
	if tr := t.forget(gid); tr != nil {
		t.rep.Report(downloader.Event{ID: tr.id, Type: downloader.EventCancelled})
	}
	return nil
}

func (t *Transport) gidFor(id uuid.UUID) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gid, ok := t.gids[id]
	if !ok {
		return "", downloader.ErrNotFound
	}
	return gid, nil
}

// mapErr drops tracking for GIDs aria2 has already forgotten.
func (t *Transport) mapErr(gid string, err error) error {
	var rpcErr *aria2.RPCError
	if errors.As(err, &rpcErr) && rpcErr.NotFound() {
		t.forget(gid)
		return downloader.ErrNotFound
	}
	return err
}

// markPaused reports Paused or Start once per transition.
func (t *Transport) markPaused(gid string, paused bool) {
	t.mu.Lock()
	tr, ok := t.byGID[gid]
	changed := ok && tr.paused != paused
	if changed {
		tr.paused = paused
	}
	t.mu.Unlock()
	if !changed {
		return
	}
	typ := downloader.EventStart
	if paused {
		typ = downloader.EventPaused
	}
	t.rep.Report(downloader.Event{ID: tr.id, Type: typ})
}

// forget removes a GID and returns what was tracked, or nil when another
// path already finished it.
func (t *Transport) forget(gid string) *tracked {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.byGID[gid]
	if !ok {
		return nil
	}
	delete(t.byGID, gid)
	delete(t.gids, tr.id)
	metrics.ActiveTransfers.Set(float64(len(t.byGID)))
	return tr
}
