package aria2dl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/aria2"
	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloader"
)

// Run consumes aria2 notifications and polls progress until ctx is done.
// Without a websocket connection only polling runs, and terminal states are
// picked up from tellStatus.
func (t *Transport) Run(ctx context.Context) {
	lg := t.log.With("operation_id", uuid.NewString())
	ch, err := t.cl.Notifications(ctx)
	if err != nil {
		lg.Warn("aria2 notifications unavailable, polling only", "err", err)
		ch = nil
	}
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				lg.Warn("aria2 notification stream closed")
				ch = nil
				continue
			}
			t.handleNotification(ctx, n)
		case <-ticker.C:
			t.pollOnce(ctx)
		}
	}
}

func (t *Transport) lookup(gid string) (*tracked, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.byGID[gid]
	return tr, ok
}

func (t *Transport) handleNotification(ctx context.Context, n aria2.Notification) {
	for _, p := range n.Params {
		if _, ok := t.lookup(p.GID); !ok {
			continue
		}
		switch n.Method {
		case aria2.OnDownloadStart:
			t.markPaused(p.GID, false)
		case aria2.OnDownloadPause:
			t.markPaused(p.GID, true)
		case aria2.OnDownloadComplete:
			st, _ := t.tellStatus(ctx, p.GID)
			t.complete(p.GID, st)
		case aria2.OnDownloadError:
			st, _ := t.tellStatus(ctx, p.GID)
			t.fail(p.GID, st)
		case aria2.OnDownloadStop:
			if tr := t.forget(p.GID); tr != nil {
				t.rep.Report(downloader.Event{ID: tr.id, Type: downloader.EventCancelled})
			}
		}
	}
}

func (t *Transport) complete(gid string, st *status) {
	tr := t.forget(gid)
	if tr == nil {
		return
	}
	link := ""
	if st != nil {
		link = st.servedURI()
	}
	if link == "" && len(tr.links) > 0 {
		link = tr.links[0]
	}
	t.rep.Report(downloader.Event{ID: tr.id, Type: downloader.EventComplete, Link: link})
}

func (t *Transport) fail(gid string, st *status) {
	tr := t.forget(gid)
	if tr == nil {
		return
	}
	msg := "unknown error"
	if st != nil && st.ErrorMessage != "" {
		msg = st.ErrorMessage
	}
	t.rep.Report(downloader.Event{ID: tr.id, Type: downloader.EventFailed,
		Err: fmt.Errorf("%w: aria2: %s", data.ErrTransport, msg)})
}

// status is a partial view of aria2.tellStatus. Numbers are decimal strings.
type status struct {
	Status          string `json:"status"`
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	DownloadSpeed   string `json:"downloadSpeed"`
	ErrorMessage    string `json:"errorMessage"`
	Files           []struct {
		URIs []struct {
			URI    string `json:"uri"`
			Status string `json:"status"`
		} `json:"uris"`
	} `json:"files"`
}

func (s *status) progress() downloader.Progress {
	parse := func(v string) int64 {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return downloader.Progress{
		Completed: parse(s.CompletedLength),
		Total:     parse(s.TotalLength),
		Speed:     parse(s.DownloadSpeed),
	}
}

// servedURI returns the first uri aria2 marks as used.
func (s *status) servedURI() string {
	for _, f := range s.Files {
		for _, u := range f.URIs {
			if u.Status == "used" {
				return u.URI
			}
		}
	}
	return ""
}

func (t *Transport) tellStatus(ctx context.Context, gid string) (*status, error) {
	keys := []string{"status", "totalLength", "completedLength", "downloadSpeed", "errorMessage", "files"}
	res, err := t.cl.Call(ctx, "aria2.tellStatus", gid, keys)
	if err != nil {
		return nil, err
	}
	var st status
	if err := json.Unmarshal(res, &st); err != nil {
		return nil, fmt.Errorf("parse tellStatus: %w", err)
	}
	return &st, nil
}

// pollOnce emits progress for every tracked GID whose counters moved, and
// settles jobs whose terminal notification was missed.
func (t *Transport) pollOnce(ctx context.Context) {
	t.mu.Lock()
	gids := make([]string, 0, len(t.byGID))
	for gid := range t.byGID {
		gids = append(gids, gid)
	}
	t.mu.Unlock()

	for _, gid := range gids {
		st, err := t.tellStatus(ctx, gid)
		if err != nil {
			var rpcErr *aria2.RPCError
			if errors.As(err, &rpcErr) && rpcErr.NotFound() {
				t.log.Warn("aria2 lost track of job", "gid", gid)
				t.fail(gid, &status{ErrorMessage: rpcErr.Message})
				continue
			}
			t.log.Warn("aria2 tellStatus error", "gid", gid, "err", err)
			continue
		}
		switch st.Status {
		case "complete":
			t.complete(gid, st)
			continue
		case "error":
			t.fail(gid, st)
			continue
		case "removed":
			if tr := t.forget(gid); tr != nil {
				t.rep.Report(downloader.Event{ID: tr.id, Type: downloader.EventCancelled})
			}
			continue
		}
		prog := st.progress()
		t.mu.Lock()
		tr, ok := t.byGID[gid]
		moved := ok && (tr.last.Completed != prog.Completed || tr.last.Speed != prog.Speed)
		if moved {
			tr.last = prog
		}
		t.mu.Unlock()
		if moved {
			t.rep.Report(downloader.Event{ID: tr.id, Type: downloader.EventProgress, Progress: &prog})
		}
	}
}
