package aria2dl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/modlib/internal/aria2"
	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloader"
	"github.com/tinoosan/modlib/internal/metrics"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type wireReq struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcReply struct {
	result any
	errMsg string
}

// fakeDaemon answers JSON-RPC calls by method name and records them.
type fakeDaemon struct {
	mu      sync.Mutex
	calls   []wireReq
	answers map[string]func(wireReq) rpcReply
}

func (f *fakeDaemon) on(method string, fn func(wireReq) rpcReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[method] = fn
}

func (f *fakeDaemon) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeDaemon) RoundTrip(r *http.Request) (*http.Response, error) {
	var req wireReq
	b, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.answers[req.Method]
	f.mu.Unlock()

	reply := rpcReply{result: "OK"}
	if fn != nil {
		reply = fn(req)
	}
	body := map[string]any{"jsonrpc": "2.0", "id": "modlib"}
	if reply.errMsg != "" {
		body["error"] = map[string]any{"code": 1, "message": reply.errMsg}
	} else {
		body["result"] = reply.result
	}
	rb, _ := json.Marshal(body)
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(rb)), Header: make(http.Header)}, nil
}

func newTestTransport(t *testing.T) (*Transport, *fakeDaemon, chan downloader.Event) {
	t.Helper()
	cl, err := aria2.NewClient("http://example.com/jsonrpc", "", 0)
	require.NoError(t, err)
	fd := &fakeDaemon{answers: map[string]func(wireReq) rpcReply{}}
	fd.on("aria2.addUri", func(wireReq) rpcReply { return rpcReply{result: "gid1"} })
	cl.HTTP().Transport = fd
	events := make(chan downloader.Event, 16)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cl, downloader.NewChanReporter(events), log, 0), fd, events
}

func startJob(t *testing.T, tr *Transport, events chan downloader.Event) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := tr.Start(context.Background(), &downloader.Job{
		ID:    id,
		Links: []string{"http://a.example/mod.zip", "http://b.example/mod.zip"},
		Dest:  "/tmp/modlib/temp/mod.zip",
	})
	require.NoError(t, err)
	ev := <-events
	require.Equal(t, downloader.EventStart, ev.Type)
	require.Equal(t, id, ev.ID)
	return id
}

func TestStartPassesMirrorsAndDestination(t *testing.T) {
	tr, fd, events := newTestTransport(t)
	startJob(t, tr, events)

	require.Len(t, fd.calls, 1)
	call := fd.calls[0]
	require.Equal(t, "aria2.addUri", call.Method)
	require.Len(t, call.Params, 2)

	var uris []string
	require.NoError(t, json.Unmarshal(call.Params[0], &uris))
	assert.Equal(t, []string{"http://a.example/mod.zip", "http://b.example/mod.zip"}, uris)

	var opts map[string]string
	require.NoError(t, json.Unmarshal(call.Params[1], &opts))
	assert.Equal(t, map[string]string{"dir": "/tmp/modlib/temp", "out": "mod.zip"}, opts)
}

func TestStartRPCError(t *testing.T) {
	tr, fd, events := newTestTransport(t)
	fd.on("aria2.addUri", func(wireReq) rpcReply { return rpcReply{errMsg: "boom"} })

	err := tr.Start(context.Background(), &downloader.Job{ID: uuid.New(), Links: []string{"http://x"}, Dest: "/tmp/x"})
	require.Error(t, err)
	assert.Empty(t, events)
}

func TestPauseReportsOnce(t *testing.T) {
	tr, _, events := newTestTransport(t)
	id := startJob(t, tr, events)

	require.NoError(t, tr.Pause(context.Background(), id))
	tr.handleNotification(context.Background(), aria2.Notification{
		Method: aria2.OnDownloadPause,
		Params: []aria2.NotificationEvent{{GID: "gid1"}},
	})
	require.Len(t, events, 1)
	assert.Equal(t, downloader.EventPaused, (<-events).Type)

	require.NoError(t, tr.Resume(context.Background(), id))
	assert.Equal(t, downloader.EventStart, (<-events).Type)
}

func TestCancelIsTerminalOnce(t *testing.T) {
	tr, _, events := newTestTransport(t)
	id := startJob(t, tr, events)

	require.NoError(t, tr.Cancel(context.Background(), id))
	tr.handleNotification(context.Background(), aria2.Notification{
		Method: aria2.OnDownloadStop,
		Params: []aria2.NotificationEvent{{GID: "gid1"}},
	})
	require.Len(t, events, 1)
	assert.Equal(t, downloader.EventCancelled, (<-events).Type)

	assert.ErrorIs(t, tr.Cancel(context.Background(), id), downloader.ErrNotFound)
}

func TestForgottenGIDMapsToNotFound(t *testing.T) {
	tr, fd, events := newTestTransport(t)
	id := startJob(t, tr, events)
	fd.on("aria2.pause", func(wireReq) rpcReply { return rpcReply{errMsg: "GID gid1 is not found"} })

	err := tr.Pause(context.Background(), id)
	assert.ErrorIs(t, err, downloader.ErrNotFound)
	assert.ErrorIs(t, tr.Resume(context.Background(), id), downloader.ErrNotFound)
}

func TestCompleteNotificationReportsServedLink(t *testing.T) {
	tr, fd, events := newTestTransport(t)
	id := startJob(t, tr, events)
	fd.on("aria2.tellStatus", func(wireReq) rpcReply {
		return rpcReply{result: map[string]any{
			"status": "complete",
			"files": []any{map[string]any{"uris": []any{
				map[string]any{"uri": "http://a.example/mod.zip", "status": "waiting"},
				map[string]any{"uri": "http://b.example/mod.zip", "status": "used"},
			}}},
		}}
	})

	tr.handleNotification(context.Background(), aria2.Notification{
		Method: aria2.OnDownloadComplete,
		Params: []aria2.NotificationEvent{{GID: "gid1"}, {GID: "unknown"}},
	})
	ev := <-events
	assert.Equal(t, downloader.EventComplete, ev.Type)
	assert.Equal(t, id, ev.ID)
	assert.Equal(t, "http://b.example/mod.zip", ev.Link)

	// the poller must not settle it again
	tr.pollOnce(context.Background())
	assert.Empty(t, events)
}

func TestPollSettlesMissedFailure(t *testing.T) {
	tr, fd, events := newTestTransport(t)
	startJob(t, tr, events)
	fd.on("aria2.tellStatus", func(wireReq) rpcReply {
		return rpcReply{result: map[string]any{"status": "error", "errorMessage": "404 on every mirror"}}
	})

	tr.pollOnce(context.Background())
	ev := <-events
	require.Equal(t, downloader.EventFailed, ev.Type)
	assert.True(t, errors.Is(ev.Err, data.ErrTransport))
	assert.Contains(t, ev.Err.Error(), "404 on every mirror")
}

func TestPollEmitsProgressOnlyWhenMoved(t *testing.T) {
	tr, fd, events := newTestTransport(t)
	startJob(t, tr, events)
	completed := "10"
	fd.on("aria2.tellStatus", func(wireReq) rpcReply {
		return rpcReply{result: map[string]any{
			"status": "active", "totalLength": "40", "completedLength": completed, "downloadSpeed": "5",
		}}
	})

	tr.pollOnce(context.Background())
	ev := <-events
	require.Equal(t, downloader.EventProgress, ev.Type)
	require.NotNil(t, ev.Progress)
	assert.Equal(t, 25.0, ev.Progress.Percent())

	tr.pollOnce(context.Background())
	assert.Empty(t, events)

	completed = "40"
	tr.pollOnce(context.Background())
	ev = <-events
	assert.Equal(t, 100.0, ev.Progress.Percent())
}

func TestPollLostGIDFails(t *testing.T) {
	tr, fd, events := newTestTransport(t)
	startJob(t, tr, events)
	fd.on("aria2.tellStatus", func(wireReq) rpcReply { return rpcReply{errMsg: "GID gid1 is not found"} })

	tr.pollOnce(context.Background())
	ev := <-events
	assert.Equal(t, downloader.EventFailed, ev.Type)
	assert.Contains(t, fd.methods(), "aria2.tellStatus")
}

func TestActiveTransfersGauge(t *testing.T) {
	tr, _, events := newTestTransport(t)
	id := startJob(t, tr, events)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActiveTransfers))

	require.NoError(t, tr.Cancel(context.Background(), id))
	<-events
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActiveTransfers))
}
