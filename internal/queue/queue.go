// Package queue tracks download requests and runs each request's install
// procedure when its transport reports the download finished.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloader"
	"github.com/tinoosan/modlib/internal/fp"
	"github.com/tinoosan/modlib/internal/library"
	"github.com/tinoosan/modlib/internal/metrics"
	"github.com/tinoosan/modlib/internal/procedure"
	"github.com/tinoosan/modlib/internal/scheduler"
)

type Executor interface {
	Schedule(ctx context.Context, p procedure.Procedure, progress func(float64)) (procedure.Result, error)
	Commit(ctx context.Context, p procedure.Procedure, o procedure.Outcome) error
}

// PendingTracker records finished downloads until their procedure ran.
type PendingTracker interface {
	QueuePendingInstall(p library.PendingInstall) bool
	RemovePendingInstall(id uuid.UUID) bool
	PendingInstalls() []library.PendingInstall
}

// Queue keeps requests in submission order. It does not move bytes itself;
// the transport does, and reports back through events.
type Queue struct {
	transport downloader.Transport
	events    <-chan downloader.Event
	exec      Executor
	pool      *scheduler.Pool
	pending   PendingTracker
	log       *slog.Logger

	mu    sync.Mutex
	order []*Request
	byID  map[uuid.UUID]*Request
	byFP  map[string]uuid.UUID

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
}

func New(log *slog.Logger, t downloader.Transport, events <-chan downloader.Event, exec Executor, pool *scheduler.Pool, pending PendingTracker) *Queue {
	return &Queue{
		transport: t,
		events:    events,
		exec:      exec,
		pool:      pool,
		pending:   pending,
		log:       log.With("component", "queue"),
		byID:      make(map[uuid.UUID]*Request),
		byFP:      make(map[string]uuid.UUID),
		ctx:       context.Background(),
	}
}

// Enqueue adds req and starts its transfer. It returns false without error
// when a request with the same id, or the same destination and links, is
// already queued. A transport that refuses the job fails the request the
// same way a failed download does.
func (q *Queue) Enqueue(ctx context.Context, req *Request) (bool, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Proc == nil {
		req.Proc = &procedure.Callback{}
	}
	req.fp = fp.Fingerprint(req.Dest, req.Links...)
	q.mu.Lock()
	if _, dup := q.byID[req.ID]; dup {
		q.mu.Unlock()
		return false, nil
	}
	if _, dup := q.byFP[req.fp]; dup {
		q.mu.Unlock()
		return false, nil
	}
	req.state = StateQueued
	q.order = append(q.order, req)
	q.byID[req.ID] = req
	q.byFP[req.fp] = req.ID
	metrics.QueueLength.Set(float64(len(q.order)))
	q.mu.Unlock()

	q.log.Info("request queued", "id", req.ID, "name", req.Name, "kind", kindOf(req), "links", len(req.Links))
	err := q.transport.Start(ctx, &downloader.Job{ID: req.ID, Links: append([]string(nil), req.Links...), Dest: req.Dest})
	if err != nil {
		err = fmt.Errorf("%w: start: %w", data.ErrTransport, err)
		q.fail(req, err)
		return true, err
	}
	return true, nil
}

// Cancel stops a transfer. The request's OnCancel runs once the transport
// confirms. A request whose procedure is already running cannot be
// cancelled.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) error {
	req, ok := q.lookup(id)
	if !ok {
		return data.ErrNotFound
	}
	if q.stateOf(req) == StateInstalling {
		return fmt.Errorf("%w: request is installing", data.ErrBadStatus)
	}
	err := q.transport.Cancel(ctx, id)
	if errors.Is(err, downloader.ErrNotFound) {
		q.cancelled(req)
		return nil
	}
	return err
}

func (q *Queue) Pause(ctx context.Context, id uuid.UUID) error {
	if _, ok := q.lookup(id); !ok {
		return data.ErrNotFound
	}
	return q.transport.Pause(ctx, id)
}

func (q *Queue) Resume(ctx context.Context, id uuid.UUID) error {
	if _, ok := q.lookup(id); !ok {
		return data.ErrNotFound
	}
	return q.transport.Resume(ctx, id)
}

// List returns snapshots in submission order.
func (q *Queue) List() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, 0, len(q.order))
	for _, r := range q.order {
		out = append(out, r.entry())
	}
	return out
}

func (q *Queue) Get(id uuid.UUID) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.byID[id]
	if !ok {
		return Entry{}, false
	}
	return r.entry(), true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

func (q *Queue) lookup(id uuid.UUID) (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.byID[id]
	return r, ok
}

func (q *Queue) stateOf(r *Request) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return r.state
}

// take removes a request and reports whether it was still queued.
func (q *Queue) take(id uuid.UUID) (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	delete(q.byID, id)
	delete(q.byFP, r.fp)
	for i, o := range q.order {
		if o == r {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	metrics.QueueLength.Set(float64(len(q.order)))
	return r, true
}

func kindOf(r *Request) string {
	if r.Proc == nil {
		return ""
	}
	return r.Proc.Kind()
}
