package downloader

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Manual is a transport that moves no bytes. Callers finish jobs by hand
// with Complete, Fail or Progress; tests and local imports use it.
type Manual struct {
	rep Reporter

	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
	// Started records jobs in start order.
	started []uuid.UUID
}

func NewManual(rep Reporter) *Manual {
	return &Manual{rep: rep, jobs: make(map[uuid.UUID]*Job)}
}

var _ Transport = (*Manual)(nil)

func (m *Manual) Start(ctx context.Context, j *Job) error {
	m.mu.Lock()
	m.jobs[j.ID] = j
	m.started = append(m.started, j.ID)
	m.mu.Unlock()
	m.rep.Report(Event{ID: j.ID, Type: EventStart})
	return nil
}

func (m *Manual) Pause(ctx context.Context, id uuid.UUID) error {
	if !m.has(id) {
		return ErrNotFound
	}
	m.rep.Report(Event{ID: id, Type: EventPaused})
	return nil
}

func (m *Manual) Resume(ctx context.Context, id uuid.UUID) error {
	if !m.has(id) {
		return ErrNotFound
	}
	m.rep.Report(Event{ID: id, Type: EventStart})
	return nil
}

func (m *Manual) Cancel(ctx context.Context, id uuid.UUID) error {
	if m.take(id) == nil {
		return ErrNotFound
	}
	m.rep.Report(Event{ID: id, Type: EventCancelled})
	return nil
}

func (m *Manual) Ping(ctx context.Context) error { return nil }

// Job returns a started, unfinished job.
func (m *Manual) Job(id uuid.UUID) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Started lists job ids in the order they were started.
func (m *Manual) Started() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.started...)
}

func (m *Manual) Progress(id uuid.UUID, p Progress) {
	m.rep.Report(Event{ID: id, Type: EventProgress, Progress: &p})
}

// Complete finishes the job as served by its first link.
func (m *Manual) Complete(id uuid.UUID) {
	j := m.take(id)
	if j == nil {
		return
	}
	link := ""
	if len(j.Links) > 0 {
		link = j.Links[0]
	}
	m.rep.Report(Event{ID: id, Type: EventComplete, Link: link})
}

func (m *Manual) Fail(id uuid.UUID, err error) {
	if m.take(id) == nil {
		return
	}
	m.rep.Report(Event{ID: id, Type: EventFailed, Err: err})
}

func (m *Manual) has(id uuid.UUID) bool {
	_, ok := m.Job(id)
	return ok
}

func (m *Manual) take(id uuid.UUID) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	delete(m.jobs, id)
	return j
}
