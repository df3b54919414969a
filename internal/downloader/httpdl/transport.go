// Package httpdl is a transport that fetches jobs over plain HTTP(S).
package httpdl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloader"
)

const partSuffix = ".part"

type jobState int

const (
	stateRunning jobState = iota
	statePaused
	stateCancelling
	stateIdle
)

type job struct {
	req    downloader.Job
	link   int
	state  jobState
	cancel context.CancelFunc
	errs   []error
}

// Transport tries each link of a job in order and fails only after all of
// them did. A paused job keeps its partial file and resumes with a range
// request against the link it was using.
type Transport struct {
	client  *http.Client
	rep     downloader.Reporter
	log     *slog.Logger
	every   time.Duration
	baseCtx context.Context

	mu   sync.Mutex
	jobs map[uuid.UUID]*job
	wg   sync.WaitGroup
}

type Option func(*Transport)

func WithClient(c *http.Client) Option { return func(t *Transport) { t.client = c } }

// WithProgressInterval sets the minimum gap between progress events.
func WithProgressInterval(d time.Duration) Option { return func(t *Transport) { t.every = d } }

func New(rep downloader.Reporter, log *slog.Logger, opts ...Option) *Transport {
	t := &Transport{
		client:  &http.Client{},
		rep:     rep,
		log:     log.With("component", "httpdl"),
		every:   500 * time.Millisecond,
		baseCtx: context.Background(),
		jobs:    make(map[uuid.UUID]*job),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

var _ downloader.Transport = (*Transport)(nil)

func (t *Transport) Start(ctx context.Context, j *downloader.Job) error {
	if len(j.Links) == 0 {
		return fmt.Errorf("%w: no links", data.ErrTransport)
	}
	t.mu.Lock()
	if _, ok := t.jobs[j.ID]; ok {
		t.mu.Unlock()
		return nil
	}
	jb := &job{req: *j, state: stateIdle}
	t.jobs[j.ID] = jb
	t.launchLocked(jb)
	t.mu.Unlock()
	t.rep.Report(downloader.Event{ID: j.ID, Type: downloader.EventStart})
	return nil
}

func (t *Transport) launchLocked(jb *job) {
	ctx, cancel := context.WithCancel(t.baseCtx)
	jb.cancel = cancel
	jb.state = stateRunning
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(ctx, jb)
	}()
}

func (t *Transport) Pause(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	jb, ok := t.jobs[id]
	if !ok {
		return downloader.ErrNotFound
	}
	if jb.state == stateRunning {
		jb.state = statePaused
		jb.cancel()
	}
	return nil
}

func (t *Transport) Resume(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	jb, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return downloader.ErrNotFound
	}
	if jb.state != stateIdle {
		t.mu.Unlock()
		return nil
	}
	t.launchLocked(jb)
	t.mu.Unlock()
	t.rep.Report(downloader.Event{ID: id, Type: downloader.EventStart})
	return nil
}

func (t *Transport) Cancel(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	jb, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return downloader.ErrNotFound
	}
	switch jb.state {
	case stateRunning, statePaused:
		// the run loop reports the cancellation once it unwinds
		jb.state = stateCancelling
		jb.cancel()
		t.mu.Unlock()
		return nil
	case stateCancelling:
		t.mu.Unlock()
		return nil
	}
	delete(t.jobs, id)
	t.mu.Unlock()
	_ = os.Remove(jb.req.Dest + partSuffix)
	t.rep.Report(downloader.Event{ID: id, Type: downloader.EventCancelled})
	return nil
}

func (t *Transport) Ping(ctx context.Context) error { return nil }

// Wait blocks until no job goroutine is running.
func (t *Transport) Wait() { t.wg.Wait() }

func (t *Transport) run(ctx context.Context, jb *job) {
	part := jb.req.Dest + partSuffix
	for {
		t.mu.Lock()
		idx := jb.link
		t.mu.Unlock()
		if idx >= len(jb.req.Links) {
			break
		}
		link := jb.req.Links[idx]
		err := t.fetch(ctx, jb.req.ID, link, part)
		if err == nil {
			if err := os.Rename(part, jb.req.Dest); err != nil {
				t.finish(jb, downloader.Event{ID: jb.req.ID, Type: downloader.EventFailed, Err: fmt.Errorf("%w: %v", data.ErrTransport, err)})
				return
			}
			t.finish(jb, downloader.Event{ID: jb.req.ID, Type: downloader.EventComplete, Link: link})
			return
		}
		if ctx.Err() != nil {
			t.interrupted(jb, part)
			return
		}
		t.log.Warn("link failed", "job_id", jb.req.ID, "link", link, "err", err)
		_ = os.Remove(part)
		t.mu.Lock()
		jb.errs = append(jb.errs, fmt.Errorf("%s: %w", link, err))
		jb.link++
		t.mu.Unlock()
	}
	t.mu.Lock()
	cause := errors.Join(jb.errs...)
	t.mu.Unlock()
	t.finish(jb, downloader.Event{ID: jb.req.ID, Type: downloader.EventFailed, Err: fmt.Errorf("%w: all links failed: %w", data.ErrTransport, cause)})
}

func (t *Transport) interrupted(jb *job, part string) {
	t.mu.Lock()
	if jb.state == statePaused {
		jb.state = stateIdle
		jb.cancel = nil
		t.mu.Unlock()
		t.rep.Report(downloader.Event{ID: jb.req.ID, Type: downloader.EventPaused})
		return
	}
	delete(t.jobs, jb.req.ID)
	t.mu.Unlock()
	_ = os.Remove(part)
	t.rep.Report(downloader.Event{ID: jb.req.ID, Type: downloader.EventCancelled})
}

func (t *Transport) finish(jb *job, e downloader.Event) {
	t.mu.Lock()
	delete(t.jobs, jb.req.ID)
	t.mu.Unlock()
	t.rep.Report(e)
}

func (t *Transport) fetch(ctx context.Context, id uuid.UUID, link, part string) error {
	if err := os.MkdirAll(filepath.Dir(part), 0o755); err != nil {
		return err
	}
	var offset int64
	if st, err := os.Stat(part); err == nil {
		offset = st.Size()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		offset = 0
		flags |= os.O_TRUNC
	default:
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return err
	}
	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}
	pw := &progressWriter{
		done:  offset,
		base:  offset,
		total: total,
		start: time.Now(),
		every: t.every,
		report: func(p downloader.Progress) {
			t.rep.Report(downloader.Event{ID: id, Type: downloader.EventProgress, Progress: &p})
		},
	}
	_, err = io.Copy(io.MultiWriter(f, pw), resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	pw.flush()
	return nil
}

type progressWriter struct {
	done, total, base int64
	start, last       time.Time
	every             time.Duration
	report            func(downloader.Progress)
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.done += int64(len(b))
	if now := time.Now(); now.Sub(w.last) >= w.every {
		w.last = now
		w.flush()
	}
	return len(b), nil
}

func (w *progressWriter) flush() {
	p := downloader.Progress{Completed: w.done}
	if w.total > 0 {
		p.Total = w.total
	}
	if secs := time.Since(w.start).Seconds(); secs > 0 {
		p.Speed = int64(float64(w.done-w.base) / secs)
	}
	w.report(p)
}
