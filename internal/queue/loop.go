package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloader"
	"github.com/tinoosan/modlib/internal/metrics"
	"github.com/tinoosan/modlib/internal/procedure"
)

// Run starts consuming transport events. A transport that is also an
// EventSource is run alongside.
func (q *Queue) Run() {
	q.stop = make(chan struct{})
	q.ctx, q.cancel = context.WithCancel(q.ctx)
	q.log = q.log.With("operation_id", uuid.NewString())
	if src, ok := q.transport.(downloader.EventSource); ok {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			src.Run(q.ctx)
		}()
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-q.stop:
				return
			case e, ok := <-q.events:
				if !ok {
					return
				}
				q.handle(e)
			}
		}
	}()
}

// Stop ends the event loop. Procedures already handed to the pool keep
// running; drain the pool to wait for them.
func (q *Queue) Stop() {
	if q.stop != nil {
		close(q.stop)
		if q.cancel != nil {
			q.cancel()
		}
		q.wg.Wait()
	}
}

func (q *Queue) handle(e downloader.Event) {
	metrics.DownloadEvents.WithLabelValues(string(e.Type)).Inc()
	req, ok := q.lookup(e.ID)
	if !ok {
		q.log.Debug("event for unknown request", "id", e.ID, "type", e.Type)
		return
	}
	switch e.Type {
	case downloader.EventStart:
		q.mu.Lock()
		req.state = StateDownloading
		req.started = true
		q.mu.Unlock()
	case downloader.EventPaused:
		q.mu.Lock()
		req.state = StatePaused
		req.speed, req.eta = 0, 0
		q.mu.Unlock()
	case downloader.EventProgress:
		if e.Progress == nil {
			return
		}
		q.mu.Lock()
		if pct := e.Progress.Percent(); pct >= 0 {
			req.percent = pct
		}
		req.speed = e.Progress.Speed
		req.eta = 0
		if left := e.Progress.Total - e.Progress.Completed; left > 0 && e.Progress.Speed > 0 {
			req.eta = time.Duration(left/e.Progress.Speed) * time.Second
		}
		q.mu.Unlock()
	case downloader.EventComplete:
		q.log.Info("download complete", "id", req.ID, "link", e.Link)
		q.pending.QueuePendingInstall(req)
		q.install(req, e.Link)
	case downloader.EventFailed:
		q.log.Warn("download failed", "id", req.ID, "err", e.Err)
		err := e.Err
		if err == nil {
			err = data.ErrTransport
		}
		q.fail(req, err)
	case downloader.EventCancelled:
		q.cancelled(req)
	default:
		q.log.Warn("unknown event type", "id", e.ID, "type", e.Type)
	}
}

// install hands the procedure to the pool. Light procedures never wait for
// a slot. The request stays pending when the pool is closed.
func (q *Queue) install(req *Request, link string) {
	q.mu.Lock()
	req.state = StateInstalling
	req.percent, req.speed, req.eta = 0, 0, 0
	req.scheduled = true
	q.mu.Unlock()

	run := q.pool.Submit
	if procedure.Light(req.Proc) {
		run = q.pool.Go
	}
	accepted := run(func(ctx context.Context) {
		res, err := q.exec.Schedule(ctx, req.Proc, func(p float64) {
			q.mu.Lock()
			req.percent = p
			q.mu.Unlock()
		})
		err = q.exec.Commit(ctx, req.Proc, procedure.Outcome{Err: err, Link: link, Result: res})
		q.pending.RemovePendingInstall(req.ID)
		q.take(req.ID)
		if err != nil {
			q.log.Error("install failed", "id", req.ID, "kind", req.Proc.Kind(), "err", err)
			if req.OnError != nil {
				req.OnError(err)
			}
			return
		}
		q.log.Info("install complete", "id", req.ID, "kind", req.Proc.Kind())
	})
	if !accepted {
		q.mu.Lock()
		req.scheduled = false
		q.mu.Unlock()
		q.log.Warn("worker pool closed, install left pending", "id", req.ID)
	}
}

func (q *Queue) fail(req *Request, err error) {
	if _, ok := q.take(req.ID); !ok {
		return
	}
	err = q.exec.Commit(q.ctx, req.Proc, procedure.Outcome{Err: err})
	if req.OnError != nil {
		req.OnError(err)
	}
}

func (q *Queue) cancelled(req *Request) {
	if _, ok := q.take(req.ID); !ok {
		return
	}
	q.log.Info("download cancelled", "id", req.ID)
	if req.OnCancel != nil {
		req.OnCancel()
	}
}

// RetryPending schedules every finished download whose procedure has not
// been handed to the pool. It returns how many were scheduled.
func (q *Queue) RetryPending(ctx context.Context) int {
	n := 0
	for _, p := range q.pending.PendingInstalls() {
		req, ok := p.(*Request)
		if !ok {
			continue
		}
		q.mu.Lock()
		_, queued := q.byID[req.ID]
		idle := !req.scheduled
		q.mu.Unlock()
		if !queued || !idle {
			continue
		}
		q.install(req, "")
		n++
	}
	return n
}
