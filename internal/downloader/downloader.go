package downloader

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when the transport does not know a job id.
var ErrNotFound = errors.New("download job not found")

// Job asks a transport to fetch one file. Links are alternatives for the
// same bytes and are tried in order.
type Job struct {
	ID    uuid.UUID
	Links []string
	Dest  string
}

// Transport moves bytes. Every started job ends with exactly one terminal
// event: Complete, Failed or Cancelled.
type Transport interface {
	Start(ctx context.Context, j *Job) error
	Pause(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
	Ping(ctx context.Context) error
}

// EventSource is implemented by transports that emit events from a
// background loop. The queue launches Run(ctx) when available.
type EventSource interface {
	Run(ctx context.Context)
}
