package downloader

import "github.com/google/uuid"

// Event is a state change or progress update for one job.
type Event struct {
	ID       uuid.UUID
	Type     EventType
	Progress *Progress
	// Err is set on EventFailed.
	Err error
	// Link is the source that served a completed job.
	Link string
}

type EventType string

const (
	EventStart     EventType = "Start"
	EventPaused    EventType = "Paused"
	EventCancelled EventType = "Cancelled"
	EventComplete  EventType = "Complete"
	EventFailed    EventType = "Failed"
	EventProgress  EventType = "Progress"
)

// Terminal reports whether no further events follow for the job.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventFailed || t == EventCancelled
}

// Progress carries whatever the transport knows. Zero means unknown.
type Progress struct {
	Completed int64
	Total     int64
	// Speed is bytes/sec.
	Speed int64
}

// Percent returns completion in [0, 100], or -1 when the total is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	v := float64(p.Completed) * 100 / float64(p.Total)
	return min(max(v, 0), 100)
}
