package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/procedure"
)

type State string

const (
	StateQueued      State = "Queued"
	StateDownloading State = "Downloading"
	StatePaused      State = "Paused"
	StateInstalling  State = "Installing"
)

// Request is one download plus the procedure that runs once it finished.
type Request struct {
	ID       uuid.UUID
	Category data.Category
	Name     string
	Dest     string
	// Links are tried in order.
	Links []string
	Proc  procedure.Procedure

	// OnCancel reverts whatever the caller changed when it queued the
	// request. OnError receives the cause of any failure after the procedure
	// handled it.
	OnCancel func()
	OnError  func(error)

	state     State
	percent   float64
	speed     int64
	eta       time.Duration
	started   bool
	scheduled bool
	fp        string
}

func (r *Request) PendingID() uuid.UUID { return r.ID }

// Entry is a display snapshot of a request.
type Entry struct {
	ID       uuid.UUID     `json:"id"`
	Category data.Category `json:"category"`
	Name     string        `json:"name"`
	Dest     string        `json:"dest"`
	Links    []string      `json:"links"`
	Kind     string        `json:"kind"`
	State    State         `json:"state"`
	Percent  float64       `json:"percent"`
	Speed    int64         `json:"speed"`
	ETA      time.Duration `json:"eta"`
	Started  bool          `json:"started"`
}

func (r *Request) entry() Entry {
	e := Entry{
		ID:       r.ID,
		Category: r.Category,
		Name:     r.Name,
		Dest:     r.Dest,
		Links:    append([]string(nil), r.Links...),
		State:    r.state,
		Percent:  r.percent,
		Speed:    r.speed,
		ETA:      r.eta,
		Started:  r.started,
	}
	if r.Proc != nil {
		e.Kind = r.Proc.Kind()
	}
	return e
}
