package downloader

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		p    Progress
		want float64
	}{
		{Progress{Completed: 50, Total: 200}, 25},
		{Progress{Completed: 10}, -1},
		{Progress{Completed: 300, Total: 200}, 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percent(); got != tt.want {
			t.Fatalf("Percent(%+v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}

func TestManualTerminalEventsAreExactlyOnce(t *testing.T) {
	events := make(chan Event, 8)
	m := NewManual(NewChanReporter(events))
	id := uuid.New()
	if err := m.Start(context.Background(), &Job{ID: id, Links: []string{"a", "b"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Complete(id)
	m.Complete(id)
	m.Fail(id, errors.New("late"))
	if err := m.Cancel(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel after completion = %v, want ErrNotFound", err)
	}
	close(events)

	var terminal []Event
	for e := range events {
		if e.Type.Terminal() {
			terminal = append(terminal, e)
		}
	}
	if len(terminal) != 1 || terminal[0].Type != EventComplete || terminal[0].Link != "a" {
		t.Fatalf("unexpected terminal events %+v", terminal)
	}
}
