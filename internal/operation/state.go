package operation

import (
	"errors"
	"fmt"
	"time"
)

// Status of an operation. completed and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// IsTerminal returns true if no further transition is possible.
func (s Status) IsTerminal() bool { return s == StatusCompleted || s == StatusFailed }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// EventKind names a lifecycle event.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventComplete EventKind = "complete"
	EventFail     EventKind = "fail"
)

// Event drives one transition. Outputs is read for EventComplete and Message
// for EventFail.
type Event struct {
	Kind    EventKind
	At      time.Time
	Outputs []OutputFile
	Message string
}

// Start is the pending→processing event.
func Start(at time.Time) Event { return Event{Kind: EventStart, At: at} }

// Complete is the processing→completed event.
func Complete(outputs []OutputFile, at time.Time) Event {
	return Event{Kind: EventComplete, At: at, Outputs: outputs}
}

// Fail is the processing→failed event.
func Fail(message string, at time.Time) Event {
	return Event{Kind: EventFail, At: at, Message: message}
}

var (
	ErrNotFound           = errors.New("operation not found")
	ErrDuplicateOperation = errors.New("operation already exists")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

// TransitionError is returned when an event does not apply to the current status.
type TransitionError struct {
	From  Status
	Event EventKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: cannot %s from %s", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// NextStatus is the pure transition table.
func NextStatus(from Status, ev EventKind) (Status, error) {
	switch {
	case from == StatusPending && ev == EventStart:
		return StatusProcessing, nil
	case from == StatusProcessing && ev == EventComplete:
		return StatusCompleted, nil
	case from == StatusProcessing && ev == EventFail:
		return StatusFailed, nil
	}
	return from, &TransitionError{From: from, Event: ev}
}

// Transition applies ev to a copy of rec. rec itself is never modified, so a
// rejected event leaves no trace.
func Transition(rec *Record, ev Event) (*Record, error) {
	next, err := NextStatus(rec.Status, ev.Kind)
	if err != nil {
		return nil, err
	}
	if ev.Kind == EventComplete && len(ev.Outputs) == 0 {
		return nil, fmt.Errorf("complete %s: %w: no output files", rec.OperationID, ErrInvalidTransition)
	}

	out := rec.Clone()
	at := ev.At.UTC()
	out.Status = next
	out.UpdatedAt = at

	switch ev.Kind {
	case EventStart:
		out.Processing.StartTime = &at
	case EventComplete:
		out.OutputFiles = append([]OutputFile(nil), ev.Outputs...)
		finish(out, at)
	case EventFail:
		out.Processing.ErrorMessage = ev.Message
		finish(out, at)
	}
	return out, nil
}

func finish(rec *Record, at time.Time) {
	rec.Processing.EndTime = &at
	start := at
	if rec.Processing.StartTime != nil {
		start = *rec.Processing.StartTime
	}
	d := at.Sub(start).Milliseconds()
	rec.Processing.DurationMillis = &d
}
