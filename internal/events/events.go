// Package events defines the status and log events the supervisor emits and
// the sinks that deliver them.
//
// Emission is fire-and-forget: a sink must never block the supervisor or a
// log pump for long, and every Sink implementation must be safe for
// concurrent use since both pumps and the control path emit at once.
package events

import (
	"sync"
	"time"
)

// Status is the externally observed state of the supervised process.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
)

// Kind distinguishes status events from log line events.
type Kind int

const (
	KindLog Kind = iota
	KindStatus
)

// String returns "log" or "status".
func (k Kind) String() string {
	if k == KindStatus {
		return "status"
	}
	return "log"
}

// Stream identifies where a log line came from.
type Stream string

const (
	// StreamSupervisor marks lines narrated by the supervisor itself.
	StreamSupervisor Stream = "supervisor"
	StreamStdout     Stream = "stdout"
	StreamStderr     Stream = "stderr"
)

// Event is a single status transition or log line.
type Event struct {
	Kind Kind

	// Instance is the process instance the event belongs to.
	// Empty when no process was running (e.g. Stop on an empty slot).
	Instance string

	Status Status
	Line   string

	// Stream is informational only; both streams feed one log channel.
	Stream Stream

	Time time.Time
}

// StatusEvent builds a status event.
func StatusEvent(instance string, s Status) Event {
	return Event{Kind: KindStatus, Instance: instance, Status: s, Time: time.Now()}
}

// LogEvent builds a log line event.
func LogEvent(instance string, stream Stream, line string) Event {
	return Event{Kind: KindLog, Instance: instance, Stream: stream, Line: line, Time: time.Now()}
}

// Sink receives events.
type Sink interface {
	Emit(Event)
}

// Func adapts a function to the Sink interface.
type Func func(Event)

// Emit calls f(ev).
func (f Func) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = Func(func(Event) {})

// Fanout delivers every event to each sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(ev Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Channel is a sink backed by a buffered channel. Events are dropped when
// the buffer is full.
type Channel struct {
	ch      chan Event
	mu      sync.Mutex
	dropped int64
}

// NewChannel creates a channel sink with the given buffer size.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 256
	}
	return &Channel{ch: make(chan Event, size)}
}

// Emit implements Sink. It never blocks.
func (c *Channel) Emit(ev Event) {
	select {
	case c.ch <- ev:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// C returns the receive side of the channel.
func (c *Channel) C() <-chan Event {
	return c.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (c *Channel) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Recorder keeps every event it receives. Used by tests and by callers that
// want to inspect the event history.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Statuses returns the recorded status values in emission order.
func (r *Recorder) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, ev := range r.events {
		if ev.Kind == KindStatus {
			out = append(out, ev.Status)
		}
	}
	return out
}

// Lines returns the recorded log lines in emission order.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == KindLog {
			out = append(out, ev.Line)
		}
	}
	return out
}

// CountStatus returns how many times s was emitted.
func (r *Recorder) CountStatus(s Status) int {
	n := 0
	for _, got := range r.Statuses() {
		if got == s {
			n++
		}
	}
	return n
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
