// Package logpump forwards the output streams of the supervised process to
// an event sink, one line at a time.
//
// Each stream gets its own Pump running in its own goroutine. A pump owns its
// reader exclusively, shares no state with the other pump beyond the sink,
// and ends silently when the stream reaches EOF or a read fails.
package logpump

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/randomizedcoder/go-jar-supervisor/internal/events"
)

// DefaultReadyMarker is printed by the server once it has finished
// initialising and loaded its application.yml.
const DefaultReadyMarker = "Application started, application.yml is connected"

// Role is the stream a pump reads.
type Role int

const (
	RoleStdout Role = iota
	RoleStderr
)

// String returns "stdout" or "stderr".
func (r Role) String() string {
	if r == RoleStderr {
		return "stderr"
	}
	return "stdout"
}

func (r Role) stream() events.Stream {
	if r == RoleStderr {
		return events.StreamStderr
	}
	return events.StreamStdout
}

// Readiness is a one-shot latch shared by the pumps of one process instance.
// Fire returns true exactly once.
type Readiness struct {
	once  sync.Once
	fired atomic.Bool

	// OnReady, if set, is called the first time Fire succeeds.
	OnReady func()
}

// Fire trips the latch. Returns true only for the first call.
func (r *Readiness) Fire() bool {
	first := false
	r.once.Do(func() {
		first = true
		r.fired.Store(true)
		if r.OnReady != nil {
			r.OnReady()
		}
	})
	return first
}

// Fired reports whether the latch has been tripped.
func (r *Readiness) Fired() bool {
	return r.fired.Load()
}

// Config configures a Pump.
type Config struct {
	Reader   io.Reader
	Role     Role
	Instance string
	Sink     events.Sink

	// Marker is the readiness substring. Only checked on RoleStdout.
	// Empty means DefaultReadyMarker.
	Marker string

	// Ready is the latch for this process instance. Nil disables readiness
	// detection.
	Ready *Readiness
}

// Pump reads one stream line by line.
type Pump struct {
	reader   io.Reader
	role     Role
	instance string
	sink     events.Sink
	marker   string
	ready    *Readiness

	done chan struct{}

	bytesRead atomic.Int64
	linesRead atomic.Int64
}

// New creates a pump. Call Run in its own goroutine.
func New(cfg Config) *Pump {
	marker := cfg.Marker
	if marker == "" {
		marker = DefaultReadyMarker
	}
	sink := cfg.Sink
	if sink == nil {
		sink = events.Discard
	}
	return &Pump{
		reader:   cfg.Reader,
		role:     cfg.Role,
		instance: cfg.Instance,
		sink:     sink,
		marker:   marker,
		ready:    cfg.Ready,
		done:     make(chan struct{}),
	}
}

// Start runs the pump in a new goroutine and returns it.
func Start(cfg Config) *Pump {
	p := New(cfg)
	go p.Run()
	return p
}

// Run reads until EOF or the first read error, then closes the reader if it
// is an io.Closer. Lines have no length limit.
func (p *Pump) Run() {
	defer close(p.done)
	if c, ok := p.reader.(io.Closer); ok {
		defer c.Close()
	}

	r := bufio.NewReader(p.reader)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			p.bytesRead.Add(int64(len(line)))
			p.handleLine(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

func (p *Pump) handleLine(line string) {
	p.linesRead.Add(1)

	if p.role == RoleStdout && p.ready != nil && strings.Contains(line, p.marker) {
		if p.ready.Fire() {
			p.sink.Emit(events.StatusEvent(p.instance, events.StatusRunning))
		}
	}

	p.sink.Emit(events.LogEvent(p.instance, p.role.stream(), line))
}

// Done is closed when Run returns.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Role returns the stream this pump reads.
func (p *Pump) Role() Role {
	return p.role
}

// Stats returns (bytesRead, linesRead).
func (p *Pump) Stats() (bytesRead int64, linesRead int64) {
	return p.bytesRead.Load(), p.linesRead.Load()
}
