// Package stats keeps in-memory lifecycle statistics for the supervised
// server: spawn and stop counts, readiness latency and stop durations.
//
// Distributions are tracked with T-Digests so percentiles stay cheap no
// matter how long the supervisor runs.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

const digestCompression = 100

// LifecycleStats is a snapshot taken by Lifecycle.Snapshot.
type LifecycleStats struct {
	Timestamp time.Time

	Starts       int64
	ReadyCount   int64
	Exits        int64
	Unexpected   int64 // exits not caused by a stop
	Negotiations int64
	Accepted     int64

	ReadyLast time.Duration
	ReadyP50  time.Duration
	ReadyP95  time.Duration
	ReadyMax  time.Duration

	// Stop outcomes keyed by mode name.
	Stops       map[string]int64
	StopP50     map[string]time.Duration
	StopMax     map[string]time.Duration
	StopModes   []string // sorted keys of Stops
	LastStop    string
	LastStopDur time.Duration

	UptimeP50 time.Duration
	UptimeMax time.Duration

	ExitCodes map[int]int64
}

type durationDigest struct {
	digest *tdigest.TDigest
	count  int64
	max    time.Duration
}

func newDurationDigest() *durationDigest {
	return &durationDigest{digest: tdigest.NewWithCompression(digestCompression)}
}

func (d *durationDigest) add(v time.Duration) {
	d.digest.Add(float64(v), 1)
	d.count++
	if v > d.max {
		d.max = v
	}
}

func (d *durationDigest) quantile(q float64) time.Duration {
	if d.count == 0 {
		return 0
	}
	return time.Duration(d.digest.Quantile(q))
}

// Lifecycle records supervisor lifecycle outcomes. Safe for concurrent use.
type Lifecycle struct {
	mu sync.Mutex

	starts       int64
	exits        int64
	unexpected   int64
	negotiations int64
	accepted     int64

	ready     *durationDigest
	readyLast time.Duration

	stops       map[string]*durationDigest
	lastStop    string
	lastStopDur time.Duration

	uptime *durationDigest

	exitCodes map[int]int64
}

// NewLifecycle creates an empty recorder.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		ready:     newDurationDigest(),
		stops:     make(map[string]*durationDigest),
		uptime:    newDurationDigest(),
		exitCodes: make(map[int]int64),
	}
}

// RecordStart counts a spawn.
func (l *Lifecycle) RecordStart(instance string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts++
}

// RecordReady records the time from spawn to the readiness marker.
func (l *Lifecycle) RecordReady(instance string, latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ready.add(latency)
	l.readyLast = latency
}

// RecordNegotiation counts a shutdown request and whether it was accepted.
func (l *Lifecycle) RecordNegotiation(instance string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.negotiations++
	if err == nil {
		l.accepted++
	}
}

// RecordExit records a process exit. expected is false when the process
// exited without being stopped.
func (l *Lifecycle) RecordExit(instance string, exitCode int, uptime time.Duration, expected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exits++
	l.exitCodes[exitCode]++
	l.uptime.add(uptime)
	if !expected {
		l.unexpected++
	}
}

// RecordStop records how a stop ended and how long it took.
func (l *Lifecycle) RecordStop(instance, mode string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dd, ok := l.stops[mode]
	if !ok {
		dd = newDurationDigest()
		l.stops[mode] = dd
	}
	dd.add(d)
	l.lastStop = mode
	l.lastStopDur = d
}

// Snapshot returns the current statistics.
func (l *Lifecycle) Snapshot() *LifecycleStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := &LifecycleStats{
		Timestamp:    time.Now(),
		Starts:       l.starts,
		ReadyCount:   l.ready.count,
		Exits:        l.exits,
		Unexpected:   l.unexpected,
		Negotiations: l.negotiations,
		Accepted:     l.accepted,
		ReadyLast:    l.readyLast,
		ReadyP50:     l.ready.quantile(0.50),
		ReadyP95:     l.ready.quantile(0.95),
		ReadyMax:     l.ready.max,
		Stops:        make(map[string]int64, len(l.stops)),
		StopP50:      make(map[string]time.Duration, len(l.stops)),
		StopMax:      make(map[string]time.Duration, len(l.stops)),
		LastStop:     l.lastStop,
		LastStopDur:  l.lastStopDur,
		UptimeP50:    l.uptime.quantile(0.50),
		UptimeMax:    l.uptime.max,
		ExitCodes:    make(map[int]int64, len(l.exitCodes)),
	}
	for mode, dd := range l.stops {
		s.Stops[mode] = dd.count
		s.StopP50[mode] = dd.quantile(0.50)
		s.StopMax[mode] = dd.max
		s.StopModes = append(s.StopModes, mode)
	}
	sort.Strings(s.StopModes)
	for code, n := range l.exitCodes {
		s.ExitCodes[code] = n
	}
	return s
}
