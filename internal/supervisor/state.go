// Package supervisor owns the single supervised server process: it starts
// it, forwards its output, and stops it through the management endpoint or,
// failing that, by force.
package supervisor

// State represents the internal state of the supervised process slot.
type State int32

const (
	// StateIdle means the slot is empty.
	StateIdle State = iota

	// StateStarting means the process has been spawned but has not yet
	// printed its readiness marker.
	StateStarting

	// StateRunning means the readiness marker has been seen.
	StateRunning

	// StateStopping means Stop is in progress.
	StateStopping
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Occupied returns true if a process holds the slot.
func (s State) Occupied() bool {
	return s != StateIdle
}

// StopMode records how a Stop call ended.
type StopMode int

const (
	// StopNoop means there was no process to stop.
	StopNoop StopMode = iota

	// StopGraceful means the server accepted the shutdown request and its
	// port closed before the deadline.
	StopGraceful

	// StopTimeout means the server accepted the shutdown request but was
	// still listening after the last poll, so it was killed.
	StopTimeout

	// StopForced means the shutdown request failed and the server was
	// killed without polling.
	StopForced
)

// String returns the mode name used in logs and metric labels.
func (m StopMode) String() string {
	switch m {
	case StopNoop:
		return "noop"
	case StopGraceful:
		return "graceful"
	case StopTimeout:
		return "timeout"
	case StopForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Killed returns true if the mode involved a forced kill.
func (m StopMode) Killed() bool {
	return m == StopTimeout || m == StopForced
}
