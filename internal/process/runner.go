// Package process provides abstractions for launching the supervised server
// process and controlling its lifetime.
package process

import (
	"io"
)

// Handle is a started process. The supervisor only ever talks to the
// process through this interface, which lets tests substitute a spy.
type Handle interface {
	// Pid returns the OS process ID.
	Pid() int

	// Stdout returns the read end of the process's standard output.
	// It is owned by the caller, who must drain and close it.
	Stdout() io.ReadCloser

	// Stderr returns the read end of the process's standard error.
	Stderr() io.ReadCloser

	// Kill forcefully terminates the process.
	Kill() error

	// Wait blocks until the process has exited and been reaped.
	Wait() error
}

// Launcher starts server processes.
// This interface allows the supervisor to be decoupled from java specifics.
type Launcher interface {
	// Launch starts the server for the given artifact path. The path has
	// already been resolved and checked for existence.
	Launch(artifact string) (Handle, error)

	// Name returns a human-readable name for this process type.
	Name() string

	// CommandString returns the command line that Launch would run.
	CommandString(artifact string) string
}

// Result captures the outcome of a process execution.
type Result struct {
	Pid      int
	ExitCode int
	Killed   bool
	Error    error
}
