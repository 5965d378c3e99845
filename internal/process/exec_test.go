package process

import (
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shLauncher(script string) *ExecLauncher {
	return &ExecLauncher{
		ProcessName: "sh",
		Build: func(artifact string) (*exec.Cmd, error) {
			return exec.Command("sh", "-c", script, "sh", artifact), nil
		},
	}
}

func TestExecLauncher_Streams(t *testing.T) {
	requireShell(t)

	h, err := shLauncher(`echo "out $1"; echo err >&2; exit 3`).Launch("server.jar")
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if h.Pid() <= 0 {
		t.Errorf("Pid() = %d", h.Pid())
	}

	stdout, _ := io.ReadAll(h.Stdout())
	stderr, _ := io.ReadAll(h.Stderr())

	if got := strings.TrimSpace(string(stdout)); got != "out server.jar" {
		t.Errorf("stdout = %q", got)
	}
	if got := strings.TrimSpace(string(stderr)); got != "err" {
		t.Errorf("stderr = %q", got)
	}

	waitErr := h.Wait()
	if code := ExitCode(waitErr); code != 3 {
		t.Errorf("ExitCode() = %d, want 3", code)
	}
	// Wait is idempotent.
	if h.Wait() != waitErr {
		t.Error("second Wait returned a different error")
	}
}

func TestExecLauncher_StreamsSurviveWait(t *testing.T) {
	requireShell(t)

	h, err := shLauncher(`echo last words`).Launch("x")
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	// Reap first, then read: the read ends belong to the caller.
	h.Wait()
	out, err := io.ReadAll(h.Stdout())
	if err != nil {
		t.Fatalf("read after Wait: %v", err)
	}
	if strings.TrimSpace(string(out)) != "last words" {
		t.Errorf("stdout = %q", out)
	}
}

func TestHandle_Kill(t *testing.T) {
	requireShell(t)

	h, err := shLauncher(`exec sleep 30`).Launch("x")
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	if err := h.Kill(); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	select {
	case err := <-done:
		if code := ExitCode(err); code != 128+9 {
			t.Errorf("ExitCode() = %d, want %d", code, 128+9)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("killed process was not reaped")
	}

	if err := h.Kill(); err != os.ErrProcessDone {
		t.Errorf("Kill() after reap = %v, want os.ErrProcessDone", err)
	}
}

func TestExecLauncher_SpawnFailure(t *testing.T) {
	l := &ExecLauncher{Build: func(string) (*exec.Cmd, error) {
		return exec.Command("/nonexistent/bin/java", "-jar", "x"), nil
	}}
	if _, err := l.Launch("x"); err == nil {
		t.Error("expected error for missing binary")
	}
	if l.Name() != "exec" {
		t.Errorf("Name() = %q, want exec", l.Name())
	}
	if got := l.CommandString("x"); got != "/nonexistent/bin/java -jar x" {
		t.Errorf("CommandString() = %q", got)
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("ExitCode(nil) != 0")
	}
	if ExitCode(io.EOF) != 1 {
		t.Error("unknown errors map to 1")
	}
}
