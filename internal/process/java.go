package process

import (
	"os"
	"os/exec"
	"strings"
)

// JavaConfig holds configuration for launching the server jar.
type JavaConfig struct {
	// BinaryPath is the path to the java binary.
	BinaryPath string

	// JVMArgs are passed before -jar (e.g. -Xmx512m).
	JVMArgs []string

	// AppArgs are passed after the artifact path.
	AppArgs []string

	// WorkDir is the working directory of the server. The server reads its
	// application.yml from here. Empty means the supervisor's directory.
	WorkDir string

	// Env is appended to the supervisor's environment.
	Env []string
}

// DefaultJavaConfig returns a JavaConfig with sensible defaults.
func DefaultJavaConfig() *JavaConfig {
	return &JavaConfig{
		BinaryPath: "java",
	}
}

// JavaRunner implements Launcher for `java -jar` servers.
type JavaRunner struct {
	config *JavaConfig
}

// NewJavaRunner creates a new java runner with the given configuration.
func NewJavaRunner(cfg *JavaConfig) *JavaRunner {
	if cfg == nil {
		cfg = DefaultJavaConfig()
	}
	return &JavaRunner{config: cfg}
}

// Name returns "java".
func (r *JavaRunner) Name() string {
	return "java"
}

// BuildCommand creates an exec.Cmd running the artifact.
func (r *JavaRunner) BuildCommand(artifact string) (*exec.Cmd, error) {
	cmd := exec.Command(r.binary(), r.buildArgs(artifact)...)
	cmd.Dir = r.config.WorkDir
	if len(r.config.Env) > 0 {
		cmd.Env = append(os.Environ(), r.config.Env...)
	}
	return cmd, nil
}

// Launch implements Launcher.
func (r *JavaRunner) Launch(artifact string) (Handle, error) {
	cmd, err := r.BuildCommand(artifact)
	if err != nil {
		return nil, err
	}
	return Spawn(cmd)
}

// buildArgs constructs the java command-line arguments.
func (r *JavaRunner) buildArgs(artifact string) []string {
	args := make([]string, 0, len(r.config.JVMArgs)+len(r.config.AppArgs)+2)
	args = append(args, r.config.JVMArgs...)
	args = append(args, "-jar", artifact)
	args = append(args, r.config.AppArgs...)
	return args
}

func (r *JavaRunner) binary() string {
	if r.config.BinaryPath == "" {
		return "java"
	}
	return r.config.BinaryPath
}

// Config returns the java configuration.
func (r *JavaRunner) Config() *JavaConfig {
	return r.config
}

// CommandString returns the command that would be executed (for debugging).
func (r *JavaRunner) CommandString(artifact string) string {
	return r.binary() + " " + strings.Join(r.buildArgs(artifact), " ")
}

// Ensure JavaRunner implements Launcher interface
var _ Launcher = (*JavaRunner)(nil)
