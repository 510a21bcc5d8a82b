package dispatch

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"udos/internal/logging"
)

// shellExecTimeout bounds a validated passthrough execution.
const shellExecTimeout = 30 * time.Second

// ShellExecutor runs a validated shell command. Implemented by execRunner;
// tests substitute fakes.
type ShellExecutor interface {
	Run(ctx context.Context, command string, args []string) (output string, exitCode int, err error)
}

// execRunner executes the head binary directly with its argv. No shell is
// involved, so the metacharacter checks in stage 2 cannot be bypassed by
// the execution path.
type execRunner struct{}

// NewShellExecutor returns the default executor.
func NewShellExecutor() ShellExecutor { return execRunner{} }

func (execRunner) Run(ctx context.Context, command string, args []string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, shellExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	}
	logging.Shell("exec %s args=%d exit=%d in %v", command, len(args), exitCode, time.Since(start))
	return buf.String(), exitCode, err
}
