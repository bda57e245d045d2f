package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// stderrTail bounds how much plugin stderr is kept for the process log.
const stderrTail = 4 << 10

// Runner executes a single plugin process and reports its exit status.
type Runner interface {
	Run(ctx context.Context, path string, args []string) (exitCode int, stderr string, err error)
}

// ExecRunner runs plugins as child processes.
type ExecRunner struct {
	// Timeout bounds each invocation. Zero means the plugin may run for as
	// long as the request context allows.
	Timeout time.Duration
}

// Run starts path with args and waits for it. A non-zero exit is reported
// through exitCode with a nil error; err is only set when the process could
// not be started or was killed.
func (r ExecRunner) Run(ctx context.Context, path string, args []string) (int, string, error) {
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	stderr := &tailBuffer{limit: stderrTail}

	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return 0, stderr.String(), nil
	}
	if ctxErr := runCtx.Err(); ctxErr != nil {
		return -1, stderr.String(), fmt.Errorf("plugin: %s stopped: %w", path, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		return exitErr.ExitCode(), stderr.String(), nil
	}
	return -1, stderr.String(), fmt.Errorf("plugin: failed to run %s: %w", path, err)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
