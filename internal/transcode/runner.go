package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// stderrTailLimit bounds the diagnostic carried in a ProcessError. ffmpeg
// writes its progress banner to stderr continuously, so only the tail is
// useful when it fails.
const stderrTailLimit = 500

// ProcessError reports a failed external encoder or prober invocation.
// ExitCode is -1 when the process could not be started at all.
type ProcessError struct {
	Binary   string
	ExitCode int
	Stderr   string
	timedOut bool
	cause    error
}

func (e *ProcessError) Error() string {
	switch {
	case e.timedOut:
		return fmt.Sprintf("%s timed out: %v", e.Binary, e.cause)
	case e.ExitCode < 0:
		return fmt.Sprintf("%s spawn error: %v", e.Binary, e.cause)
	default:
		return fmt.Sprintf("%s exited with code %d: %s", e.Binary, e.ExitCode, e.Stderr)
	}
}

func (e *ProcessError) Unwrap() error {
	return e.cause
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailWriter(limit int) *tailWriter {
	return &tailWriter{limit: limit}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(bytes.TrimSpace(w.buf))
}

// runCommand executes binary with args under the given timeout and returns
// captured stdout. All failure modes, including the deadline firing, surface
// as a *ProcessError so callers can treat them uniformly as stage failures.
func runCommand(ctx context.Context, binary string, args []string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	stderr := newTailWriter(stderrTailLimit)
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	// Bound the wait for stray children holding the output pipes open
	// after the process itself is killed.
	cmd.WaitDelay = 10 * time.Second
	if err := cmd.Run(); err != nil {
		name := filepath.Base(binary)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ProcessError{
				Binary:   name,
				ExitCode: -1,
				Stderr:   stderr.String(),
				timedOut: true,
				cause:    ctxErr,
			}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ProcessError{
				Binary:   name,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
				cause:    err,
			}
		}
		return nil, &ProcessError{Binary: name, ExitCode: -1, cause: err}
	}
	return stdout.Bytes(), nil
}
