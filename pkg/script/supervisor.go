package script

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/oktant/oktant/pkg/codecheck"
	"github.com/oktant/oktant/pkg/plan"
)

const (
	// termGrace is how long after SIGTERM the child gets before SIGKILL.
	termGrace = 5 * time.Second

	// maxStdoutBytes bounds the captured final output.
	maxStdoutBytes = 1 << 20

	// maxStderrTail bounds the diagnostic tail kept for error reporting.
	maxStderrTail = 2048

	// maxLineBytes bounds a single stderr line (progress JSON is small).
	maxLineBytes = 64 * 1024
)

// Result is the outcome of a successful script run.
type Result struct {
	Stdout      string
	RecordCount int
	Duration    time.Duration
}

// Supervisor launches validated scripts as child processes.
type Supervisor struct {
	// Interpreter is the executable that runs the script file.
	Interpreter string

	// ScratchDir is where script files are written. Empty means the
	// system temp directory.
	ScratchDir string
}

// NewSupervisor creates a supervisor using the given interpreter.
func NewSupervisor(interpreter, scratchDir string) *Supervisor {
	return &Supervisor{Interpreter: interpreter, ScratchDir: scratchDir}
}

// Run executes the script and blocks until it exits or ctx fires.
//
// The approval must have been issued by the code validator for exactly this
// script text; the supervisor refuses to launch otherwise. onProgress is
// invoked for every parsed __PROGRESS__ line, in order, from the stderr
// reader goroutine. The temp script file is always removed.
//
// On ctx deadline the child receives SIGTERM, then SIGKILL after a short
// grace; partial stdout is discarded from the success path.
func (s *Supervisor) Run(ctx context.Context, code string, approval *codecheck.Approval, onProgress func(ProgressEvent)) (*Result, *plan.StepError) {
	if !approval.Consume(code) {
		return nil, &plan.StepError{
			Kind:    plan.ErrSecurityViolation,
			Message: "script has no valid approval from the code validator",
		}
	}

	file, err := os.CreateTemp(s.ScratchDir, "oktant-script-*.py")
	if err != nil {
		return nil, internalErr("creating script file", err)
	}
	path := file.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove script file", "path", path, "error", err)
		}
	}()

	if err := file.Chmod(0o600); err != nil {
		_ = file.Close()
		return nil, internalErr("restricting script file mode", err)
	}
	if _, err := file.WriteString(code); err != nil {
		_ = file.Close()
		return nil, internalErr("writing script file", err)
	}
	if err := file.Close(); err != nil {
		return nil, internalErr("closing script file", err)
	}

	cmd := exec.Command(s.Interpreter, path)
	cmd.Stdin = nil
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, internalErr("attaching stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, internalErr("attaching stderr pipe", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, internalErr("starting script process", err)
	}
	slog.Info("Script subprocess started", "pid", cmd.Process.Pid, "path", path)

	// Both pipes are drained concurrently; Wait is only called after the
	// readers finish so no pipe write can block the child.
	var (
		wg          sync.WaitGroup
		stdoutBuf   []byte
		stderrTail  []byte
		recordCount int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		stdoutBuf = readBounded(stdout, maxStdoutBytes)
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			if evt, ok := ParseProgressLine(line); ok {
				if evt.Type == ProgressEntityComplete && evt.Total > 0 {
					recordCount = evt.Total
				}
				if onProgress != nil {
					onProgress(evt)
				}
				continue
			}
			stderrTail = appendTail(stderrTail, line)
		}
	}()

	// Deadline watchdog: SIGTERM, then SIGKILL after the grace period.
	watchdogDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			slog.Warn("Terminating script subprocess", "pid", cmd.Process.Pid, "reason", ctx.Err())
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-watchdogDone:
			case <-time.After(termGrace):
				_ = cmd.Process.Kill()
			}
		case <-watchdogDone:
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	close(watchdogDone)
	duration := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, &plan.StepError{
				Kind:             plan.ErrTimeout,
				Message:          fmt.Sprintf("script timed out after %s", duration.Round(time.Second)),
				TechnicalDetails: string(stderrTail),
			}
		}
		return nil, &plan.StepError{
			Kind:             plan.ErrCancelled,
			Message:          "cancelled",
			TechnicalDetails: string(stderrTail),
		}
	}

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &plan.StepError{
			Kind:             plan.ErrInternal,
			Message:          fmt.Sprintf("script exited with code %d", exitCode),
			Retryable:        false,
			TechnicalDetails: string(stderrTail),
		}
	}

	return &Result{
		Stdout:      string(stdoutBuf),
		RecordCount: recordCount,
		Duration:    duration,
	}, nil
}

func internalErr(action string, err error) *plan.StepError {
	return &plan.StepError{
		Kind:    plan.ErrInternal,
		Message: fmt.Sprintf("%s: %v", action, err),
	}
}

// readBounded drains r, keeping at most limit bytes and discarding the rest.
func readBounded(r io.Reader, limit int) []byte {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 && len(buf) < limit {
			take := n
			if len(buf)+take > limit {
				take = limit - len(buf)
			}
			buf = append(buf, chunk[:take]...)
		}
		if err != nil {
			return buf
		}
	}
}

// appendTail keeps the trailing maxStderrTail bytes of plain stderr output.
func appendTail(tail []byte, line string) []byte {
	tail = append(tail, line...)
	tail = append(tail, '\n')
	if len(tail) > maxStderrTail {
		tail = tail[len(tail)-maxStderrTail:]
	}
	return tail
}
