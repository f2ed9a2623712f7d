package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	logx "jobsman/pkg/logx"
)

// State classifies how a command invocation ended.
type State int

const (
	Succeeded State = iota
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result reports one command invocation. Failures never propagate as
// errors across the scheduling boundary; they are values here.
type Result struct {
	State    State
	ExitCode int           // valid when the process ran to completion
	Err      error         // spawn or wait error detail, nil on success
	Output   string        // combined stdout/stderr tail, empty when discarded
	Started  time.Time
	Duration time.Duration
}

// outputLimit bounds captured combined output per invocation.
const outputLimit = 8 << 10

// devNullSuffix suppresses output capture when a command ends with it.
// The suffix itself is stripped; the shell never sees it.
const devNullSuffix = "&> /dev/null"

// killDelay is how long after context cancellation we wait for the process
// group to exit before SIGKILL.
const killDelay = 5 * time.Second

// Executor runs operator-supplied shell commands. Command strings are
// trusted input; they pass to the shell verbatim.
type Executor struct {
	log   logx.Logger
	shell string
}

func New(log logx.Logger) *Executor {
	return &Executor{log: log.Named("executor"), shell: "/bin/sh"}
}

// Run executes command under the shell with a hard wall-clock timeout.
// The subprocess runs in its own process group so the whole pipeline is
// terminated on timeout, not just the shell.
func (e *Executor) Run(ctx context.Context, command string, timeout time.Duration) Result {
	res := Result{Started: time.Now()}

	discard := false
	if trimmed, ok := strings.CutSuffix(strings.TrimSpace(command), devNullSuffix); ok {
		command = strings.TrimSpace(trimmed)
		discard = true
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.shell, "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay

	var buf bytes.Buffer
	if !discard {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	}

	err := cmd.Run()
	res.Duration = time.Since(res.Started)
	if !discard {
		res.Output = tail(buf.String(), outputLimit)
	}

	switch {
	case err == nil:
		res.State = Succeeded
		res.ExitCode = 0
	case runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.State = TimedOut
		res.Err = runCtx.Err()
	default:
		res.State = Failed
		res.Err = err
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
		} else {
			// Spawn failure: the process never ran.
			res.ExitCode = -1
		}
	}

	e.log.Debug("command finished",
		logx.String("state", res.State.String()),
		logx.Int("exit_code", res.ExitCode),
		logx.Duration("dur", res.Duration),
	)
	return res
}

func tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
