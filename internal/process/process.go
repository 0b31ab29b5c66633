// Package process spawns task commands and enforces their runtime policy
// (spec.md §4.3). It is grounded on the teacher's internal/core/executor.go
// — sh -c invocation, process-group management via syscall.SysProcAttr, and
// kill-on-cancel via a negative PID — but inverts the teacher's environment
// model: spec.md requires the child to inherit the full parent environment
// with task-declared overrides layered on top, the opposite of the
// teacher's allowlist-only isolation.
package process

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/scriptweaver/zr/internal/control"
	"github.com/scriptweaver/zr/internal/task"
)

// StdioMode selects how a task's output is handled (spec.md §4.3).
type StdioMode int

const (
	// StdioCapture buffers stdout/stderr for the caller to inspect.
	StdioCapture StdioMode = iota
	// StdioInherit connects the child directly to this process's streams.
	StdioInherit
)

// Spec describes a single process invocation.
type Spec struct {
	Cmd       string
	Cwd       string
	Env       []task.EnvVar
	TimeoutMs int64
	Stdio     StdioMode

	// GraceMs is how long to wait after SIGTERM before escalating to
	// SIGKILL. Zero uses DefaultGraceMs.
	GraceMs int64

	// MemoryLimitBytes, if non-zero, requests soft resource-limit monitoring:
	// the child's resident set size is polled periodically and the process
	// group is killed if it's exceeded. Unsupported platforms, or a failure
	// to start the monitor, are never fatal (spec.md §7 ResourceError): the
	// task still runs, reported via Result.ResourceWarning.
	MemoryLimitBytes int64

	// PollInterval controls how often the soft monitor samples RSS. Zero
	// uses DefaultPollInterval.
	PollInterval time.Duration

	// Log receives debug/info/warn lines around this invocation's state
	// transitions (spec.md §0). Nil disables logging for this call, which
	// every test relies on to stay quiet.
	Log *zerolog.Logger
}

func (s Spec) logger() zerolog.Logger {
	if s.Log != nil {
		return *s.Log
	}
	return zerolog.Nop()
}

// DefaultGraceMs is the default terminate-then-kill grace period.
const DefaultGraceMs = 3000

// DefaultPollInterval is how often the soft memory monitor samples RSS.
const DefaultPollInterval = 500 * time.Millisecond

// Result is the outcome of one process run.
type Result struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	TimedOut        bool
	Cancelled       bool
	DurationMs      int64
	ResourceWarning error
}

// Run spawns Spec's command via `sh -c` and waits for it to finish, time
// out, or be cancelled through handle. A non-nil returned error means the
// process could not be spawned at all (task.SpawnFailedError); any other
// outcome — including a non-zero exit, timeout, or cancellation — is
// reported through Result, never as an error, since those are ordinary task
// outcomes the Scheduler must be able to retry or tolerate.
func Run(ctx context.Context, spec Spec, handle *control.Handle) (*Result, error) {
	log := spec.logger()

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if spec.TimeoutMs > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, time.Duration(spec.TimeoutMs)*time.Millisecond)
		defer cancelTimeout()
	}

	cmd := exec.Command("sh", "-c", spec.Cmd)
	cmd.Dir = spec.Cwd
	cmd.Env = mergedEnv(spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	switch spec.Stdio {
	case StdioInherit:
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	default:
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("cmd", spec.Cmd).Msg("spawn failed")
		return nil, &task.SpawnFailedError{TaskName: spec.Cmd, Cause: err}
	}
	log.Debug().Str("cmd", spec.Cmd).Int("pid", cmd.Process.Pid).Msg("process spawned")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var handleDone <-chan struct{}
	if handle != nil {
		handleDone = handle.Context().Done()
	}

	monitorStop := make(chan struct{})
	exceeded, resourceWarning := startResourceMonitor(cmd.Process.Pid, spec.MemoryLimitBytes, pollInterval(spec.PollInterval), monitorStop)
	defer close(monitorStop)

	if handle != nil {
		go watchPause(cmd.Process.Pid, handle, pollInterval(spec.PollInterval), monitorStop)
	}

	select {
	case <-runCtx.Done():
		timedOut := runCtx.Err() == context.DeadlineExceeded
		if timedOut {
			log.Warn().Str("cmd", spec.Cmd).Int64("timeout_ms", spec.TimeoutMs).Msg("process timed out, killing")
		} else {
			log.Debug().Str("cmd", spec.Cmd).Msg("process context done, killing")
		}
		killGroup(cmd, time.Duration(graceMs(spec.GraceMs))*time.Millisecond, done)
		return &Result{
			TimedOut:        timedOut,
			Cancelled:       !timedOut,
			ExitCode:        -1,
			Stdout:          stdout.Bytes(),
			Stderr:          stderr.Bytes(),
			DurationMs:      time.Since(start).Milliseconds(),
			ResourceWarning: resourceWarning,
		}, nil

	case <-handleDone:
		log.Debug().Str("cmd", spec.Cmd).Msg("process cancelled via handle, killing")
		killGroup(cmd, time.Duration(graceMs(spec.GraceMs))*time.Millisecond, done)
		return &Result{
			Cancelled:       true,
			ExitCode:        -1,
			Stdout:          stdout.Bytes(),
			Stderr:          stderr.Bytes(),
			DurationMs:      time.Since(start).Milliseconds(),
			ResourceWarning: resourceWarning,
		}, nil

	case <-exceeded:
		log.Warn().Str("cmd", spec.Cmd).Int64("limit_bytes", spec.MemoryLimitBytes).Msg("memory limit exceeded, killing")
		killGroup(cmd, time.Duration(graceMs(spec.GraceMs))*time.Millisecond, done)
		return &Result{
			ExitCode:        -1,
			Stdout:          stdout.Bytes(),
			Stderr:          stderr.Bytes(),
			DurationMs:      time.Since(start).Milliseconds(),
			ResourceWarning: fmt.Errorf("memory limit of %d bytes exceeded", spec.MemoryLimitBytes),
		}, nil

	case err := <-done:
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				log.Warn().Err(err).Str("cmd", spec.Cmd).Msg("process wait failed")
				return nil, &task.SpawnFailedError{TaskName: spec.Cmd, Cause: err}
			}
		}
		log.Debug().Str("cmd", spec.Cmd).Int("exit_code", exitCode).Msg("process exited")
		return &Result{
			ExitCode:        exitCode,
			Stdout:          stdout.Bytes(),
			Stderr:          stderr.Bytes(),
			DurationMs:      time.Since(start).Milliseconds(),
			ResourceWarning: resourceWarning,
		}, nil
	}
}

func pollInterval(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return DefaultPollInterval
}

func graceMs(v int64) int64 {
	if v > 0 {
		return v
	}
	return DefaultGraceMs
}

// watchPause polls handle's pause state on the same cadence as the resource
// monitor and suspends or resumes the child's whole process group
// (SIGSTOP/SIGCONT) to match, so Pause actually stops an in-flight task
// rather than only gating the dispatch of new ones (spec.md §4.3, §4.6).
// It exits when stop is closed, leaving the group running if it was left
// stopped mid-poll — killGroup always SIGCONTs before terminating, so a
// paused task can still be cancelled.
func watchPause(pid int, handle *control.Handle, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pgid := -pid
	stopped := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			switch {
			case handle.Paused() && !stopped:
				_ = syscall.Kill(pgid, syscall.SIGSTOP)
				stopped = true
			case !handle.Paused() && stopped:
				_ = syscall.Kill(pgid, syscall.SIGCONT)
				stopped = false
			}
		}
	}
}

// killGroup sends SIGTERM to the process group, waits up to grace for a
// clean exit, then escalates to SIGKILL. done must be the channel cmd.Wait
// is reporting into; killGroup drains it before returning so no goroutine
// leaks past the caller's return.
func killGroup(cmd *exec.Cmd, grace time.Duration, done chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	// A paused group ignores SIGTERM until continued; make sure it's running
	// before asking it to exit.
	_ = syscall.Kill(pgid, syscall.SIGCONT)
	_ = syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(grace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
		<-done
	}
}

// MergedEnvMap builds the same (process_env, task_env_overrides) lookup
// context spec.md §4.2 requires for condition evaluation: every inherited
// process environment variable, with overrides layered on top and winning
// on key collision (the first of duplicate override keys wins). Exported so
// internal/condition and internal/workflow can see ambient env vars a task
// never re-declares as an override, the same view the child process itself
// gets via mergedEnv below.
func MergedEnvMap(overrides []task.EnvVar) map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	seen := make(map[string]bool, len(overrides))
	for _, e := range overrides {
		if seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		out[e.Key] = e.Value
	}
	return out
}

// mergedEnv builds the child's environment: the full parent environment
// (spec.md §4.3 "merged environment") with task-declared overrides applied
// on top, overrides winning over the parent on key collision; among
// duplicate override keys the first one wins. Deterministic key order isn't required by exec.Cmd.Env, but
// sorting overrides keeps behavior reproducible for tests.
func mergedEnv(overrides []task.EnvVar) []string {
	base := os.Environ()
	if len(overrides) == 0 {
		return base
	}

	sorted := append([]task.EnvVar(nil), overrides...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	seen := make(map[string]bool, len(sorted))
	out := make([]string, 0, len(base)+len(sorted))
	keys := make(map[string]bool, len(sorted))
	for _, e := range sorted {
		keys[e.Key] = true
	}
	for _, kv := range base {
		key := kv
		for i, c := range kv {
			if c == '=' {
				key = kv[:i]
				break
			}
		}
		if keys[key] {
			continue // overridden below
		}
		out = append(out, kv)
	}
	for _, e := range sorted {
		if seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		out = append(out, fmt.Sprintf("%s=%s", e.Key, e.Value))
	}
	return out
}
