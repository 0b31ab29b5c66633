// Package task defines the domain model shared by every component of the
// execution pipeline: task definitions, results, workflows, and the
// fully-materialised task/workflow set the Scheduler borrows immutably.
package task

import "fmt"

// EnvVar is a single ordered environment override.
//
// Stored as a slice rather than a map on Task because cache key derivation
// (internal/cache) and the condition evaluator (internal/condition) both
// need a stable, declaration order — a Go map would force a sort at every
// call site instead of once at load time.
type EnvVar struct {
	Key   string
	Value string
}

// Task is the atomic unit of work. Tasks are immutable once loaded: the
// Scheduler and every worker goroutine only ever read a *Task, never mutate
// one.
type Task struct {
	Name        string
	Cmd         string
	Cwd         string
	Description string

	// Deps are parallel prerequisites: edges in the dependency DAG.
	Deps []string

	// DepsSerial are sequential prerequisites, run inline as a chain by the
	// Scheduler when this task is requested. They are NOT edges in the DAG.
	DepsSerial []string

	Env []EnvVar

	TimeoutMs int64

	AllowFailure bool

	RetryMax      int
	RetryDelayMs  int64
	RetryBackoff  bool

	Condition string

	Cache bool

	// MaxConcurrent bounds concurrent instances of this task name across the
	// whole run. Zero means unbounded.
	MaxConcurrent int

	// Matrix, if non-empty, marks this task as an expansion template. Matrix
	// expansion (internal/matrix) consumes this field and never appears on a
	// task once expansion has run (idempotence, spec.md §8).
	Matrix map[string][]string

	// BaseName is the pre-expansion template name a matrix variant was
	// produced from (e.g. "build" for variant "build:os=linux"), empty for a
	// task that was never a matrix variant. The Scheduler keys its
	// per-task-name concurrency semaphore by BaseName when set, so
	// max_concurrent bounds fan-out across all variants of one matrix task
	// rather than giving each variant its own dedicated semaphore.
	BaseName string
}

// SemaphoreKey returns the name the Scheduler should key this task's
// per-task-name concurrency semaphore by: BaseName for a matrix variant,
// Name otherwise.
func (t *Task) SemaphoreKey() string {
	if t.BaseName != "" {
		return t.BaseName
	}
	return t.Name
}

// EnvMap returns the task's environment overrides as a map, task-declared
// order losing to simplicity where order no longer matters (e.g. condition
// lookups, which only care about presence).
func (t *Task) EnvMap() map[string]string {
	m := make(map[string]string, len(t.Env))
	for _, e := range t.Env {
		m[e.Key] = e.Value
	}
	return m
}

// SkipReason records why a TaskResult was skipped rather than executed.
type SkipReason string

const (
	// SkipNone means the task was not skipped (it ran, or is a placeholder
	// default before a result is known).
	SkipNone SkipReason = ""
	// SkipCondition means the task's condition evaluated to false.
	SkipCondition SkipReason = "condition"
	// SkipCache means a cache hit satisfied the task.
	SkipCache SkipReason = "cache"
	// SkipDryRun means the run was a dry-run plan, not a real execution.
	SkipDryRun SkipReason = "dry_run"
	// SkipUpstreamFailure means the task never ran because a dependency did
	// not succeed, an earlier failure short-circuited the run, or the run was
	// cancelled.
	SkipUpstreamFailure SkipReason = "upstream_failure"
)

// Result is produced by the Scheduler, one per executed (or skipped) task
// instance.
type Result struct {
	Name       string
	Success    bool
	Skipped    bool
	Reason     SkipReason
	ExitCode   int
	DurationMs int64
	Attempts   int
	TimedOut   bool
	Cancelled  bool
}

// Stage is one step of a Workflow: either a parallel fan-out (resolved via
// the Scheduler against a synthetic root depending on every task named here)
// or a sequential list run one at a time.
type Stage struct {
	Name      string
	Tasks     []string
	Parallel  bool
	FailFast  bool
	Condition string
}

// Workflow is an ordered list of Stages. Workflows compose the Scheduler;
// they introduce no new execution primitives.
type Workflow struct {
	Name   string
	Stages []Stage
}

// Set is the fully materialised task/workflow model — "the config model" of
// spec.md §6 — that the loader produces and every other component borrows
// immutably. It is the `tasks` input to Graph.Build and Scheduler.Run.
type Set struct {
	Tasks     map[string]*Task
	Workflows map[string]*Workflow
}

// NewSet builds an empty, ready-to-populate Set.
func NewSet() *Set {
	return &Set{Tasks: make(map[string]*Task), Workflows: make(map[string]*Workflow)}
}

// Add registers a task. It does not validate; call Validate once the whole
// set is loaded.
func (s *Set) Add(t *Task) {
	s.Tasks[t.Name] = t
}

// Validate checks the load-time invariants of spec.md §3:
//   - task names are unique (guaranteed by map identity, but duplicate Add
//     calls with differing content are still a caller bug we can't see here)
//   - every name in Deps/DepsSerial resolves to a task in the set
//
// Cycle detection is NOT performed here: it's the Graph component's job
// (spec.md §4.1), because deps_serial cycles are detected lazily at
// execution time (spec.md §4.6 step 4), not at load time.
func (s *Set) Validate() error {
	for name, t := range s.Tasks {
		if name == "" {
			return fmt.Errorf("task with empty name")
		}
		for _, d := range t.Deps {
			if _, ok := s.Tasks[d]; !ok {
				return &TaskNotFoundError{Name: d, ReferencedBy: name}
			}
		}
		for _, d := range t.DepsSerial {
			if _, ok := s.Tasks[d]; !ok {
				return &TaskNotFoundError{Name: d, ReferencedBy: name}
			}
		}
	}
	for wfName, wf := range s.Workflows {
		for _, st := range wf.Stages {
			for _, tn := range st.Tasks {
				if _, ok := s.Tasks[tn]; !ok {
					return &TaskNotFoundError{Name: tn, ReferencedBy: wfName + "/" + st.Name}
				}
			}
		}
	}
	return nil
}
