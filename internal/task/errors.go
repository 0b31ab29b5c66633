package task

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// CycleError reports a dependency cycle detected among Deps edges
// (spec.md §7, ConfigurationError — Cycle).
type CycleError struct {
	// Nodes is the offending node set, sorted for stable error text.
	Nodes []string
}

func (e *CycleError) Error() string {
	nodes := append([]string(nil), e.Nodes...)
	sort.Strings(nodes)
	return fmt.Sprintf("cycle detected among tasks: %s", strings.Join(nodes, ", "))
}

// NewCycleError builds a CycleError, wrapping via pkg/errors so callers can
// still errors.As/errors.Is against the concrete type.
func NewCycleError(nodes []string) error {
	return errors.WithStack(&CycleError{Nodes: append([]string(nil), nodes...)})
}

// SerialCycleError reports a cycle discovered while chasing deps_serial
// (spec.md §7, ConfigurationError — SerialCycle). Only the offending chain
// fails; siblings proceed (spec.md §4.6 step 4).
type SerialCycleError struct {
	Chain []string
}

func (e *SerialCycleError) Error() string {
	return fmt.Sprintf("serial dependency cycle: %s", strings.Join(e.Chain, " -> "))
}

func NewSerialCycleError(chain []string) error {
	return errors.WithStack(&SerialCycleError{Chain: append([]string(nil), chain...)})
}

// TaskNotFoundError reports a dangling name in deps, deps_serial, or a
// workflow stage (spec.md §7, ConfigurationError — TaskNotFound).
type TaskNotFoundError struct {
	Name         string
	ReferencedBy string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %q referenced by %q does not exist", e.Name, e.ReferencedBy)
}

// SpawnFailedError reports a child process that could not be started
// (spec.md §7, ProcessError — SpawnFailed).
type SpawnFailedError struct {
	TaskName string
	Cause    error
}

func (e *SpawnFailedError) Error() string {
	return fmt.Sprintf("spawning task %q: %v", e.TaskName, e.Cause)
}

func (e *SpawnFailedError) Unwrap() error { return e.Cause }

// ResourceError reports a failed resource-limit setup (spec.md §7,
// ResourceError). It is always a warning: never fatal by itself.
type ResourceError struct {
	TaskName string
	Cause    error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource limits for task %q: %v (limit not enforced)", e.TaskName, e.Cause)
}

func (e *ResourceError) Unwrap() error { return e.Cause }

// CacheError reports an inaccessible cache directory (spec.md §7,
// CacheError). Always a warning: treated as a cache miss, never fatal.
type CacheError struct {
	Op    string
	Cause error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v (treating as miss)", e.Op, e.Cause)
}

func (e *CacheError) Unwrap() error { return e.Cause }
