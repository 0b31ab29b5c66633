// Package history is a non-core, optional consumer of the Scheduler's
// TaskResult stream: it appends one tab-separated record per task to an
// io.Writer in the format spec.md §6 names, for tools (shell history,
// dashboards) that want a durable run log without depending on the
// scheduler's in-memory result map. It is wired only from cmd/zr, never from
// internal/scheduler itself, preserving the "core does not own history
// writing" boundary.
package history

import (
	"fmt"
	"io"
	"sort"

	"github.com/scriptweaver/zr/internal/task"
)

// Writer appends task.Result records as they complete.
type Writer struct {
	w io.Writer
}

// New wraps w as a history Writer.
func New(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Record writes one line: <unix_seconds>\t<task_name>\t<ok|fail>\t<duration_ms>\t<task_count>.
// taskCount is the total number of tasks in the run this result belongs to,
// letting a reader group consecutive lines back into runs without a separate
// run-boundary marker.
func (h *Writer) Record(unixSeconds int64, r *task.Result, taskCount int) error {
	status := "ok"
	if !r.Success {
		status = "fail"
	}
	_, err := fmt.Fprintf(h.w, "%d\t%s\t%s\t%d\t%d\n", unixSeconds, r.Name, status, r.DurationMs, taskCount)
	return err
}

// RecordAll writes one record per result, in name-sorted order for
// reproducible output, using the same unixSeconds timestamp for the whole
// run (all results in one Scheduler.Run share a run boundary).
func (h *Writer) RecordAll(unixSeconds int64, results map[string]*task.Result) error {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.Record(unixSeconds, results[name], len(results)); err != nil {
			return err
		}
	}
	return nil
}
