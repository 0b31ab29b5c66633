// Package workflow composes the Scheduler into the ordered, named Stages of
// spec.md §3/§4: a Workflow is a sequence of Stages, each either a parallel
// fan-out (every task in the stage scheduled together, sharing one
// Scheduler.Run closure) or a strictly sequential list run one task at a
// time. Workflows introduce no new execution primitives of their own; they
// are pure orchestration over what the Scheduler already does per task.
package workflow

import (
	"context"

	"github.com/scriptweaver/zr/internal/condition"
	"github.com/scriptweaver/zr/internal/control"
	"github.com/scriptweaver/zr/internal/process"
	"github.com/scriptweaver/zr/internal/scheduler"
	"github.com/scriptweaver/zr/internal/task"
)

// Runner executes Workflows against a fixed Scheduler.
type Runner struct {
	scheduler *scheduler.Scheduler
	condition *condition.Evaluator
}

// New builds a workflow Runner over an already-constructed Scheduler.
func New(s *scheduler.Scheduler, cond *condition.Evaluator) *Runner {
	return &Runner{scheduler: s, condition: cond}
}

// StageResult reports the outcome of one Stage.
type StageResult struct {
	Name    string
	Skipped bool
	Results map[string]*task.Result
}

// Run executes wf's Stages in order. A Stage whose Condition evaluates to
// false is skipped entirely (none of its tasks are scheduled). Within a
// Stage, Parallel schedules every listed task's dependency closure in one
// Scheduler.Run call; otherwise each task runs one at a time via its own
// Run call, in declared order. FailFast stops the whole workflow — not just
// the current stage — as soon as any task in that stage fails, without
// proceeding to later stages.
func (r *Runner) Run(ctx context.Context, handle *control.Handle, wf *task.Workflow, dryRun bool) ([]StageResult, error) {
	var out []StageResult

	for _, stage := range wf.Stages {
		if !r.condition.Eval(stage.Condition, process.MergedEnvMap(nil)) {
			out = append(out, StageResult{Name: stage.Name, Skipped: true})
			continue
		}

		results, failed, err := r.runStage(ctx, handle, stage, dryRun)
		if err != nil {
			return out, err
		}
		out = append(out, StageResult{Name: stage.Name, Results: results})

		if stage.FailFast && failed {
			break
		}
	}

	return out, nil
}

func (r *Runner) runStage(ctx context.Context, handle *control.Handle, stage task.Stage, dryRun bool) (map[string]*task.Result, bool, error) {
	if stage.Parallel {
		results, err := r.scheduler.Run(ctx, handle, stage.Tasks, dryRun)
		if err != nil {
			return nil, false, err
		}
		return results, anyFailed(results), nil
	}

	combined := make(map[string]*task.Result)
	for _, name := range stage.Tasks {
		results, err := r.scheduler.Run(ctx, handle, []string{name}, dryRun)
		if err != nil {
			return combined, false, err
		}
		for k, v := range results {
			combined[k] = v
		}
		if !combined[name].Success && stage.FailFast {
			return combined, true, nil
		}
	}
	return combined, anyFailed(combined), nil
}

func anyFailed(results map[string]*task.Result) bool {
	for _, r := range results {
		if !r.Success {
			return true
		}
	}
	return false
}
