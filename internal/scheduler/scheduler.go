// Package scheduler is the orchestrator of spec.md §4.2: it walks the
// dependency graph level by level, bounding concurrency globally and per
// task name, short-circuiting on failure unless a task declares
// allow_failure, and chasing each task's deps_serial chain inline before the
// task itself runs. It is grounded on the teacher's internal/dag/scheduler.go
// (ready-task selection ordered by depth then name) and internal/dag/executor.go
// (depth-staged dispatch with an in-flight counter), generalized from the
// teacher's single global worker count to this spec's two-tier semaphore
// model via golang.org/x/sync/semaphore.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog"

	"github.com/scriptweaver/zr/internal/cache"
	"github.com/scriptweaver/zr/internal/condition"
	"github.com/scriptweaver/zr/internal/control"
	"github.com/scriptweaver/zr/internal/graph"
	"github.com/scriptweaver/zr/internal/process"
	"github.com/scriptweaver/zr/internal/retry"
	"github.com/scriptweaver/zr/internal/task"
)

// Scheduler runs a fixed task.Set. One Scheduler is typically built once per
// process and reused across runs; it holds no per-run state itself (all of
// that lives in the runState built fresh by Run).
type Scheduler struct {
	tasks      *task.Set
	condition  *condition.Evaluator
	cacheStore *cache.Store
	log        zerolog.Logger

	globalConcurrency int64
}

// New builds a Scheduler. cacheStore may be nil, disabling caching entirely
// (every cache-eligible task is always treated as a miss).
func New(tasks *task.Set, cond *condition.Evaluator, cacheStore *cache.Store, log zerolog.Logger, globalConcurrency int) *Scheduler {
	if globalConcurrency < 1 {
		globalConcurrency = 1
	}
	return &Scheduler{
		tasks:             tasks,
		condition:         cond,
		cacheStore:        cacheStore,
		log:               log,
		globalConcurrency: int64(globalConcurrency),
	}
}

// runState is the mutable, per-Run bookkeeping shared by every worker
// goroutine dispatched during that Run.
type runState struct {
	ctx    context.Context
	handle *control.Handle
	dryRun bool

	global     *semaphore.Weighted
	perTaskMu  sync.Mutex
	perTask    map[string]*semaphore.Weighted

	resultsMu sync.Mutex
	results   map[string]*task.Result

	failed atomic.Bool

	onceMu sync.Mutex
	once   map[string]*sync.Once

	serialMu    sync.Mutex
	serialState map[string]serialStatus
}

type serialStatus int

const (
	serialNotStarted serialStatus = iota
	serialVisiting
	serialDoneSuccess
	serialDoneFailure
)

// Run executes the closure of `needed` (every task reachable from it via
// Deps, the same closure Plan computes) and returns one Result per task. Run never returns
// an error for ordinary task failures — those are captured per-task in the
// returned map — only for structural problems (a dependency cycle, a
// reference to an unknown task) that make the plan impossible to execute at
// all.
func (s *Scheduler) Run(ctx context.Context, handle *control.Handle, needed []string, dryRun bool) (map[string]*task.Result, error) {
	closure, err := s.closure(needed)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(s.tasks.Tasks, closure)
	if err != nil {
		return nil, err
	}

	if handle == nil {
		handle = control.New(ctx)
	}

	rs := &runState{
		ctx:         ctx,
		handle:      handle,
		dryRun:      dryRun,
		global:      semaphore.NewWeighted(s.globalConcurrency),
		perTask:     make(map[string]*semaphore.Weighted),
		results:     make(map[string]*task.Result),
		once:        make(map[string]*sync.Once),
		serialState: make(map[string]serialStatus),
	}

	levels := g.Levels()
	for _, level := range levels {
		s.runLevel(rs, level)
	}

	return rs.results, nil
}

// closure computes every task reachable from `needed` via Deps (parallel
// edges only; DepsSerial tasks are resolved lazily at execution time per
// task, not included in the DAG itself).
func (s *Scheduler) closure(needed []string) ([]string, error) {
	seen := make(map[string]bool)
	var walk func(name string) error
	walk = func(name string) error {
		if seen[name] {
			return nil
		}
		t, ok := s.tasks.Tasks[name]
		if !ok {
			return &task.TaskNotFoundError{Name: name, ReferencedBy: "run request"}
		}
		seen[name] = true
		for _, d := range t.Deps {
			if err := walk(d); err != nil {
				return err
			}
		}
		return nil
	}
	for _, n := range needed {
		if err := walk(n); err != nil {
			return nil, err
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	return out, nil
}

// runLevel runs every task in one execution level concurrently, bounded by
// the global and per-task-name semaphores, and waits for the whole level to
// finish before the caller moves to the next.
func (s *Scheduler) runLevel(rs *runState, level []string) {
	s.log.Debug().Strs("tasks", level).Msg("dispatching level")
	var wg sync.WaitGroup
	for _, name := range level {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					s.log.Warn().Str("task", name).Interface("panic", p).Msg("task panicked")
					rs.setResult(name, &task.Result{Name: name, Success: false})
					if !s.tasks.Tasks[name].AllowFailure {
						rs.failed.Store(true)
					}
				}
			}()
			s.runOne(rs, name)
		}()
	}
	wg.Wait()
}

// runOne resolves name's serial chain, then runs name itself, recording a
// Result. It is safe to call concurrently for distinct names; when name also
// appears as another task's serial dependency, execute's per-name sync.Once
// keeps it from running twice.
func (s *Scheduler) runOne(rs *runState, name string) {
	if _, err := s.runSerialChain(rs, name, make(map[string]bool)); err != nil {
		rs.setResult(name, &task.Result{Name: name, Success: false})
		return
	}
	s.execute(rs, name)
}

// runSerialChain ensures every task in name's DepsSerial chain has run, in
// declared order, before name itself is allowed to proceed. visiting is the
// per-call-stack set used to detect a cycle through deps_serial edges
// (spec.md §7 SerialCycle): unlike the DAG's Deps cycle check, this is
// discovered lazily, per invocation, because deps_serial edges are not part
// of the static graph.
func (s *Scheduler) runSerialChain(rs *runState, name string, visiting map[string]bool) (bool, error) {
	t, ok := s.tasks.Tasks[name]
	if !ok {
		return false, &task.TaskNotFoundError{Name: name}
	}
	if len(t.DepsSerial) == 0 {
		return true, nil
	}
	if visiting[name] {
		chain := make([]string, 0, len(visiting)+1)
		for k := range visiting {
			chain = append(chain, k)
		}
		chain = append(chain, name)
		return false, task.NewSerialCycleError(chain)
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, dep := range t.DepsSerial {
		ok, err := s.runSerialChain(rs, dep, visiting)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if !s.ensureSerialRun(rs, dep) {
			return false, nil
		}
	}
	return true, nil
}

// ensureSerialRun runs dep exactly once as a serial prerequisite (memoized
// via serialState so a task named by multiple chains only executes once),
// reporting whether dep succeeded.
func (s *Scheduler) ensureSerialRun(rs *runState, dep string) bool {
	rs.serialMu.Lock()
	status := rs.serialState[dep]
	if status == serialDoneSuccess {
		rs.serialMu.Unlock()
		return true
	}
	if status == serialDoneFailure {
		rs.serialMu.Unlock()
		return false
	}
	rs.serialState[dep] = serialVisiting
	rs.serialMu.Unlock()

	s.execute(rs, dep)

	result, _ := rs.getResult(dep)
	success := result != nil && (result.Success || result.Skipped)

	rs.serialMu.Lock()
	if success {
		rs.serialState[dep] = serialDoneSuccess
	} else {
		rs.serialState[dep] = serialDoneFailure
	}
	rs.serialMu.Unlock()
	return success
}

// execute runs a single task's full lifecycle exactly once per Scheduler.Run,
// even though it may be reached concurrently both from direct level dispatch
// and from another task's serial-chain resolution (ensureSerialRun): a
// per-name sync.Once, created lazily under onceMu, makes every caller past
// the first block until the real work (doExecute) finishes.
func (s *Scheduler) execute(rs *runState, name string) {
	rs.onceMu.Lock()
	once, ok := rs.once[name]
	if !ok {
		once = &sync.Once{}
		rs.once[name] = once
	}
	rs.onceMu.Unlock()

	once.Do(func() { s.doExecute(rs, name) })
}

// doExecute is execute's body: upstream-failure short circuit, condition
// evaluation, cache check, semaphore-bounded process execution with retry,
// and result recording. Never call directly; go through execute.
func (s *Scheduler) doExecute(rs *runState, name string) {
	t := s.tasks.Tasks[name]

	if rs.handle.Cancelled() {
		s.log.Debug().Str("task", name).Msg("skipping: run cancelled")
		rs.setResult(name, &task.Result{Name: name, Skipped: true, Reason: task.SkipUpstreamFailure})
		return
	}

	// A prior failure anywhere in the run short-circuits every task not yet
	// started, unless this task itself declares allow_failure, which opts it
	// (not its dependents) out of the run-wide short circuit. Its own
	// dependencies must still have succeeded (depsSucceeded below).
	if rs.failed.Load() && !t.AllowFailure {
		s.log.Debug().Str("task", name).Msg("skipping: run-wide failure short circuit")
		rs.setResult(name, &task.Result{Name: name, Skipped: true, Reason: task.SkipUpstreamFailure})
		return
	}
	if !s.depsSucceeded(rs, t) {
		s.log.Debug().Str("task", name).Msg("skipping: dependency did not succeed")
		rs.setResult(name, &task.Result{Name: name, Skipped: true, Reason: task.SkipUpstreamFailure})
		return
	}

	if !s.condition.Eval(t.Condition, process.MergedEnvMap(t.Env)) {
		s.log.Info().Str("task", name).Str("condition", t.Condition).Msg("skipping: condition false")
		rs.setResult(name, &task.Result{Name: name, Success: true, Skipped: true, Reason: task.SkipCondition})
		return
	}

	var cacheKey string
	if t.Cache && s.cacheStore != nil {
		cacheKey = cache.Key(t.Cmd, t.Env)
		if s.cacheStore.Hit(cacheKey) {
			s.log.Info().Str("task", name).Str("cache_key", cacheKey).Msg("skipping: cache hit")
			rs.setResult(name, &task.Result{Name: name, Success: true, Skipped: true, Reason: task.SkipCache})
			return
		}
	}

	if rs.dryRun {
		rs.setResult(name, &task.Result{Name: name, Success: true, Skipped: true, Reason: task.SkipDryRun})
		return
	}

	s.log.Debug().Str("task", name).Str("cmd", t.Cmd).Msg("starting task")

	sem := rs.taskSemaphore(t.SemaphoreKey(), t.MaxConcurrent)
	if err := rs.global.Acquire(rs.ctx, 1); err != nil {
		rs.setResult(name, &task.Result{Name: name, Skipped: true, Reason: task.SkipUpstreamFailure, Cancelled: true})
		return
	}
	defer rs.global.Release(1)

	if sem != nil {
		if err := sem.Acquire(rs.ctx, 1); err != nil {
			rs.setResult(name, &task.Result{Name: name, Skipped: true, Reason: task.SkipUpstreamFailure, Cancelled: true})
			return
		}
		defer sem.Release(1)
	}

	policy := retry.Policy{MaxAttempts: t.RetryMax + 1, DelayMs: t.RetryDelayMs, Doubling: t.RetryBackoff}

	var lastProcResult *process.Result
	attemptResult, attempts := retry.Run(rs.handle.Context(), policy, func(int) retry.Attempt {
		rs.handle.WaitIfPaused()
		res, err := process.Run(rs.handle.Context(), process.Spec{
			Cmd:       t.Cmd,
			Cwd:       t.Cwd,
			Env:       t.Env,
			TimeoutMs: t.TimeoutMs,
			Log:       &s.log,
		}, rs.handle)
		if err != nil {
			lastProcResult = &process.Result{ExitCode: -1}
			return retry.Attempt{Success: false}
		}
		lastProcResult = res
		return retry.Attempt{Success: res.ExitCode == 0}
	})

	result := &task.Result{
		Name:       name,
		Success:    attemptResult.Success,
		ExitCode:   lastProcResult.ExitCode,
		Attempts:   attempts,
		TimedOut:   lastProcResult.TimedOut,
		Cancelled:  lastProcResult.Cancelled,
		DurationMs: lastProcResult.DurationMs,
	}

	if !result.Success && t.AllowFailure {
		result.Success = true
	}
	if !attemptResult.Success && !t.AllowFailure {
		rs.failed.Store(true)
	}

	if attemptResult.Success && cacheKey != "" {
		_ = s.cacheStore.Mark(cacheKey) // cache errors are always non-fatal (task.CacheError)
	}

	if result.Success {
		s.log.Info().Str("task", name).Int("attempts", result.Attempts).Int64("duration_ms", result.DurationMs).Msg("task succeeded")
	} else {
		s.log.Warn().Str("task", name).Int("exit_code", result.ExitCode).Int("attempts", result.Attempts).Msg("task failed")
	}

	rs.setResult(name, result)
}

// depsSucceeded reports whether every parallel dependency of t completed
// successfully (including skip-as-success cases like a cache hit or a false
// condition). A dependency with no recorded result yet means this task's
// level was reached before its dependency's level finished, which should
// never happen given level-by-level dispatch; treated conservatively as not
// satisfied.
func (s *Scheduler) depsSucceeded(rs *runState, t *task.Task) bool {
	for _, d := range t.Deps {
		res, ok := rs.getResult(d)
		if !ok || !res.Success {
			return false
		}
	}
	return true
}

func (rs *runState) taskSemaphore(name string, maxConcurrent int) *semaphore.Weighted {
	if maxConcurrent <= 0 {
		return nil
	}
	rs.perTaskMu.Lock()
	defer rs.perTaskMu.Unlock()
	if sem, ok := rs.perTask[name]; ok {
		return sem
	}
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	rs.perTask[name] = sem
	return sem
}

func (rs *runState) setResult(name string, r *task.Result) {
	rs.resultsMu.Lock()
	defer rs.resultsMu.Unlock()
	rs.results[name] = r
}

func (rs *runState) getResult(name string) (*task.Result, bool) {
	rs.resultsMu.Lock()
	defer rs.resultsMu.Unlock()
	r, ok := rs.results[name]
	return r, ok
}

// Plan returns the layered execution levels for `needed` without running
// anything (spec.md §6 dry-run / plan operation), resolving the same
// dependency closure Run would use.
func (s *Scheduler) Plan(needed []string) ([][]string, error) {
	closure, err := s.closure(needed)
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(s.tasks.Tasks, closure)
	if err != nil {
		return nil, err
	}
	return g.Levels(), nil
}
