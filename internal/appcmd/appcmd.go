// Package appcmd wires the execution pipeline into a cobra command tree. It
// plays the role the teacher's internal/cli plays for cmd/scriptweaver: all
// flag parsing and invocation canonicalization lives here so cmd/zr/main.go
// stays a deterministic three-line boundary.
package appcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/scriptweaver/zr/internal/cache"
	"github.com/scriptweaver/zr/internal/condition"
	"github.com/scriptweaver/zr/internal/control"
	"github.com/scriptweaver/zr/internal/fixture"
	"github.com/scriptweaver/zr/internal/history"
	"github.com/scriptweaver/zr/internal/scheduler"
	"github.com/scriptweaver/zr/internal/task"
	"github.com/scriptweaver/zr/internal/workflow"
	"github.com/scriptweaver/zr/internal/zrlog"
)

// Exit codes, mirroring the teacher's scheme but renamed to this pipeline's
// failure modes.
const (
	ExitSuccess           = 0
	ExitTaskFailure       = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	file        string
	cacheDir    string
	concurrency int
	historyPath string
	verbose     bool
}

// Execute builds the root command and runs it against args, returning the
// process exit code. It never calls os.Exit itself, so tests can drive it
// in-process.
func Execute(ctx context.Context, args []string) int {
	opts := &options{}
	root := newRootCommand(opts)
	root.SetArgs(args)

	exitCode := ExitSuccess
	root.SilenceErrors = true
	root.SilenceUsage = true

	if err := root.ExecuteContext(ctx); err != nil {
		if ec, ok := err.(*exitError); ok {
			fmt.Fprintln(os.Stderr, ec.msg)
			return ec.code
		}
		fmt.Fprintln(os.Stderr, err)
		return ExitInternalError
	}
	return exitCode
}

// exitError carries a specific exit code out of a cobra RunE without
// resorting to os.Exit mid-command, keeping Execute the single exit boundary.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func newRootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "zr",
		Short: "zr runs declarative task graphs: dependencies, conditions, retries, caching.",
	}
	root.PersistentFlags().StringVarP(&opts.file, "file", "f", "zr.json", "task/workflow fixture file")
	root.PersistentFlags().StringVar(&opts.cacheDir, "cache-dir", ".zr-cache", "cache directory")
	root.PersistentFlags().IntVarP(&opts.concurrency, "concurrency", "c", 4, "global concurrency limit")
	root.PersistentFlags().StringVar(&opts.historyPath, "history", "", "append run history to this file (tab-separated)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug-level logging")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newPlanCommand(opts))
	root.AddCommand(newWorkflowCommand(opts))
	root.AddCommand(newCacheCommand(opts))
	return root
}

func (o *options) logger(component string) zerolog.Logger {
	level := zerolog.InfoLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	return zrlog.New(os.Stderr, component, level)
}

func (o *options) build(component string) (*task.Set, *scheduler.Scheduler, *workflow.Runner, error) {
	set, err := fixture.Load(o.file)
	if err != nil {
		return nil, nil, nil, &exitError{code: ExitConfigError, msg: fmt.Sprintf("loading %s: %v", o.file, err)}
	}
	cond, err := condition.New(o.logger("condition"))
	if err != nil {
		return nil, nil, nil, &exitError{code: ExitInternalError, msg: err.Error()}
	}
	cacheStore, err := cache.New(o.cacheDir, o.logger("cache"))
	if err != nil {
		return nil, nil, nil, &exitError{code: ExitInternalError, msg: err.Error()}
	}
	s := scheduler.New(set, cond, cacheStore, o.logger(component), o.concurrency)
	return set, s, workflow.New(s, cond), nil
}

// runContext installs a control.Handle that cancels on SIGINT/SIGTERM, the
// same signals the teacher's long-running commands trap before tearing down
// a run in progress.
func runContext(ctx context.Context) (context.Context, *control.Handle, context.CancelFunc) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	return sigCtx, control.New(sigCtx), stop
}

func newRunCommand(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run [task ...]",
		Short: "Run one or more tasks and their dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sched, _, err := opts.build("run")
			if err != nil {
				return err
			}
			ctx, handle, stop := runContext(cmd.Context())
			defer stop()

			results, err := sched.Run(ctx, handle, args, dryRun)
			if err != nil {
				return &exitError{code: ExitConfigError, msg: err.Error()}
			}
			printResults(results)
			if err := writeHistory(opts, results); err != nil {
				fmt.Fprintln(os.Stderr, "history:", err)
			}
			if anyFailed(results) {
				levels, _ := sched.Plan(args)
				return &exitError{code: failureExitCode(levels, results), msg: "one or more tasks failed"}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report every task as skipped (dry_run) without running any command")
	return cmd
}

func newPlanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan [task ...]",
		Short: "Print the execution levels for the requested tasks without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sched, _, err := opts.build("plan")
			if err != nil {
				return err
			}
			levels, err := sched.Plan(args)
			if err != nil {
				return &exitError{code: ExitConfigError, msg: err.Error()}
			}
			for i, level := range levels {
				fmt.Printf("level %d: %v\n", i, level)
			}
			return nil
		},
	}
}

func newWorkflowCommand(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "workflow <name>",
		Short: "Run a named workflow's stages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, _, runner, err := opts.build("workflow")
			if err != nil {
				return err
			}
			wf, ok := set.Workflows[args[0]]
			if !ok {
				return &exitError{code: ExitConfigError, msg: fmt.Sprintf("no such workflow: %s", args[0])}
			}
			ctx, handle, stop := runContext(cmd.Context())
			defer stop()

			stages, err := runner.Run(ctx, handle, wf, dryRun)
			if err != nil {
				return &exitError{code: ExitConfigError, msg: err.Error()}
			}
			exitCode := 0
			for i, st := range stages {
				if st.Skipped {
					fmt.Printf("stage %s: skipped (condition)\n", st.Name)
					continue
				}
				fmt.Printf("stage %s:\n", st.Name)
				printResults(st.Results)
				if exitCode == 0 && anyFailed(st.Results) {
					if code, ok := firstFailureExitCode(wf.Stages[i].Tasks, st.Results); ok {
						exitCode = code
					} else {
						exitCode = ExitTaskFailure
					}
				}
			}
			if exitCode != 0 {
				return &exitError{code: exitCode, msg: "one or more stages failed"}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report every stage's tasks as skipped (dry_run) without running any command")
	return cmd
}

func newCacheCommand(opts *options) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or manage the task result cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached task result",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cache.New(opts.cacheDir, opts.logger("cache"))
			if err != nil {
				return &exitError{code: ExitInternalError, msg: err.Error()}
			}
			if err := store.ClearAll(); err != nil {
				return &exitError{code: ExitInternalError, msg: err.Error()}
			}
			fmt.Println("cache cleared")
			return nil
		},
	})
	return cacheCmd
}

func printResults(results map[string]*task.Result) {
	for name, r := range results {
		switch {
		case r.Skipped:
			fmt.Printf("  %s: skipped (%s)\n", name, r.Reason)
		case r.Success:
			fmt.Printf("  %s: ok (%dms, %d attempt(s))\n", name, r.DurationMs, r.Attempts)
		default:
			fmt.Printf("  %s: FAILED (exit %d, %dms)\n", name, r.ExitCode, r.DurationMs)
		}
	}
}

func anyFailed(results map[string]*task.Result) bool {
	for _, r := range results {
		if !r.Success && !r.Skipped {
			return true
		}
	}
	return false
}

// firstFailureExitCode walks order (a declared or level-dispatch order, never
// map iteration order, which Go randomizes) looking for the first task that
// actually failed, and reports its process exit code. A cancelled or timed
// out task carries ExitCode -1, which isn't a real process exit code, so it's
// skipped in favor of the next failure with one.
func firstFailureExitCode(order []string, results map[string]*task.Result) (int, bool) {
	for _, name := range order {
		r, ok := results[name]
		if !ok || r.Success || r.Skipped || r.ExitCode < 0 {
			continue
		}
		return r.ExitCode, true
	}
	return 0, false
}

// failureExitCode mirrors spec.md §6: the process exit code is the first
// failing task's own exit code where one is available, else ExitTaskFailure.
// levels is the level-dispatch order from Scheduler.Plan, so "first" means
// the same thing the scheduler itself used to decide dispatch order.
func failureExitCode(levels [][]string, results map[string]*task.Result) int {
	for _, level := range levels {
		if code, ok := firstFailureExitCode(level, results); ok {
			return code
		}
	}
	return ExitTaskFailure
}

func writeHistory(opts *options, results map[string]*task.Result) error {
	if opts.historyPath == "" {
		return nil
	}
	f, err := os.OpenFile(opts.historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := history.New(f)
	return w.RecordAll(time.Now().Unix(), results)
}
