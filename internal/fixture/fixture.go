// Package fixture is demo glue, not the config parser spec.md §1 puts out of
// scope: it loads a minimal JSON fixture format into a *task.Set strictly to
// let cmd/zr exercise the pipeline end-to-end from a file, the way the
// teacher's cmd/scriptweaver wires a real config format into internal/cli.
// Nothing in internal/scheduler, internal/graph, etc. depends on this
// package or on JSON at all.
package fixture

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/scriptweaver/zr/internal/matrix"
	"github.com/scriptweaver/zr/internal/task"
)

type fixtureEnv map[string]string

type fixtureTask struct {
	Name          string              `json:"name"`
	Cmd           string              `json:"cmd"`
	Cwd           string              `json:"cwd"`
	Description   string              `json:"description"`
	Deps          []string            `json:"deps"`
	DepsSerial    []string            `json:"deps_serial"`
	Env           fixtureEnv          `json:"env"`
	TimeoutMs     int64               `json:"timeout_ms"`
	AllowFailure  bool                `json:"allow_failure"`
	RetryMax      int                 `json:"retry_max"`
	RetryDelayMs  int64               `json:"retry_delay_ms"`
	RetryBackoff  bool                `json:"retry_backoff"`
	Condition     string              `json:"condition"`
	Cache         bool                `json:"cache"`
	MaxConcurrent int                 `json:"max_concurrent"`
	Matrix        map[string][]string `json:"matrix"`
}

type fixtureStage struct {
	Name      string   `json:"name"`
	Tasks     []string `json:"tasks"`
	Parallel  bool     `json:"parallel"`
	FailFast  bool     `json:"fail_fast"`
	Condition string   `json:"condition"`
}

type fixtureWorkflow struct {
	Name   string         `json:"name"`
	Stages []fixtureStage `json:"stages"`
}

type fixtureFile struct {
	Tasks     []fixtureTask     `json:"tasks"`
	Workflows []fixtureWorkflow `json:"workflows"`
}

// Load reads a JSON fixture file from path and materializes a *task.Set,
// expanding any matrix tasks along the way (internal/matrix) so the returned
// Set contains only concrete, runnable tasks plus their synthetic meta
// tasks.
func Load(path string) (*task.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes fixture JSON already in memory, used by tests that don't
// want a temp file.
func Parse(data []byte) (*task.Set, error) {
	var ff fixtureFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, err
	}

	set := task.NewSet()
	for _, ft := range ff.Tasks {
		t := toTask(ft)
		if len(t.Matrix) > 0 {
			variants, meta := matrix.Expand(t)
			for _, v := range variants {
				set.Add(v)
			}
			set.Add(meta)
			continue
		}
		set.Add(t)
	}

	for _, fw := range ff.Workflows {
		wf := &task.Workflow{Name: fw.Name}
		for _, fs := range fw.Stages {
			wf.Stages = append(wf.Stages, task.Stage{
				Name:      fs.Name,
				Tasks:     fs.Tasks,
				Parallel:  fs.Parallel,
				FailFast:  fs.FailFast,
				Condition: fs.Condition,
			})
		}
		set.Workflows[wf.Name] = wf
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func toTask(ft fixtureTask) *task.Task {
	t := &task.Task{
		Name:          ft.Name,
		Cmd:           ft.Cmd,
		Cwd:           ft.Cwd,
		Description:   ft.Description,
		Deps:          ft.Deps,
		DepsSerial:    ft.DepsSerial,
		TimeoutMs:     ft.TimeoutMs,
		AllowFailure:  ft.AllowFailure,
		RetryMax:      ft.RetryMax,
		RetryDelayMs:  ft.RetryDelayMs,
		RetryBackoff:  ft.RetryBackoff,
		Condition:     ft.Condition,
		Cache:         ft.Cache,
		MaxConcurrent: ft.MaxConcurrent,
		Matrix:        ft.Matrix,
	}
	// A JSON object's key order is not kept by decoding into a map, so env
	// entries are stored sorted by key to give a stable order (and a stable
	// cache key) from one load to the next.
	keys := make([]string, 0, len(ft.Env))
	for k := range ft.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.Env = append(t.Env, task.EnvVar{Key: k, Value: ft.Env[k]})
	}
	return t
}
