// Package condition evaluates the minimal expression grammar of spec.md §4.4:
// `true` / `false` literals, `env.NAME` truthiness, and `==`/`!=` string
// equality between any mix of literals and env lookups. It is built on
// google/cel-go (the teacher has no condition evaluation of its own) and
// follows this spec's fail-open policy: any parse, compile, or evaluation
// error makes the task run rather than aborting the plan.
package condition

import (
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/rs/zerolog"
)

// envRef matches `env.NAME` references in condition source so missing names
// can be pre-seeded as empty strings before CEL evaluation. CEL's map
// indexing (`env["NAME"]`, which `env.NAME` desugars to via an env struct we
// don't have) errors on an absent key; spec.md §4.4 wants a missing env var
// to simply be falsy, never an evaluation error.
var envRef = regexp.MustCompile(`\benv\.([A-Za-z_][A-Za-z0-9_]*)\b`)

// Evaluator compiles and caches condition programs. One Evaluator is shared
// across a run; compilation is the expensive part and conditions repeat
// heavily in realistic task sets (e.g. the same `env.CI == "true"` guard on
// many tasks).
type Evaluator struct {
	env   *cel.Env
	log   zerolog.Logger
	mu    sync.Mutex // guards cache; Eval is called from concurrent workers
	cache map[string]cel.Program
}

// New builds an Evaluator. A CEL environment declaring a single dynamic `env`
// map variable is enough to express the whole grammar: literals and
// equality are built into CEL itself.
func New(log zerolog.Logger) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("env", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, err
	}
	return &Evaluator{env: env, log: log, cache: make(map[string]cel.Program)}, nil
}

// Eval reports whether the task guarded by `expr` should run. An empty
// expression always means "run" (spec.md §4.4: absence of a condition is not
// the same as `false`). Any failure to parse, compile, or evaluate `expr`
// fails open: the task runs, and the failure is logged at warn level for
// operator visibility without ever aborting the plan.
func (e *Evaluator) Eval(expr string, envOverride map[string]string) bool {
	if expr == "" {
		return true
	}

	prg, err := e.program(expr)
	if err != nil {
		e.log.Warn().Err(err).Str("condition", expr).Msg("condition failed to compile, running task (fail-open)")
		return true
	}

	activation := map[string]interface{}{"env": seededEnv(expr, envOverride)}
	out, _, err := prg.Eval(activation)
	if err != nil {
		e.log.Warn().Err(err).Str("condition", expr).Msg("condition failed to evaluate, running task (fail-open)")
		return true
	}

	return truthy(out)
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}
	e.cache[expr] = prg
	return prg, nil
}

// seededEnv returns a copy of envOverride with an empty-string entry added
// for every env.NAME reference in expr that envOverride doesn't already
// define, so CEL's map index never hits a missing key.
func seededEnv(expr string, envOverride map[string]string) map[string]string {
	out := make(map[string]string, len(envOverride))
	for k, v := range envOverride {
		out[k] = v
	}
	for _, m := range envRef.FindAllStringSubmatch(expr, -1) {
		name := m[1]
		if _, ok := out[name]; !ok {
			out[name] = ""
		}
	}
	return out
}

// truthy coerces a CEL result to a boolean per spec.md §4.4: bool values are
// used directly; a string is true if it is non-empty after trimming
// whitespace, to support bare `env.NAME` as a shorthand for "NAME is set and
// non-empty". Any other result type fails open (true).
func truthy(v ref.Val) bool {
	switch vv := v.(type) {
	case types.Bool:
		return bool(vv)
	case types.String:
		return strings.TrimSpace(string(vv)) != ""
	default:
		return true
	}
}
