// Package matrix expands a task's Matrix field into concrete task variants
// (spec.md §4.8): one variant per element of the Cartesian product of the
// matrix's value lists, plus a synthetic meta task depending on every
// variant so downstream tasks can depend on "the whole matrix" by name.
package matrix

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scriptweaver/zr/internal/task"
)

// Expand returns the variant tasks produced by t's Matrix field and the
// synthetic meta task that depends on all of them. If t.Matrix is empty,
// Expand returns (nil, nil): there is nothing to expand.
//
// Variant naming and key ordering are both alphabetical by matrix key, so
// expansion is deterministic and idempotent: running Expand again on an
// already-expanded Set (where the template task's Matrix field has been
// cleared) is a no-op, satisfying spec.md §8's expansion-is-idempotent
// property.
func Expand(t *task.Task) (variants []*task.Task, meta *task.Task) {
	if len(t.Matrix) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(t.Matrix))
	for k := range t.Matrix {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := cartesian(t.Matrix, keys)

	variants = make([]*task.Task, 0, len(combos))
	variantNames := make([]string, 0, len(combos))
	for _, combo := range combos {
		v := cloneForVariant(t, keys, combo)
		variants = append(variants, v)
		variantNames = append(variantNames, v.Name)
	}

	meta = &task.Task{
		Name:         t.Name,
		Cmd:          "true",
		Deps:         append([]string(nil), variantNames...),
		AllowFailure: t.AllowFailure,
		Condition:    t.Condition,
	}

	return variants, meta
}

// cartesian computes the Cartesian product of values for keys, in key order,
// returning one map per combination.
func cartesian(values map[string][]string, keys []string) []map[string]string {
	combos := []map[string]string{{}}
	for _, k := range keys {
		var next []map[string]string
		for _, existing := range combos {
			for _, v := range values[k] {
				combo := make(map[string]string, len(existing)+1)
				for ek, ev := range existing {
					combo[ek] = ev
				}
				combo[k] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

// cloneForVariant builds one concrete task for a matrix combination, naming
// it "<base>:<k1>=<v1>:<k2>=<v2>..." in key order, and interpolating
// ${matrix.KEY} references in Cmd and Env values.
func cloneForVariant(t *task.Task, keys []string, combo map[string]string) *task.Task {
	var nameParts []string
	nameParts = append(nameParts, t.Name)
	for _, k := range keys {
		nameParts = append(nameParts, fmt.Sprintf("%s=%s", k, combo[k]))
	}
	name := strings.Join(nameParts, ":")

	v := &task.Task{
		Name:          name,
		BaseName:      t.Name,
		Cmd:           interpolate(t.Cmd, combo),
		Cwd:           t.Cwd,
		Description:   t.Description,
		Deps:          append([]string(nil), t.Deps...),
		DepsSerial:    append([]string(nil), t.DepsSerial...),
		TimeoutMs:     t.TimeoutMs,
		AllowFailure:  t.AllowFailure,
		RetryMax:      t.RetryMax,
		RetryDelayMs:  t.RetryDelayMs,
		RetryBackoff:  t.RetryBackoff,
		Condition:     interpolate(t.Condition, combo),
		Cache:         t.Cache,
		MaxConcurrent: t.MaxConcurrent,
	}

	v.Env = make([]task.EnvVar, len(t.Env))
	for i, e := range t.Env {
		v.Env[i] = task.EnvVar{Key: e.Key, Value: interpolate(e.Value, combo)}
	}

	return v
}

// interpolate substitutes ${matrix.KEY} references with combo's value for
// KEY. A reference to a key not present in combo is left untouched.
func interpolate(s string, combo map[string]string) string {
	if s == "" {
		return s
	}
	for k, v := range combo {
		s = strings.ReplaceAll(s, fmt.Sprintf("${matrix.%s}", k), v)
	}
	return s
}
