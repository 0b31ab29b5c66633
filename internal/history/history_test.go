package history

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptweaver/zr/internal/task"
)

func TestRecord_Format(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	err := w.Record(1700000000, &task.Result{Name: "build", Success: true, DurationMs: 120}, 3)
	require.NoError(t, err)
	assert.Equal(t, "1700000000\tbuild\tok\t120\t3\n", buf.String())
}

func TestRecord_FailStatus(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	err := w.Record(1700000000, &task.Result{Name: "test", Success: false, DurationMs: 50}, 1)
	require.NoError(t, err)
	assert.Equal(t, "1700000000\ttest\tfail\t50\t1\n", buf.String())
}

func TestRecordAll_SortedByName(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	results := map[string]*task.Result{
		"zeta":  {Name: "zeta", Success: true, DurationMs: 1},
		"alpha": {Name: "alpha", Success: true, DurationMs: 2},
	}
	require.NoError(t, w.RecordAll(1700000000, results))

	lines := buf.String()
	alphaIdx := indexOf(lines, "alpha")
	zetaIdx := indexOf(lines, "zeta")
	assert.Less(t, alphaIdx, zetaIdx)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
