package process

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptweaver/zr/internal/control"
	"github.com/scriptweaver/zr/internal/task"
)

func TestRun_SuccessExitCode(t *testing.T) {
	res, err := Run(context.Background(), Spec{Cmd: "exit 0"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.False(t, res.Cancelled)
}

func TestRun_NonZeroExitCode(t *testing.T) {
	res, err := Run(context.Background(), Spec{Cmd: "exit 7"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
}

func TestRun_CapturesStdout(t *testing.T) {
	res, err := Run(context.Background(), Spec{Cmd: "echo hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(res.Stdout))
}

func TestRun_Timeout(t *testing.T) {
	res, err := Run(context.Background(), Spec{Cmd: "sleep 5", TimeoutMs: 50, GraceMs: 50}, nil)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Cancelled)
}

func TestRun_CancelViaHandle(t *testing.T) {
	h := control.New(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		h.Cancel()
	}()
	res, err := Run(context.Background(), Spec{Cmd: "sleep 5", GraceMs: 50}, h)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.False(t, res.TimedOut)
}

func TestRun_PauseSuspendsRunningChild(t *testing.T) {
	h := control.New(context.Background())
	h.Pause()

	done := make(chan *Result, 1)
	go func() {
		res, err := Run(context.Background(), Spec{Cmd: "sleep 0.3", PollInterval: 10 * time.Millisecond}, h)
		require.NoError(t, err)
		done <- res
	}()

	// While paused, the child should not have been allowed to exit yet, long
	// after its own sleep duration would otherwise have elapsed.
	select {
	case <-done:
		t.Fatal("process exited while paused")
	case <-time.After(400 * time.Millisecond):
	}

	h.Resume()
	select {
	case res := <-done:
		assert.Equal(t, 0, res.ExitCode)
		assert.False(t, res.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not resume after Resume")
	}
}

func TestRun_EnvMergeOverridesParent(t *testing.T) {
	require.NoError(t, os.Setenv("ZR_TEST_PARENT_VAR", "parent"))
	defer os.Unsetenv("ZR_TEST_PARENT_VAR")

	res, err := Run(context.Background(), Spec{
		Cmd: "echo $ZR_TEST_PARENT_VAR $ZR_TEST_NEW_VAR",
		Env: []task.EnvVar{{Key: "ZR_TEST_PARENT_VAR", Value: "overridden"}, {Key: "ZR_TEST_NEW_VAR", Value: "new"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "overridden new\n", string(res.Stdout))
}

func TestRun_InheritsParentEnvWithoutOverride(t *testing.T) {
	require.NoError(t, os.Setenv("ZR_TEST_UNTOUCHED_VAR", "inherited"))
	defer os.Unsetenv("ZR_TEST_UNTOUCHED_VAR")

	res, err := Run(context.Background(), Spec{Cmd: "echo $ZR_TEST_UNTOUCHED_VAR"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "inherited\n", string(res.Stdout))
}

func TestRun_DuplicateEnvOverridesStillSpawn(t *testing.T) {
	// A pathological override list (the same key twice) must not break the
	// merged environment or the spawn.
	res, err := Run(context.Background(), Spec{Cmd: "true", Env: []task.EnvVar{{Key: "A", Value: "1"}, {Key: "A", Value: "2"}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestMergedEnv_DuplicateOverrideKeysFirstWins(t *testing.T) {
	env := mergedEnv([]task.EnvVar{{Key: "DUP", Value: "first"}, {Key: "DUP", Value: "second"}})
	count := 0
	for _, kv := range env {
		if len(kv) >= 4 && kv[:4] == "DUP=" {
			count++
			assert.Equal(t, "DUP=first", kv)
		}
	}
	assert.Equal(t, 1, count)
}
