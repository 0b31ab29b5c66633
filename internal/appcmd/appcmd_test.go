package appcmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "zr.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestExecute_RunSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, `{"tasks": [{"name": "a", "cmd": "true"}]}`)

	code := Execute(context.Background(), []string{
		"run", "--file", path, "--cache-dir", filepath.Join(dir, "cache"), "a",
	})
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
	}
}

func TestExecute_RunReportsTaskFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, `{"tasks": [{"name": "a", "cmd": "exit 1"}]}`)

	code := Execute(context.Background(), []string{
		"run", "--file", path, "--cache-dir", filepath.Join(dir, "cache"), "a",
	})
	if code != ExitTaskFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitTaskFailure)
	}
}

func TestExecute_RunMirrorsTaskExitCode(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, `{"tasks": [{"name": "a", "cmd": "exit 42"}]}`)

	code := Execute(context.Background(), []string{
		"run", "--file", path, "--cache-dir", filepath.Join(dir, "cache"), "a",
	})
	if code != 42 {
		t.Fatalf("exit code = %d, want 42", code)
	}
}

func TestExecute_MissingFixtureIsConfigError(t *testing.T) {
	dir := t.TempDir()

	code := Execute(context.Background(), []string{
		"run", "--file", filepath.Join(dir, "missing.json"), "a",
	})
	if code != ExitConfigError {
		t.Fatalf("exit code = %d, want %d", code, ExitConfigError)
	}
}

func TestExecute_Plan(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, `{"tasks": [
		{"name": "a", "cmd": "true"},
		{"name": "b", "cmd": "true", "deps": ["a"]}
	]}`)

	code := Execute(context.Background(), []string{
		"plan", "--file", path, "--cache-dir", filepath.Join(dir, "cache"), "b",
	})
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
	}
}

func TestExecute_Workflow(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, `{
		"tasks": [{"name": "a", "cmd": "true"}],
		"workflows": [{"name": "ci", "stages": [{"name": "s1", "tasks": ["a"]}]}]
	}`)

	code := Execute(context.Background(), []string{
		"workflow", "ci", "--file", path, "--cache-dir", filepath.Join(dir, "cache"),
	})
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
	}
}

func TestExecute_WorkflowMirrorsTaskExitCode(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, `{
		"tasks": [{"name": "a", "cmd": "exit 7"}],
		"workflows": [{"name": "ci", "stages": [{"name": "s1", "tasks": ["a"]}]}]
	}`)

	code := Execute(context.Background(), []string{
		"workflow", "ci", "--file", path, "--cache-dir", filepath.Join(dir, "cache"),
	})
	if code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}
}

func TestExecute_CacheClear(t *testing.T) {
	dir := t.TempDir()
	code := Execute(context.Background(), []string{
		"cache", "clear", "--cache-dir", filepath.Join(dir, "cache"),
	})
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
	}
}
