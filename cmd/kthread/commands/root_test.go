package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioConfig = `version: "1.0"
kernel:
  id: cli-test
  thread_capacity: 16
  task_capacity: 4
log:
  level: error
scenario:
  tasks:
    - name: init
      priority: 5
      threads:
        - name: t1
          priority: 2
        - name: t2
          priority: 6
        - name: spare
      detach: [spare]
    - name: idle
      priority: 1
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kthread.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestRootCommand_ShowsHelpWhenNoSubcommand tests that the root command
// shows help instead of silently succeeding when invoked without a subcommand
func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	output, err := execute(t)

	assert.NoError(t, err)
	assert.Contains(t, output, "Usage:", "Help should be displayed")
	assert.Contains(t, output, "kthread", "Help should show command name")
	assert.Contains(t, output, "run", "Help should list the run command")
}

// TestRootCommand_RejectsUnknownFlags tests that unknown flags
// passed to the root command cause an error instead of being silently ignored
func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, "--unknown-flag", "value")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-01-01")

	output, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, "kthread 1.2.3 (commit: abc123, built: 2026-01-01)")
}

func TestRunCommand_Scenario(t *testing.T) {
	path := writeConfig(t, scenarioConfig)

	output, err := execute(t, "run", "--config", path, "--events", "5")
	require.NoError(t, err)

	// Thread groups with composed priorities: 5*8+2 and 5*8+6
	assert.Contains(t, output, "Thread groups:")
	assert.Regexp(t, `init\s+5\s+init/main\s+0\s+40\s+created`, output)
	assert.Regexp(t, `init\s+5\s+init/t1\s+2\s+42\s+created`, output)
	assert.Regexp(t, `init\s+5\s+init/t2\s+6\s+46\s+created`, output)
	assert.Regexp(t, `init\s+5\s+init/spare\s+-\s+-\s+detached`, output)
	assert.Regexp(t, `idle\s+1\s+idle/main\s+0\s+8\s+created`, output)

	// Main joined both remaining threads
	assert.Contains(t, output, "Join results:")
	assert.Regexp(t, `init\s+t1\s+init/t1 finished`, output)
	assert.Regexp(t, `init\s+t2\s+init/t2 finished`, output)
	assert.NotContains(t, output, "spare finished")

	assert.Contains(t, output, "Lifecycle events:")
	assert.Contains(t, output, "2 task(s) destroyed, 0 thread(s) left")
}

func TestRunCommand_NoScenario(t *testing.T) {
	path := writeConfig(t, "version: \"1.0\"\n")

	_, err := execute(t, "run", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario section")
}

func TestRunCommand_MissingConfig(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}
