package manager

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopm/gopm/internal/config"
	"github.com/gopm/gopm/internal/process"
)

func testDirs(t *testing.T) config.Dirs {
	t.Helper()
	root := t.TempDir()
	return config.Dirs{
		Config:  filepath.Join(root, "config"),
		Data:    filepath.Join(root, "data"),
		Runtime: filepath.Join(root, "runtime"),
	}
}

func TestStartProcessAndList(t *testing.T) {
	m := New(testDirs(t), nil)
	id, err := m.StartProcess(process.Config{Name: "web", Command: "sleep 1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	list := m.ListProcesses()
	require.Len(t, list, 1)
	assert.Equal(t, "web", list[0].Name)
	assert.Equal(t, process.StatusRunning, list[0].Status)

	require.NoError(t, m.StopProcess("web"))
}

func TestStartProcessReplacesExisting(t *testing.T) {
	m := New(testDirs(t), nil)
	_, err := m.StartProcess(process.Config{Name: "web", Command: "sleep 1"})
	require.NoError(t, err)
	first := m.ListProcesses()[0].PID

	_, err = m.StartProcess(process.Config{Name: "web", Command: "sleep 1"})
	require.NoError(t, err)

	list := m.ListProcesses()
	require.Len(t, list, 1)
	assert.NotEqual(t, first, list[0].PID)

	require.NoError(t, m.StopProcess("web"))
}

func TestStartProcessFansOutInstances(t *testing.T) {
	m := New(testDirs(t), nil)
	_, err := m.StartProcess(process.Config{Name: "worker", Command: "sleep 1", Instances: 3})
	require.NoError(t, err)

	list := m.ListProcesses()
	require.Len(t, list, 3)
	names := map[string]bool{}
	for _, info := range list {
		names[info.Name] = true
	}
	assert.True(t, names["worker-1"])
	assert.True(t, names["worker-2"])
	assert.True(t, names["worker-3"])

	for name := range names {
		require.NoError(t, m.StopProcess(name))
	}
}

func TestGetProcessInfoNotFound(t *testing.T) {
	m := New(testDirs(t), nil)
	_, err := m.GetProcessInfo("missing")
	assert.Error(t, err)
}

func TestDeleteProcessRemovesFromRoster(t *testing.T) {
	m := New(testDirs(t), nil)
	_, err := m.StartProcess(process.Config{Name: "web", Command: "sleep 1"})
	require.NoError(t, err)

	require.NoError(t, m.DeleteProcess("web"))
	assert.Empty(t, m.ListProcesses())

	err = m.DeleteProcess("web")
	assert.Error(t, err)
}

func TestGetLogsReturnsCapturedOutput(t *testing.T) {
	m := New(testDirs(t), nil)
	_, err := m.StartProcess(process.Config{Name: "echoer", Command: "echo hello"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		lines, _ := m.GetLogs("echoer", 10)
		return len(lines) > 0
	}, 2*time.Second, 20*time.Millisecond)

	lines, err := m.GetLogs("echoer", 10)
	require.NoError(t, err)
	assert.Contains(t, lines, "hello")
}

func TestRunMonitorPassRestartsOnAutoRestart(t *testing.T) {
	m := New(testDirs(t), nil)
	_, err := m.StartProcess(process.Config{
		Name:        "flaky",
		Command:     "true",
		AutoRestart: true,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, _ := m.get("flaky")
		p.CheckStatus()
		return p.Info().Status == process.StatusStopped
	}, 2*time.Second, 20*time.Millisecond)

	m.RunMonitorPass()

	info, err := m.GetProcessInfo("flaky")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Restarts)

	require.NoError(t, m.StopProcess("flaky"))
}

func TestSaveAndLoadState(t *testing.T) {
	dirs := testDirs(t)
	m := New(dirs, nil)
	_, err := m.StartProcess(process.Config{Name: "web", Command: "sleep 1"})
	require.NoError(t, err)

	cfgs, err := m.LoadState()
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "web", cfgs[0].Name)

	require.NoError(t, m.StopProcess("web"))
}

func TestTryRunMonitorPassSkipsOnContention(t *testing.T) {
	m := New(testDirs(t), nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.False(t, m.TryRunMonitorPass())
}
