package ipc

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gopm/gopm/internal/history"
	"github.com/gopm/gopm/internal/process"
)

// stubManager is an in-memory Manager double, independent of
// internal/manager, so dispatch() can be exercised without spawning real
// child processes.
type stubManager struct {
	started  []process.Config
	stopped  []string
	infos    map[string]process.Info
	saveErr  error
	listInfo []process.Info
}

func (s *stubManager) StartProcess(cfg process.Config) (string, error) {
	s.started = append(s.started, cfg)
	return "fake-id", nil
}
func (s *stubManager) StopProcess(name string) error {
	s.stopped = append(s.stopped, name)
	return nil
}
func (s *stubManager) RestartProcess(name string) error { return nil }
func (s *stubManager) DeleteProcess(name string) error  { return nil }
func (s *stubManager) ListProcesses() []process.Info    { return s.listInfo }
func (s *stubManager) GetProcessInfo(name string) (process.Info, error) {
	info, ok := s.infos[name]
	if !ok {
		return process.Info{}, assert.AnError
	}
	return info, nil
}
func (s *stubManager) GetLogs(name string, n int) ([]string, error) { return []string{"line1"}, nil }
func (s *stubManager) GetHistory(name string) ([]history.Event, error) {
	return []history.Event{{Name: name, Type: history.EventStart}}, nil
}
func (s *stubManager) SaveState() error { return s.saveErr }
func (s *stubManager) ResurrectProcesses() error                    { return nil }

func newTestListener(t *testing.T) net.Listener {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gopm.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	return l
}

func TestServerDispatchStartAndList(t *testing.T) {
	l := newTestListener(t)
	sm := &stubManager{listInfo: []process.Info{{Name: "web"}}}
	srv := NewServer(l, sm, nil)
	go srv.Serve()
	defer srv.Close()

	client := NewClient(func() (net.Conn, error) { return net.Dial("unix", l.Addr().String()) })

	id, err := client.StartProcess(process.Config{Name: "web", Command: "sleep 1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, sm.started, 1)
	assert.Equal(t, "web", sm.started[0].Name)

	list, err := client.ListProcesses()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "web", list[0].Name)
}

func TestServerDispatchStopAndUnknownName(t *testing.T) {
	l := newTestListener(t)
	sm := &stubManager{infos: map[string]process.Info{}}
	srv := NewServer(l, sm, nil)
	go srv.Serve()
	defer srv.Close()

	client := NewClient(func() (net.Conn, error) { return net.Dial("unix", l.Addr().String()) })

	require.NoError(t, client.StopProcess("web"))
	assert.Equal(t, []string{"web"}, sm.stopped)

	_, err := client.GetProcessInfo("missing")
	assert.Error(t, err)
}

func TestServerKillDaemonMarksRequested(t *testing.T) {
	l := newTestListener(t)
	sm := &stubManager{}
	srv := NewServer(l, sm, nil)
	go srv.Serve()
	defer srv.Close()

	client := NewClient(func() (net.Conn, error) { return net.Dial("unix", l.Addr().String()) })
	require.NoError(t, client.KillDaemon())
	assert.True(t, srv.KillRequested())
}
