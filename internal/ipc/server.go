package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/gopm/gopm/internal/apperr"
	"github.com/gopm/gopm/internal/history"
	"github.com/gopm/gopm/internal/manager"
	"github.com/gopm/gopm/internal/process"
)

// Manager is the subset of *manager.Manager the dispatcher needs; declared
// as an interface so server tests can exercise dispatch() against a stub.
type Manager interface {
	StartProcess(cfg process.Config) (string, error)
	StopProcess(name string) error
	RestartProcess(name string) error
	DeleteProcess(name string) error
	ListProcesses() []process.Info
	GetProcessInfo(name string) (process.Info, error)
	GetLogs(name string, n int) ([]string, error)
	GetHistory(name string) ([]history.Event, error)
	SaveState() error
	ResurrectProcesses() error
}

var _ Manager = (*manager.Manager)(nil)

// Server accepts framed connections and dispatches each line to a Manager.
// One goroutine handles one connection; requests within a connection are
// served sequentially, but the daemon may serve many connections at once —
// Manager itself is what serializes mutating operations.
type Server struct {
	listener net.Listener
	manager  Manager
	log      *slog.Logger

	mu       sync.Mutex
	shutdown chan struct{}
	killed   bool
}

// NewServer wraps an already-bound listener (Unix socket on POSIX, loopback
// TCP on Windows — see daemon.Listen) around m.
func NewServer(listener net.Listener, m Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listener: listener,
		manager:  m,
		log:      logger.With("component", "ipc"),
		shutdown: make(chan struct{}),
	}
}

// Serve runs the accept loop until the listener is closed. It returns nil
// when closure was requested via Close, and the accept error otherwise.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("accept failed", "error", err)
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops the accept loop and releases the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	s.mu.Unlock()
	return s.listener.Close()
}

// KillRequested reports whether a KillDaemon request has been received;
// the daemon harness polls this to trigger an orderly shutdown.
func (s *Server) KillRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			resp := s.dispatchLine(line)
			out, merr := json.Marshal(resp)
			if merr != nil {
				s.log.Error("failed to marshal response", "error", merr)
				return
			}
			out = append(out, '\n')
			if _, werr := conn.Write(out); werr != nil {
				s.log.Warn("failed to write response", "error", werr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.log.Warn("connection read error", "error", err)
			}
			return
		}
	}
}

func (s *Server) dispatchLine(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(apperr.Wrap(apperr.KindSerialization, "failed to parse request", err))
	}
	return s.dispatch(req)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Kind {
	case KindStartProcess:
		id, err := s.manager.StartProcess(req.Config)
		if err != nil {
			return errorResponse(err)
		}
		return success("process started with id: " + id)

	case KindStopProcess:
		if err := s.manager.StopProcess(req.Name); err != nil {
			return errorResponse(err)
		}
		return success("process '" + req.Name + "' stopped")

	case KindRestartProcess:
		if err := s.manager.RestartProcess(req.Name); err != nil {
			return errorResponse(err)
		}
		return success("process '" + req.Name + "' restarted")

	case KindReloadProcess:
		if err := s.manager.RestartProcess(req.Name); err != nil {
			return errorResponse(err)
		}
		return success("process '" + req.Name + "' reloaded")

	case KindDeleteProcess:
		if err := s.manager.DeleteProcess(req.Name); err != nil {
			return errorResponse(err)
		}
		return success("process '" + req.Name + "' deleted")

	case KindListProcesses:
		return Response{Kind: KindProcessList, Processes: s.manager.ListProcesses()}

	case KindGetProcessInfo:
		info, err := s.manager.GetProcessInfo(req.Name)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindProcessInfo, Process: &info}

	case KindGetLogs:
		n := req.Lines
		if n <= 0 {
			n = 100
		}
		logs, err := s.manager.GetLogs(req.Name, n)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindLogs, Logs: logs}

	case KindGetHistory:
		events, err := s.manager.GetHistory(req.Name)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Kind: KindHistory, Events: events}

	case KindMonitor:
		return success("monitor runs automatically in the daemon; no action taken")

	case KindKillDaemon:
		s.mu.Lock()
		s.killed = true
		s.mu.Unlock()
		return success("daemon shutdown requested")

	case KindSaveProcesses:
		if err := s.manager.SaveState(); err != nil {
			return errorResponse(err)
		}
		return success("processes saved")

	case KindResurrectProcesses:
		if err := s.manager.ResurrectProcesses(); err != nil {
			return errorResponse(err)
		}
		return success("processes resurrected")

	default:
		return errorResponse(apperr.New(apperr.KindIPC, "unknown request kind: "+string(req.Kind)))
	}
}
