package daemon

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gopm/gopm/internal/config"
	"github.com/gopm/gopm/internal/history"
	"github.com/gopm/gopm/internal/ipc"
	"github.com/gopm/gopm/internal/manager"
)

// defaultMonitorInterval is the periodic tick driving check_status + the
// auto-restart sweep (spec §4.1/§5). The original implementation's
// monitor_processes ran on a 5s tokio interval; we keep that cadence.
const defaultMonitorInterval = 5 * time.Second

// Daemon is the process-local harness: one Manager, one IPC server, one
// monitor goroutine, wired together for a single run.
type Daemon struct {
	dirs    config.Dirs
	manager *manager.Manager
	server  *ipc.Server
	log     *slog.Logger

	monitorInterval time.Duration
}

// New constructs a Daemon rooted at dirs, binding the control-surface
// listener and loading/reopening the optional durable history store.
func New(dirs config.Dirs, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "daemon")

	m := manager.New(dirs, logger)

	if _, err := dirs.PIDsDir(); err != nil { // ensures the runtime tree exists alongside the socket
		return nil, err
	}

	histPath, err := historyPath(dirs)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(histPath)
	if err != nil {
		log.Warn("failed to open history store, continuing without a durable event trail", "error", err)
	} else {
		m.SetEventStore(store)
	}

	listener, err := Listen(dirs)
	if err != nil {
		return nil, err
	}
	server := ipc.NewServer(listener, m, logger)

	return &Daemon{
		dirs:            dirs,
		manager:         m,
		server:          server,
		log:             log,
		monitorInterval: defaultMonitorInterval,
	}, nil
}

func historyPath(dirs config.Dirs) (string, error) {
	if err := os.MkdirAll(dirs.Data, 0o750); err != nil {
		return "", err
	}
	return filepath.Join(dirs.Data, "history.db"), nil
}

// Manager exposes the daemon's process manager, e.g. for ResurrectProcesses
// at startup before Run is called.
func (d *Daemon) Manager() *manager.Manager { return d.manager }

// Run starts the monitor tick and the IPC accept loop, and blocks until the
// first of: monitor loop exit (never, absent a bug), IPC server exit, a
// KillDaemon request over IPC, or SIGINT/SIGTERM (spec §4.4's three
// shutdown triggers run through this one select).
func (d *Daemon) Run() error {
	d.log.Info("daemon started")

	monitorDone := make(chan struct{})
	go d.monitorLoop(monitorDone)

	ipcDone := make(chan error, 1)
	go func() { ipcDone <- d.server.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	killPoll := time.NewTicker(500 * time.Millisecond)
	defer killPoll.Stop()

	for {
		select {
		case <-monitorDone:
			d.log.Info("monitor loop exited")
			d.shutdown()
			return nil
		case err := <-ipcDone:
			d.log.Info("ipc server exited")
			d.shutdown()
			return err
		case sig := <-sigCh:
			d.log.Info("received shutdown signal", "signal", sig.String())
			d.shutdown()
			return nil
		case <-killPoll.C:
			if d.server.KillRequested() {
				d.log.Info("kill_daemon requested over ipc")
				d.shutdown()
				return nil
			}
		}
	}
}

func (d *Daemon) shutdown() {
	d.log.Info("daemon shutting down; supervised children are left running")
	if err := d.manager.SaveState(); err != nil {
		d.log.Warn("failed to save state on shutdown", "error", err)
	}
	_ = d.server.Close()
}

func (d *Daemon) monitorLoop(done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.monitorInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !d.manager.TryRunMonitorPass() {
			d.log.Debug("monitor tick skipped; roster busy")
		}
	}
}
