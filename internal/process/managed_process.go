// Package process implements C3 — ManagedProcess, the lifecycle of a single
// supervised child: spawn, signal, reap, restart-policy predicate, and
// resource sampling, with a platform split for signalling and process-start
// verification.
package process

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/gopm/gopm/internal/apperr"
	"github.com/gopm/gopm/internal/detector"
)

// Info is the observable snapshot of a managed child (spec §3 ProcessInfo).
type Info struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Command     string    `json:"command"`
	Status      Status    `json:"status"`
	PID         int       `json:"pid,omitempty"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage uint64    `json:"memory_usage"`
	StartedAt   time.Time `json:"started_at"`
	Restarts    int       `json:"restarts"`
	Config      Config    `json:"config"`
}

// ManagedProcess is the internal entity from spec §3: ProcessInfo plus the
// OS-level child handle (present iff status == Running), the instant of
// the last restart attempt, and a bounded in-memory log buffer.
type ManagedProcess struct {
	mu          sync.Mutex
	info        Info
	cmd         *exec.Cmd
	lastRestart time.Time
	hasRestart  bool
	logs        *logRing
	logFile     logCloser
	logFileErr  logCloser
	lastSample  sample
	lastSampleT time.Time
	haveSample  bool
}

type logCloser interface {
	Close() error
}

// New constructs a ManagedProcess in the Stopped state from cfg.
func New(cfg Config) *ManagedProcess {
	cfg.Normalize()
	return &ManagedProcess{
		info: Info{
			ID:      uuid.NewString(),
			Name:    cfg.Name,
			Command: cfg.Command,
			Status:  StatusStopped,
			Config:  cfg,
		},
		logs: newLogRing(defaultRingCapacity),
	}
}

// Info returns a copy of the current observable snapshot.
func (p *ManagedProcess) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Logs returns the last n captured stdout/stderr lines.
func (p *ManagedProcess) Logs(n int) []string {
	return p.logs.Tail(n)
}

// Start launches the child through the platform shell, applying cwd and env
// overrides, and captures stdout/stderr into the log ring (spec §4.1).
// env is the fully composed child environment (base OS snapshot plus the
// daemon's global overlay plus this entry's own Env, per
// internal/env.Env.Merge); when empty the child inherits the daemon's OS
// environment unchanged. Idempotent no-op if already Running.
func (p *ManagedProcess) Start(env []string) error {
	p.mu.Lock()
	if p.info.Status == StatusRunning {
		p.mu.Unlock()
		return nil
	}
	cfg := p.info.Config
	p.mu.Unlock()

	cmd := getShellCommand(cfg.Command)
	if cfg.Cwd != "" {
		cmd.Dir = cfg.Cwd
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd, cfg)

	var outW, errW io.Writer = p.logs, p.logs
	if cfg.Log.Dir != "" || cfg.Log.StdoutPath != "" || cfg.Log.StderrPath != "" {
		fileOut, fileErr, _ := cfg.Log.Writers(cfg.Name)
		if fileOut != nil {
			outW = io.MultiWriter(p.logs, fileOut)
		}
		if fileErr != nil {
			errW = io.MultiWriter(p.logs, fileErr)
		}
		p.mu.Lock()
		p.logFile = fileOut
		p.logFileErr = fileErr
		p.mu.Unlock()
	}
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		p.mu.Lock()
		p.info.Status = StatusErrored
		p.mu.Unlock()
		return apperr.Wrap(apperr.KindProcess, "failed to start process '"+cfg.Name+"'", err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.info.PID = cmd.Process.Pid
	p.info.Status = StatusRunning
	p.info.StartedAt = time.Now()
	p.haveSample = false
	p.mu.Unlock()

	if cfg.PIDFile != "" {
		_ = WritePIDFile(cfg.PIDFile, cmd.Process.Pid, cfg, PIDMeta{StartUnix: getProcStartUnix(cmd.Process.Pid)})
	}
	return nil
}

// Stop signals termination, awaits exit, and transitions to Stopped.
// Idempotent when no child handle is present.
func (p *ManagedProcess) Stop(wait time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	cfg := p.info.Config
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		p.mu.Lock()
		if p.info.Status == StatusRunning {
			p.info.Status = StatusStopped
		}
		p.mu.Unlock()
		return nil
	}

	pid := cmd.Process.Pid
	_ = killProcess(pid, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		p.finishExit(err)
	case <-time.After(wait):
		_ = killProcess(pid, syscall.SIGKILL)
		select {
		case err := <-done:
			p.finishExit(err)
		case <-time.After(500 * time.Millisecond):
			// best-effort; leave state as-is, a later check_status will reconcile.
		}
	}

	_ = RemovePIDFile(cfg.PIDFile)
	p.closeLogFile()

	p.mu.Lock()
	p.info.Status = StatusStopped
	p.info.PID = 0
	p.cmd = nil
	p.mu.Unlock()
	return nil
}

func (p *ManagedProcess) finishExit(err error) {
	p.mu.Lock()
	if err == nil {
		p.info.Status = StatusStopped
	} else {
		p.info.Status = StatusErrored
	}
	p.info.PID = 0
	p.mu.Unlock()
}

func (p *ManagedProcess) closeLogFile() {
	p.mu.Lock()
	f, fe := p.logFile, p.logFileErr
	p.logFile, p.logFileErr = nil, nil
	p.mu.Unlock()
	if f != nil {
		_ = f.Close()
	}
	if fe != nil {
		_ = fe.Close()
	}
}

// Restart stops, debounce-sleeps >= 500ms, increments the restart counter,
// records the restart instant, then starts (spec §4.1).
func (p *ManagedProcess) Restart(env []string) error {
	p.mu.Lock()
	p.info.Status = StatusRestarting
	p.mu.Unlock()

	_ = p.Stop(5 * time.Second)
	time.Sleep(restartSleep)

	p.mu.Lock()
	p.info.Restarts++
	p.lastRestart = time.Now()
	p.hasRestart = true
	p.mu.Unlock()

	return p.Start(env)
}

// CheckStatus is the non-blocking reap from spec §4.1: if the child has
// exited, reconcile status from the exit code; if still running, refresh
// resource usage. Sampling failures are non-fatal and leave prior values.
func (p *ManagedProcess) CheckStatus() {
	p.mu.Lock()
	cmd := p.cmd
	status := p.info.Status
	p.mu.Unlock()
	if status != StatusRunning || cmd == nil || cmd.Process == nil {
		return
	}

	alive, _ := p.detectAlive(cmd)
	if !alive {
		// Non-blocking: Wait on an already-exited child returns immediately.
		err := cmd.Wait()
		p.closeLogFile()
		p.mu.Lock()
		if err == nil {
			p.info.Status = StatusStopped
		} else {
			p.info.Status = StatusErrored
		}
		p.info.PID = 0
		p.cmd = nil
		p.mu.Unlock()
		return
	}
	p.refreshUsage(cmd.Process.Pid)
}

func (p *ManagedProcess) detectAlive(cmd *exec.Cmd) (bool, string) {
	pid := cmd.Process.Pid
	if runtime.GOOS == "linux" {
		if isZombieLinux(pid) {
			return false, ""
		}
		if processExists(pid) {
			return true, "exec:pid"
		}
	} else if processExists(pid) {
		return true, "exec:pid"
	}

	p.mu.Lock()
	pidFile := p.info.Config.PIDFile
	p.mu.Unlock()
	if pidFile != "" {
		d := detector.PIDFileDetector{PIDFile: pidFile}
		if ok, _ := d.Alive(); ok {
			return true, d.Describe()
		}
	}
	return false, ""
}

// refreshUsage applies the two-sample CPU delta (§13 Open Question c).
func (p *ManagedProcess) refreshUsage(pid int) {
	s, ok := readUsage(pid)
	if !ok {
		return
	}
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info.MemoryUsage = s.memoryBytes
	if p.haveSample {
		dWall := now.Sub(p.lastSampleT).Seconds()
		dTicks := s.cpuTicks - p.lastSample.cpuTicks
		if dWall > 0 && dTicks >= 0 {
			p.info.CPUUsage = 100 * float64(dTicks) / (float64(clkTck()) * dWall)
		}
	} else {
		p.info.CPUUsage = 0
	}
	p.lastSample = s
	p.lastSampleT = now
	p.haveSample = true
}

// ShouldRestart reports whether auto-restart should fire (spec §4.1):
// autorestart is enabled, status is Errored or Stopped, and no restart
// happened within the last 5s cool-down window.
func (p *ManagedProcess) ShouldRestart() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.info.Config.AutoRestart {
		return false
	}
	if p.info.Status != StatusErrored && p.info.Status != StatusStopped {
		return false
	}
	if p.hasRestart && time.Since(p.lastRestart) < minRestartDebounce {
		return false
	}
	return true
}

// ExceedsMemoryCap reports whether the current sample breaches MaxMemoryMB.
func (p *ManagedProcess) ExceedsMemoryCap() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.info.Config.MaxMemoryMB == 0 {
		return false
	}
	return (p.info.MemoryUsage / 1024 / 1024) > p.info.Config.MaxMemoryMB
}

func isZombieLinux(pid int) bool {
	path := "/proc/" + strconv.Itoa(pid) + "/status"
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
