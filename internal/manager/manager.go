// Package manager is C4 — ProcessManager, the roster of ManagedProcess
// entries and every mutation to it: start/stop/restart/delete, snapshots,
// log retrieval, the monitor pass, and durable-state persistence.
package manager

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gopm/gopm/internal/apperr"
	"github.com/gopm/gopm/internal/config"
	"github.com/gopm/gopm/internal/env"
	"github.com/gopm/gopm/internal/history"
	"github.com/gopm/gopm/internal/process"
)

// Manager owns the roster exclusively (spec §3 "Ownership"). All mutating
// operations acquire mu for the duration of one operation and persist
// afterward; the monitor pass uses TryLock so a slow IPC-driven start does
// not starve the periodic tick (spec §5).
type Manager struct {
	mu     sync.Mutex
	procs  map[string]*process.ManagedProcess
	order  []string // insertion order, for stable list_processes output
	dirs   config.Dirs
	env    *env.Env
	log    *slog.Logger
	events *history.Store // optional; nil when no durable event trail is configured
}

// New constructs a Manager rooted at dirs with an empty roster.
func New(dirs config.Dirs, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		procs: make(map[string]*process.ManagedProcess),
		dirs:  dirs,
		env:   env.New(),
		log:   logger.With("component", "manager"),
	}
}

// SetGlobalEnv installs the daemon-level environment overlay applied to
// every child before its own per-process overrides.
func (m *Manager) SetGlobalEnv(kvs map[string]string) {
	m.mu.Lock()
	e := m.env
	m.mu.Unlock()
	for k, v := range kvs {
		e = e.WithSet(k, v)
	}
	m.mu.Lock()
	m.env = e
	m.mu.Unlock()
}

// SetEventStore wires an optional durable event trail (SPEC_FULL.md §12).
func (m *Manager) SetEventStore(s *history.Store) {
	m.mu.Lock()
	m.events = s
	m.mu.Unlock()
}

func (m *Manager) record(name string, typ history.EventType, detail string) {
	m.mu.Lock()
	s := m.events
	m.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.Append(history.Event{Name: name, Type: typ, Detail: detail}); err != nil {
		m.log.Warn("failed to record history event", "name", name, "error", err)
	}
}

// StartProcess creates a ManagedProcess, spawns it, and inserts it keyed by
// cfg.Name. If a prior entry with that name exists it is replaced: stopped
// then removed before the new one is inserted (spec §4.2
// "replace-after-stop"). instances > 1 fans out to N independently-named
// entries name-1..name-N (§13 Open Question a).
func (m *Manager) StartProcess(cfg process.Config) (string, error) {
	cfg.Normalize()
	if cfg.Instances > 1 {
		return m.startN(cfg)
	}
	id, err := m.startOne(cfg)
	if err != nil {
		return "", err
	}
	if err := m.persist(); err != nil {
		m.log.Warn("failed to persist state after start", "name", cfg.Name, "error", err)
	}
	return id, nil
}

func (m *Manager) startN(cfg process.Config) (string, error) {
	base := cfg.Name
	var firstID string
	for i := 1; i <= cfg.Instances; i++ {
		inst := cfg
		inst.Name = base + "-" + strconv.Itoa(i)
		inst.Instances = 1
		id, err := m.startOne(inst)
		if err != nil {
			return "", err
		}
		if i == 1 {
			firstID = id
		}
	}
	if err := m.persist(); err != nil {
		m.log.Warn("failed to persist state after fan-out start", "name", base, "error", err)
	}
	return firstID, nil
}

func (m *Manager) startOne(cfg process.Config) (string, error) {
	m.mu.Lock()
	if old, ok := m.procs[cfg.Name]; ok {
		m.mu.Unlock()
		_ = old.Stop(5 * time.Second)
		m.mu.Lock()
		delete(m.procs, cfg.Name)
		m.removeOrderLocked(cfg.Name)
	}
	e := m.env
	m.mu.Unlock()

	p := process.New(cfg)
	if err := p.Start(e.Merge(cfg.EnvStrings())); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.procs[cfg.Name] = p
	m.order = append(m.order, cfg.Name)
	m.mu.Unlock()

	m.record(cfg.Name, history.EventStart, "")
	return p.Info().ID, nil
}

func (m *Manager) removeOrderLocked(name string) {
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// StopProcess stops the named entry; it remains in the roster.
func (m *Manager) StopProcess(name string) error {
	p, ok := m.get(name)
	if !ok {
		return apperr.ProcessNotFound(name)
	}
	if err := p.Stop(5 * time.Second); err != nil {
		return err
	}
	m.record(name, history.EventStop, "")
	if err := m.persist(); err != nil {
		m.log.Warn("failed to persist state after stop", "name", name, "error", err)
	}
	return nil
}

// RestartProcess delegates to the entry's Restart.
func (m *Manager) RestartProcess(name string) error {
	p, ok := m.get(name)
	if !ok {
		return apperr.ProcessNotFound(name)
	}
	m.mu.Lock()
	e := m.env
	m.mu.Unlock()
	if err := p.Restart(e.Merge(p.Info().Config.EnvStrings())); err != nil {
		return err
	}
	m.record(name, history.EventRestart, "")
	if err := m.persist(); err != nil {
		m.log.Warn("failed to persist state after restart", "name", name, "error", err)
	}
	return nil
}

// DeleteProcess removes the entry from the roster, then stops it.
func (m *Manager) DeleteProcess(name string) error {
	m.mu.Lock()
	p, ok := m.procs[name]
	if ok {
		delete(m.procs, name)
		m.removeOrderLocked(name)
	}
	m.mu.Unlock()
	if !ok {
		return apperr.ProcessNotFound(name)
	}
	_ = p.Stop(5 * time.Second)
	if err := m.persist(); err != nil {
		m.log.Warn("failed to persist state after delete", "name", name, "error", err)
	}
	return nil
}

// ListProcesses returns a snapshot of every entry's Info, in insertion order.
func (m *Manager) ListProcesses() []process.Info {
	m.mu.Lock()
	names := append([]string{}, m.order...)
	procs := make(map[string]*process.ManagedProcess, len(m.procs))
	for k, v := range m.procs {
		procs[k] = v
	}
	m.mu.Unlock()

	out := make([]process.Info, 0, len(names))
	for _, n := range names {
		if p, ok := procs[n]; ok {
			out = append(out, p.Info())
		}
	}
	return out
}

// GetProcessInfo returns a single entry's snapshot.
func (m *Manager) GetProcessInfo(name string) (process.Info, error) {
	p, ok := m.get(name)
	if !ok {
		return process.Info{}, apperr.ProcessNotFound(name)
	}
	return p.Info(), nil
}

// GetLogs returns the last n lines of the entry's log buffer.
func (m *Manager) GetLogs(name string, n int) ([]string, error) {
	p, ok := m.get(name)
	if !ok {
		return nil, apperr.ProcessNotFound(name)
	}
	return p.Logs(n), nil
}

// GetHistory returns the durable event trail for name (SPEC_FULL.md §12
// enrichment), oldest first. Returns an empty slice, not an error, when no
// event store is configured — history is additive, never load-bearing.
func (m *Manager) GetHistory(name string) ([]history.Event, error) {
	if _, ok := m.get(name); !ok {
		return nil, apperr.ProcessNotFound(name)
	}
	m.mu.Lock()
	s := m.events
	m.mu.Unlock()
	if s == nil {
		return nil, nil
	}
	return s.ForName(name)
}

func (m *Manager) get(name string) (*process.ManagedProcess, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[name]
	return p, ok
}

// RunMonitorPass performs one sweep (spec §4.2.1): check_status + collect
// entries due for restart, then restart each outside the scan loop so
// mutating the roster mid-restart never invalidates the iteration.
func (m *Manager) RunMonitorPass() {
	m.mu.Lock()
	procs, e := m.snapshotForMonitorLocked()
	m.mu.Unlock()
	m.runMonitorPass(procs, e)
}

func (m *Manager) snapshotForMonitorLocked() ([]*process.ManagedProcess, *env.Env) {
	procs := make([]*process.ManagedProcess, 0, len(m.order))
	for _, n := range m.order {
		if p, ok := m.procs[n]; ok {
			procs = append(procs, p)
		}
	}
	return procs, m.env
}

func (m *Manager) runMonitorPass(procs []*process.ManagedProcess, e *env.Env) {
	if len(procs) == 0 {
		return
	}

	var toRestart []*process.ManagedProcess
	for _, p := range procs {
		prevStatus := p.Info().Status
		p.CheckStatus()
		info := p.Info()
		if info.Status == process.StatusErrored && prevStatus != process.StatusErrored {
			m.record(info.Name, history.EventErrored, "")
		}
		if p.ShouldRestart() {
			toRestart = append(toRestart, p)
			continue
		}
		if p.ExceedsMemoryCap() {
			m.log.Warn("process exceeded memory limit, scheduling restart",
				"name", info.Name, "memory_mb", info.MemoryUsage/1024/1024, "max_mb", info.Config.MaxMemoryMB)
			toRestart = append(toRestart, p)
		}
	}

	for _, p := range toRestart {
		info := p.Info()
		m.log.Info("auto-restarting process", "name", info.Name)
		if err := p.Restart(e.Merge(info.Config.EnvStrings())); err != nil {
			m.log.Error("failed to restart process", "name", info.Name, "error", err)
			continue
		}
		m.record(info.Name, history.EventRestart, "auto-restart")
	}

	if err := m.persist(); err != nil {
		m.log.Warn("failed to persist state after monitor pass", "error", err)
	}
}

// SaveState persists the roster's current ProcessConfigs (spec
// "SaveProcesses" IPC request).
func (m *Manager) SaveState() error {
	return m.persist()
}

func (m *Manager) persist() error {
	return config.SaveProcesses(m.dirs, m.configsLocked())
}

func (m *Manager) configsLocked() []process.Config {
	m.mu.Lock()
	names := append([]string{}, m.order...)
	procs := make(map[string]*process.ManagedProcess, len(m.procs))
	for k, v := range m.procs {
		procs[k] = v
	}
	m.mu.Unlock()

	out := make([]process.Config, 0, len(names))
	for _, n := range names {
		if p, ok := procs[n]; ok {
			out = append(out, p.Info().Config)
		}
	}
	return out
}

// LoadState reads the persisted ProcessConfigs back from durable state; it
// leaves the roster unchanged and starts no children. ResurrectProcesses
// (spec §4.3, "Resurrect" in the glossary) uses it to re-spawn them.
func (m *Manager) LoadState() ([]process.Config, error) {
	return config.LoadProcesses(m.dirs)
}

// ResurrectProcesses reloads the persisted roster and re-spawns every entry.
func (m *Manager) ResurrectProcesses() error {
	cfgs, err := m.LoadState()
	if err != nil {
		return err
	}
	sort.SliceStable(cfgs, func(i, j int) bool { return cfgs[i].Name < cfgs[j].Name })
	for _, cfg := range cfgs {
		if _, err := m.StartProcess(cfg); err != nil {
			m.log.Error("failed to resurrect process", "name", cfg.Name, "error", err)
		}
	}
	return nil
}

// TryRunMonitorPass attempts to acquire the roster lock for the duration of
// a monitor tick; on contention it returns false and the tick is skipped
// entirely (spec §4.4/§5 "try-acquire").
func (m *Manager) TryRunMonitorPass() bool {
	if !m.mu.TryLock() {
		return false
	}
	procs, e := m.snapshotForMonitorLocked()
	m.mu.Unlock()
	m.runMonitorPass(procs, e)
	return true
}
