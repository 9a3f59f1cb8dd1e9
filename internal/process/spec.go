package process

import (
	"time"

	"github.com/gopm/gopm/internal/logger"
)

// EnvVar is an ordered key/value override applied on top of the daemon's
// global environment and the OS base environment.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Config is the user's declarative spec for one supervised entry — the
// wire/persisted shape of ProcessConfig.
type Config struct {
	Name        string   `json:"name"`
	Command     string   `json:"command"`
	Cwd         string   `json:"cwd,omitempty"`
	Instances   int      `json:"instances"`
	AutoRestart bool     `json:"autorestart"`
	MaxMemoryMB uint64   `json:"max_memory,omitempty"`
	Env         []EnvVar `json:"env,omitempty"`

	// PIDFile, Detached and Log are internal/ambient concerns not part of
	// the user-facing start arguments but persisted alongside a Config so
	// a resurrected entry launches the same way it did originally.
	PIDFile  string        `json:"pid_file,omitempty"`
	Detached bool          `json:"detached,omitempty"`
	Log      logger.Config `json:"log,omitempty"`
}

// Normalize fills Name from the first whitespace token of Command when
// absent and defaults Instances to 1, per spec §3/§6.
func (c *Config) Normalize() {
	if c.Name == "" {
		c.Name = firstToken(c.Command)
	}
	if c.Instances <= 0 {
		c.Instances = 1
	}
}

func firstToken(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	start := i
	for i < len(s) && s[i] != ' ' && s[i] != '\t' {
		i++
	}
	if start == i {
		return "unknown"
	}
	return s[start:i]
}

// EnvStrings renders Env as "KEY=VALUE" pairs for exec.Cmd.Env composition.
func (c Config) EnvStrings() []string {
	out := make([]string, 0, len(c.Env))
	for _, kv := range c.Env {
		out = append(out, kv.Key+"="+kv.Value)
	}
	return out
}

// minRestartDebounce is the cool-down window enforced by should_restart (spec §4.1).
const minRestartDebounce = 5 * time.Second

// restartSleep is the debounce sleep performed inside restart() before
// respawning (spec §4.1: "sleep >= 500 ms").
const restartSleep = 500 * time.Millisecond
