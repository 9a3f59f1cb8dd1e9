// Package config is C2 — persistent daemon settings and process roster
// state, load-or-default-then-save semantics per spec §6/§9, directory
// resolution per the user's platform config/data/runtime locations.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/gopm/gopm/internal/apperr"
	"github.com/gopm/gopm/internal/process"
)

const appDirName = "gopm"

// Settings is the daemon's own configuration (spec §6 "Daemon settings").
type Settings struct {
	DaemonPort          uint16        `mapstructure:"daemon_port" json:"daemon_port"`
	MaxProcesses        int           `mapstructure:"max_processes" json:"max_processes"`
	LogMaxSizeBytes     int64         `mapstructure:"log_max_size" json:"log_max_size"`
	LogRetentionDays    int           `mapstructure:"log_retention_days" json:"log_retention_days"`
	AutoRestartDelaySec int           `mapstructure:"auto_restart_delay" json:"auto_restart_delay"`
	HealthCheckInterval int           `mapstructure:"health_check_interval" json:"health_check_interval"`
}

func defaultSettings() Settings {
	return Settings{
		DaemonPort:          9999,
		MaxProcesses:        1000,
		LogMaxSizeBytes:     100 * 1024 * 1024,
		LogRetentionDays:    30,
		AutoRestartDelaySec: 5,
		HealthCheckInterval: 5,
	}
}

// Dirs resolves the three platform directories the daemon writes under,
// mirroring the original Rust implementation's
// directories::ProjectDirs::from("", "", "rpm") via adrg/xdg.
type Dirs struct {
	Config  string
	Data    string
	Runtime string
}

// ResolveDirs returns the config/data/runtime directories for "gopm",
// creating none of them (callers create what they need, lazily).
func ResolveDirs() Dirs {
	runtime := xdg.RuntimeDir
	if runtime == "" {
		runtime = filepath.Join(xdg.DataHome, appDirName)
	} else {
		runtime = filepath.Join(runtime, appDirName)
	}
	return Dirs{
		Config:  filepath.Join(xdg.ConfigHome, appDirName),
		Data:    filepath.Join(xdg.DataHome, appDirName),
		Runtime: runtime,
	}
}

func (d Dirs) configPath() string    { return filepath.Join(d.Config, "config.json") }
func (d Dirs) processesPath() string { return filepath.Join(d.Data, "processes.json") }

// LogsDir returns (and creates) the reserved logs directory.
func (d Dirs) LogsDir() (string, error) {
	p := filepath.Join(d.Data, "logs")
	if err := os.MkdirAll(p, 0o750); err != nil {
		return "", apperr.Wrap(apperr.KindConfiguration, "failed to create logs directory", err)
	}
	return p, nil
}

// PIDsDir returns (and creates) the reserved pids directory.
func (d Dirs) PIDsDir() (string, error) {
	p := filepath.Join(d.Runtime, "pids")
	if err := os.MkdirAll(p, 0o750); err != nil {
		return "", apperr.Wrap(apperr.KindConfiguration, "failed to create pids directory", err)
	}
	return p, nil
}

// SocketPath returns the Unix-domain socket path under the runtime
// directory (spec §4.3: "a local filesystem-namespaced stream on POSIX").
func (d Dirs) SocketPath() string {
	return filepath.Join(d.Runtime, "gopm.sock")
}

// LoadSettings loads config.json via viper, writing platform defaults first
// if the file is absent (spec §6: "Missing file => write defaults then load").
func LoadSettings(d Dirs) (Settings, error) {
	path := d.configPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		s := defaultSettings()
		if err := SaveSettings(d, s); err != nil {
			return s, err
		}
		return s, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Settings{}, apperr.Wrap(apperr.KindConfiguration, "failed to read config file", err)
	}
	s := defaultSettings()
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, apperr.Wrap(apperr.KindConfiguration, "failed to parse config file", err)
	}
	return s, nil
}

// SaveSettings writes s to config.json, creating the config directory.
func SaveSettings(d Dirs, s Settings) error {
	if err := os.MkdirAll(d.Config, 0o750); err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "failed to create config directory", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "failed to serialize config", err)
	}
	if err := os.WriteFile(d.configPath(), b, 0o600); err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "failed to write config file", err)
	}
	return nil
}

// SaveProcesses whole-file-rewrites the ordered roster of process.Config
// (spec §3 invariant 5, §9 "Persistence granularity").
func SaveProcesses(d Dirs, cfgs []process.Config) error {
	if err := os.MkdirAll(d.Data, 0o750); err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "failed to create processes directory", err)
	}
	b, err := json.MarshalIndent(cfgs, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "failed to serialize processes", err)
	}
	if err := os.WriteFile(d.processesPath(), b, 0o600); err != nil {
		return apperr.Wrap(apperr.KindConfiguration, "failed to write processes file", err)
	}
	return nil
}

// LoadProcesses reads back the roster written by SaveProcesses. A missing
// file yields an empty, non-error roster (fresh install).
func LoadProcesses(d Dirs) ([]process.Config, error) {
	b, err := os.ReadFile(d.processesPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "failed to read processes file", err)
	}
	var cfgs []process.Config
	if err := json.Unmarshal(b, &cfgs); err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "failed to parse processes file", err)
	}
	return cfgs, nil
}
