package process

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDMeta guards against PID reuse across daemon restarts by recording the
// process start time alongside the PID (teacher's
// internal/process/pidfile.go PIDMeta).
type PIDMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// WritePIDFile persists pid plus cfg and meta as three newline-separated
// lines: PID, Config JSON, PIDMeta JSON.
func WritePIDFile(path string, pid int, cfg Config, meta PIDMeta) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(cfgJSON) + "\n" + string(metaJSON) + "\n"
	return os.WriteFile(path, []byte(content), 0o600)
}

// RemovePIDFile best-effort removes the pidfile.
func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReadPIDFile parses a pidfile written by WritePIDFile. cfg/meta are nil if
// their line is absent or unparsable.
func ReadPIDFile(path string) (pid int, cfg *Config, meta *PIDMeta, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, nil, err
	}
	content := strings.ReplaceAll(string(b), "\r\n", "\n")
	lines := strings.SplitN(content, "\n", 3)
	pidStr := strings.TrimSpace(lines[0])
	pid, err = strconv.Atoi(pidStr)
	if err != nil {
		return 0, nil, nil, err
	}
	if len(lines) >= 2 {
		var c Config
		if jerr := json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &c); jerr == nil {
			cfg = &c
		}
	}
	if len(lines) >= 3 {
		var m PIDMeta
		if jerr := json.Unmarshal([]byte(strings.TrimSpace(lines[2])), &m); jerr == nil {
			meta = &m
		}
	}
	return pid, cfg, meta, nil
}
