package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gopm/gopm/internal/config"
)

// runDaemonBackground re-execs the current binary with --foreground, detached
// from the controlling terminal, then exits the parent once the child is
// spawned (the child itself becomes the daemon; there is no further
// double-fork — Setsid already drops the controlling terminal).
func runDaemonBackground() error {
	dirs := config.ResolveDirs()
	if err := os.MkdirAll(dirs.Data, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(executable, "daemon", "--foreground")
	configureDaemonAttrs(cmd)
	cmd.Stdin = nil

	logPath := filepath.Join(dirs.Data, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open daemon log file: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	fmt.Printf("daemon started with pid %d\n", cmd.Process.Pid)
	return nil
}
