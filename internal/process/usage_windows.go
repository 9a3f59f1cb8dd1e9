//go:build windows

package process

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// sample is one point-in-time resource reading; see usage_unix.go.
type sample struct {
	memoryBytes uint64
	cpuTicks    int64
}

// readUsage uses gopsutil's working-set/CPU-times queries on Windows,
// mirroring original_source/src/process.rs get_process_usage_windows
// (GetProcessMemoryInfo / WorkingSetSize), with CPU expressed in the same
// synthetic tick unit as usage_unix.go so the delta math is platform-agnostic.
func readUsage(pid int) (sample, bool) {
	if pid <= 0 {
		return sample{}, false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return sample{}, false
	}
	mi, err := p.MemoryInfo()
	var mem uint64
	if err == nil && mi != nil {
		mem = mi.RSS
	}
	times, err := p.Times()
	var ticks int64
	if err == nil {
		ticks = int64((times.User + times.System) * 100)
	}
	return sample{memoryBytes: mem, cpuTicks: ticks}, true
}

func clkTck() int64 { return 100 }
