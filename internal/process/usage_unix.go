//go:build !windows

package process

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// sample is one point-in-time resource reading: resident memory in bytes
// plus the raw CPU-tick counter needed to compute a delta against the next
// sample (§13 Open Question c).
type sample struct {
	memoryBytes uint64
	cpuTicks    int64
}

// readUsage mirrors original_source/src/process.rs get_process_usage_unix:
// RSS from /proc/[pid]/statm field 2 times the real page size (the original
// hardcodes 4096; gopm queries the actual page size for portability). CPU
// ticks come from /proc/[pid]/stat fields 14+15 (utime+stime) on Linux; on
// other Unixes gopsutil's Times() is used as a percentage-seconds stand-in
// converted to ticks via clkTck so the same delta math applies uniformly.
func readUsage(pid int) (sample, bool) {
	if pid <= 0 {
		return sample{}, false
	}
	if runtime.GOOS == "linux" {
		return readUsageLinux(pid)
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
		ticks = int64((times.User + times.System) * float64(clkTck()))
	}
	return sample{memoryBytes: mem, cpuTicks: ticks}, true
}

func readUsageLinux(pid int) (sample, bool) {
	statmPath := "/proc/" + strconv.Itoa(pid) + "/statm"
	statmB, err := os.ReadFile(statmPath)
	if err != nil {
		return sample{}, false
	}
	fields := strings.Fields(string(statmB))
	var residentPages uint64
	if len(fields) > 1 {
		residentPages, _ = strconv.ParseUint(fields[1], 10, 64)
	}
	mem := residentPages * uint64(os.Getpagesize())

	statPath := "/proc/" + strconv.Itoa(pid) + "/stat"
	statB, err := os.ReadFile(statPath)
	if err != nil {
		return sample{memoryBytes: mem}, true
	}
	line := string(statB)
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return sample{memoryBytes: mem}, true
	}
	rest := strings.Fields(strings.TrimSpace(line[end+2:]))
	// rest[0] is state (overall field 3); utime is overall field 14 => rest index 11,
	// stime is overall field 15 => rest index 12.
	var ticks int64
	if len(rest) > 12 {
		utime, _ := strconv.ParseInt(rest[11], 10, 64)
		stime, _ := strconv.ParseInt(rest[12], 10, 64)
		ticks = utime + stime
	}
	return sample{memoryBytes: mem, cpuTicks: ticks}, true
}

func clkTck() int64 {
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		return 100
	}
	return clk
}
