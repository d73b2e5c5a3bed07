package sysinfo

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostInfo is a point-in-time snapshot of host resources
type HostInfo struct {
	Hostname     string  `json:"hostname"`
	CPUCores     int     `json:"cpu_cores"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemTotalMB   uint64  `json:"mem_total_mb"`
	MemUsedMB    uint64  `json:"mem_used_mb"`
	MemAvailable uint64  `json:"mem_available_mb"`
}

// ProcessStats holds resource usage for a single process
type ProcessStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
}

// Collect samples host CPU and memory usage. The CPU reading averages
// over a short window, so this call blocks for about 100ms.
func Collect() (*HostInfo, error) {
	hostname, _ := os.Hostname()

	info := &HostInfo{
		Hostname: hostname,
		CPUCores: runtime.NumCPU(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		info.CPUPercent = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory info: %w", err)
	}
	info.MemTotalMB = memInfo.Total / 1024 / 1024
	info.MemUsedMB = memInfo.Used / 1024 / 1024
	info.MemAvailable = memInfo.Available / 1024 / 1024

	return info, nil
}

// Sample reads CPU and resident memory usage for one process. The CPU
// figure is averaged over the process lifetime.
func Sample(pid int) (*ProcessStats, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	stats := &ProcessStats{}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpuPercent
	}
	if memInfo, err := p.MemoryInfo(); err == nil && memInfo != nil {
		stats.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}
	return stats, nil
}
