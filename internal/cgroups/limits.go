package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
)

// Limits is the raw containment surface for one supervised child.
// Values map directly onto cgroup interface files, no policy on top.
type Limits struct {
	CPUMax    string // "quota period" or "max"
	CPUWeight int    // 1-10000
	MemoryMax int64  // bytes, 0 = no limit
	IOMax     string // "major:minor rbps=X wbps=Y" (cgroup v2 only)
}

// writeCPUMax writes cpu.max (v2). v1 would need quota and period split
// across two files, which no deployment of this launcher has asked for.
func (m *Manager) writeCPUMax(path string, value string) error {
	if m.version != 2 {
		return nil
	}

	cpuMaxFile := filepath.Join(path, "cpu.max")
	return os.WriteFile(cpuMaxFile, []byte(value), 0644)
}

// writeCPUWeight writes cpu.weight (v2) or cpu.shares (v1).
func (m *Manager) writeCPUWeight(path string, weight int) error {
	if weight <= 0 || weight > 10000 {
		return fmt.Errorf("invalid cpu weight: %d (must be 1-10000)", weight)
	}

	if m.version == 2 {
		cpuWeightFile := filepath.Join(path, "cpu.weight")
		return os.WriteFile(cpuWeightFile, []byte(fmt.Sprintf("%d", weight)), 0644)
	}

	// v1: weight 100 maps to the default 1024 shares
	shares := (weight * 1024) / 100
	cpuSharesFile := filepath.Join(path, "cpu.shares")
	return os.WriteFile(cpuSharesFile, []byte(fmt.Sprintf("%d", shares)), 0644)
}

// writeMemoryMax writes memory.max (v2) or memory.limit_in_bytes (v1).
func (m *Manager) writeMemoryMax(path string, bytes int64) error {
	if bytes <= 0 {
		return nil
	}

	if m.version == 2 {
		memMaxFile := filepath.Join(path, "memory.max")
		return os.WriteFile(memMaxFile, []byte(fmt.Sprintf("%d", bytes)), 0644)
	}

	memLimitFile := filepath.Join(path, "memory.limit_in_bytes")
	return os.WriteFile(memLimitFile, []byte(fmt.Sprintf("%d", bytes)), 0644)
}

// writeIOMax writes io.max (v2 only).
func (m *Manager) writeIOMax(path string, value string) error {
	if value == "" || m.version != 2 {
		return nil
	}

	ioMaxFile := filepath.Join(path, "io.max")
	return os.WriteFile(ioMaxFile, []byte(value), 0644)
}
