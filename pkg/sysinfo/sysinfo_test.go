package sysinfo

import (
	"os"
	"testing"
)

func TestCollect(t *testing.T) {
	info, err := Collect()
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if info.CPUCores < 1 {
		t.Errorf("expected at least 1 CPU core, got %d", info.CPUCores)
	}
	if info.MemTotalMB == 0 {
		t.Error("expected non-zero total memory")
	}
	if info.MemUsedMB > info.MemTotalMB {
		t.Errorf("used memory %d exceeds total %d", info.MemUsedMB, info.MemTotalMB)
	}
}

func TestSampleSelf(t *testing.T) {
	stats, err := Sample(os.Getpid())
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if stats.MemoryMB <= 0 {
		t.Errorf("expected positive resident memory, got %v", stats.MemoryMB)
	}
}

func TestSampleMissingProcess(t *testing.T) {
	// PIDs this large are rejected by the kernel
	if _, err := Sample(1 << 22); err == nil {
		t.Error("expected an error for a nonexistent process")
	}
}
