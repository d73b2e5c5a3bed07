package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultRoot = "/sys/fs/cgroup"

// groupPrefix namespaces every group this launcher creates so leftovers
// are recognizable after a crash.
const groupPrefix = "prediagent"

// Manager handles cgroup lifecycle for supervised children. Containment
// is best effort: without permission to write under the cgroup root the
// manager degrades to a no-op rather than failing the launch.
type Manager struct {
	root    string
	version int
}

// New creates a manager rooted at the host cgroup filesystem.
func New() *Manager {
	return newWithRoot(defaultRoot)
}

func newWithRoot(root string) *Manager {
	return &Manager{
		root:    root,
		version: detectVersion(root),
	}
}

// detectVersion reports the cgroup hierarchy version under root.
func detectVersion(root string) int {
	if _, err := os.Stat(filepath.Join(root, "cgroup.controllers")); err == nil {
		return 2
	}
	return 1
}

// Setup creates a group for the named process, joins the pid, and
// applies limits. Returns the group path for later removal, or empty
// when containment is unavailable.
func (m *Manager) Setup(name string, pid int, limits *Limits) string {
	path, err := m.Create(name)
	if err != nil || path == "" {
		return ""
	}

	if err := m.Join(path, pid); err != nil {
		m.Delete(path)
		return ""
	}

	if limits != nil {
		if limits.CPUMax != "" {
			m.writeCPUMax(path, limits.CPUMax)
		}
		if limits.CPUWeight > 0 {
			m.writeCPUWeight(path, limits.CPUWeight)
		}
		if limits.MemoryMax > 0 {
			m.writeMemoryMax(path, limits.MemoryMax)
		}
		if limits.IOMax != "" {
			m.writeIOMax(path, limits.IOMax)
		}
	}

	return path
}

// Create creates a cgroup directory for the named process.
// Returns the group path, empty when permissions do not allow it.
func (m *Manager) Create(name string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("unnamed-%d", os.Getpid())
	}

	group := fmt.Sprintf("%s/%s", groupPrefix, name)

	if m.version == 2 {
		return m.createV2(group)
	}
	return m.createV1(group)
}

func (m *Manager) createV2(name string) (string, error) {
	path := filepath.Join(m.root, name)

	if err := os.MkdirAll(path, 0755); err != nil {
		if os.IsPermission(err) {
			return "", nil // containment unavailable, not an error
		}
		return "", err
	}

	return path, nil
}

func (m *Manager) createV1(name string) (string, error) {
	// v1: cpu hierarchy is the primary path
	cpuPath := filepath.Join(m.root, "cpu", name)

	if err := os.MkdirAll(cpuPath, 0755); err != nil {
		if os.IsPermission(err) {
			return "", nil
		}
		return "", err
	}

	// Also create under memory (best effort)
	memPath := filepath.Join(m.root, "memory", name)
	os.MkdirAll(memPath, 0755)

	return cpuPath, nil
}

// Join moves a PID into the cgroup.
func (m *Manager) Join(path string, pid int) error {
	if path == "" {
		return nil
	}

	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}

	if m.version == 2 {
		return m.joinV2(path, pid)
	}
	return m.joinV1(path, pid)
}

func (m *Manager) joinV2(path string, pid int) error {
	procsFile := filepath.Join(path, "cgroup.procs")
	return os.WriteFile(procsFile, []byte(fmt.Sprintf("%d", pid)), 0644)
}

func (m *Manager) joinV1(path string, pid int) error {
	cpuProcs := filepath.Join(path, "cgroup.procs")
	if err := os.WriteFile(cpuProcs, []byte(fmt.Sprintf("%d", pid)), 0644); err != nil {
		return err
	}

	// Mirror into the memory hierarchy (best effort)
	memPath := strings.Replace(path, "/cpu/", "/memory/", 1)
	memProcs := filepath.Join(memPath, "cgroup.procs")
	os.WriteFile(memProcs, []byte(fmt.Sprintf("%d", pid)), 0644)

	return nil
}

// Delete removes the cgroup directory. The kernel refuses while a task
// is still inside, so callers remove only after the child exited.
func (m *Manager) Delete(path string) error {
	if path == "" {
		return nil
	}

	if m.version == 1 {
		memPath := strings.Replace(path, "/cpu/", "/memory/", 1)
		os.Remove(memPath)
	}

	return os.Remove(path)
}
