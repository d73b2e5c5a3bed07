package launch

import (
	"fmt"
	"net"
	"os/exec"
)

// PreflightError reports environment problems found before anything
// was spawned. The launcher exits with code 3 on one.
type PreflightError struct {
	Problems []string
}

// Error implements error interface
func (e *PreflightError) Error() string {
	if len(e.Problems) == 1 {
		return "preflight failed: " + e.Problems[0]
	}
	return fmt.Sprintf("preflight failed: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

// Preflight verifies the plan can actually run on this host: every
// command resolves on PATH and every declared listen port is still
// free. Nothing is spawned until all checks pass.
func Preflight(plan *Plan) error {
	var problems []string

	for _, proc := range plan.Processes {
		if _, err := exec.LookPath(proc.Command); err != nil {
			problems = append(problems, fmt.Sprintf("process %q: command %q not found on PATH", proc.Name, proc.Command))
		}

		if proc.Listen != "" {
			if err := checkPortFree(proc.Listen); err != nil {
				problems = append(problems, fmt.Sprintf("process %q: listen address %s unavailable: %v", proc.Name, proc.Listen, err))
			}
		}
	}

	if len(problems) > 0 {
		return &PreflightError{Problems: problems}
	}
	return nil
}

// checkPortFree binds and immediately releases the address. A bind
// failure means something else already owns the port.
func checkPortFree(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
