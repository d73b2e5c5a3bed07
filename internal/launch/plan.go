package launch

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stocktrend/prediagent/pkg/models"
)

// Launch defaults. The built-in plan reproduces the original two
// process deployment: the prediction agent on loopback 8002, then the
// dashboard on all interfaces at 8501.
const (
	DefaultAgentAddr = "127.0.0.1:8002"
	DefaultUIAddr    = "0.0.0.0:8501"

	DefaultMinDelay      = 5 * time.Second
	DefaultShutdownGrace = 30 * time.Second
	DefaultGateTimeout   = 90 * time.Second
	DefaultGateInterval  = 500 * time.Millisecond

	DefaultHealthInterval = 10 * time.Second
	DefaultSampleInterval = 10 * time.Second
)

// Duration accepts either a Go duration string ("5s", "1m30s") or a
// bare number of seconds, which older plan files use.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var seconds float64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration value: %s", value.Value)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ReadyConfig declares the readiness gate for one process.
type ReadyConfig struct {
	URL          string   `yaml:"url,omitempty"`
	TCP          string   `yaml:"tcp,omitempty"`
	Interval     Duration `yaml:"interval,omitempty"`
	Timeout      Duration `yaml:"timeout,omitempty"`
	ProbeTimeout Duration `yaml:"probe_timeout,omitempty"`
	Successes    int      `yaml:"successes,omitempty"`
	CAFile       string   `yaml:"ca_file,omitempty"`
}

// Enabled reports whether the gate probes at all. Without a target the
// gate is a plain minimum-delay sleep.
func (r *ReadyConfig) Enabled() bool {
	return r != nil && (r.URL != "" || r.TCP != "")
}

// HealthConfig declares steady-state health polling for one process.
type HealthConfig struct {
	URL            string   `yaml:"url,omitempty"`
	Interval       Duration `yaml:"interval,omitempty"`
	DegradedAfter  int      `yaml:"degraded_after,omitempty"`
	UnhealthyAfter int      `yaml:"unhealthy_after,omitempty"`
}

// RestartConfig declares the restart policy for one process.
type RestartConfig struct {
	Policy      string   `yaml:"policy,omitempty"` // restart, fail-unit, ignore
	MaxRestarts int      `yaml:"max_restarts,omitempty"`
	Window      Duration `yaml:"window,omitempty"`
	Cooldown    Duration `yaml:"cooldown,omitempty"`
	Delay       Duration `yaml:"delay,omitempty"`
	MaxDelay    Duration `yaml:"max_delay,omitempty"`
}

// LimitsConfig declares optional cgroup containment for one process.
type LimitsConfig struct {
	CPUMax      string `yaml:"cpu_max,omitempty"`
	CPUWeight   int    `yaml:"cpu_weight,omitempty"`
	MemoryMaxMB int64  `yaml:"memory_max_mb,omitempty"`
	IOMax       string `yaml:"io_max,omitempty"`
}

// ProcessConfig declares one entry of the launch sequence.
type ProcessConfig struct {
	Name       string        `yaml:"name"`
	Command    string        `yaml:"command"`
	Args       []string      `yaml:"args,omitempty"`
	Dir        string        `yaml:"dir,omitempty"`
	Env        []string      `yaml:"env,omitempty"`
	Listen     string        `yaml:"listen,omitempty"`
	MinDelay   *Duration     `yaml:"min_delay,omitempty"`
	Foreground bool          `yaml:"foreground,omitempty"`
	Ready      *ReadyConfig  `yaml:"ready,omitempty"`
	Health     *HealthConfig `yaml:"health,omitempty"`
	Restart    RestartConfig `yaml:"restart,omitempty"`
	Limits     *LimitsConfig `yaml:"limits,omitempty"`
}

// Plan is the full launch description: the ordered process list plus
// launcher-level settings.
type Plan struct {
	Log            string   `yaml:"log,omitempty"`
	JSONLogs       bool     `yaml:"json_logs,omitempty"`
	StatusAddr     string   `yaml:"status_addr,omitempty"`
	MetricsAddr    string   `yaml:"metrics_addr,omitempty"`
	ReportPath     string   `yaml:"report_path,omitempty"`
	ShutdownGrace  Duration `yaml:"shutdown_grace,omitempty"`
	SampleInterval Duration `yaml:"sample_interval,omitempty"`
	Cgroups        bool     `yaml:"cgroups,omitempty"`

	Processes []ProcessConfig `yaml:"processes"`
}

// PlanError reports why a plan was rejected.
type PlanError struct {
	Problems []string
}

// Error implements error interface
func (e *PlanError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid plan: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid plan: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

// LoadPlan reads, validates and defaults a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan parses and validates plan bytes.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, &PlanError{Problems: []string{fmt.Sprintf("yaml: %v", err)}}
	}

	plan.ApplyDefaults()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ApplyDefaults fills unset launcher and per-process settings.
func (p *Plan) ApplyDefaults() {
	if p.ShutdownGrace <= 0 {
		p.ShutdownGrace = Duration(DefaultShutdownGrace)
	}
	if p.SampleInterval <= 0 {
		p.SampleInterval = Duration(DefaultSampleInterval)
	}

	for i := range p.Processes {
		proc := &p.Processes[i]

		if proc.MinDelay == nil {
			d := Duration(DefaultMinDelay)
			proc.MinDelay = &d
		}

		if proc.Ready != nil {
			if proc.Ready.Interval <= 0 {
				proc.Ready.Interval = Duration(DefaultGateInterval)
			}
			if proc.Ready.Timeout <= 0 {
				proc.Ready.Timeout = Duration(DefaultGateTimeout)
			}
			if proc.Ready.Successes <= 0 {
				proc.Ready.Successes = 1
			}
		}

		if proc.Health != nil && proc.Health.URL != "" {
			if proc.Health.Interval <= 0 {
				proc.Health.Interval = Duration(DefaultHealthInterval)
			}
			if proc.Health.DegradedAfter <= 0 {
				proc.Health.DegradedAfter = 2
			}
			if proc.Health.UnhealthyAfter <= proc.Health.DegradedAfter {
				proc.Health.UnhealthyAfter = proc.Health.DegradedAfter * 2
			}
		}

		if proc.Restart.Policy == "" {
			proc.Restart.Policy = string(models.RestartModeFailUnit)
		}
	}
}

// Validate rejects malformed plans. The launcher exits with code 2 on
// a PlanError.
func (p *Plan) Validate() error {
	var problems []string

	if len(p.Processes) == 0 {
		problems = append(problems, "no processes declared")
	}

	seen := make(map[string]bool)
	foregroundCount := 0

	for i, proc := range p.Processes {
		where := fmt.Sprintf("process %d", i)
		if proc.Name != "" {
			where = fmt.Sprintf("process %q", proc.Name)
		}

		if proc.Name == "" {
			problems = append(problems, where+": missing name")
		} else if seen[proc.Name] {
			problems = append(problems, where+": duplicate name")
		}
		seen[proc.Name] = true

		if proc.Command == "" {
			problems = append(problems, where+": missing command")
		}

		if proc.Listen != "" {
			if _, _, err := net.SplitHostPort(proc.Listen); err != nil {
				problems = append(problems, fmt.Sprintf("%s: bad listen address %q", where, proc.Listen))
			}
		}

		switch models.RestartMode(proc.Restart.Policy) {
		case models.RestartModeRestart, models.RestartModeFailUnit, models.RestartModeIgnore:
		default:
			problems = append(problems, fmt.Sprintf("%s: unknown restart policy %q", where, proc.Restart.Policy))
		}

		if proc.Foreground {
			foregroundCount++
			if i != len(p.Processes)-1 {
				problems = append(problems, where+": foreground process must be last in the sequence")
			}
			if models.RestartMode(proc.Restart.Policy) == models.RestartModeRestart {
				problems = append(problems, where+": foreground process cannot use restart policy \"restart\"")
			}
		}

		if proc.Restart.MaxRestarts < 0 {
			problems = append(problems, where+": negative max_restarts")
		}
	}

	if foregroundCount != 1 && len(p.Processes) > 0 {
		problems = append(problems, fmt.Sprintf("exactly one foreground process required, found %d", foregroundCount))
	}

	if len(problems) > 0 {
		return &PlanError{Problems: problems}
	}
	return nil
}

// Foreground returns the keystone entry. Valid plans have exactly one.
func (p *Plan) Foreground() *ProcessConfig {
	for i := range p.Processes {
		if p.Processes[i].Foreground {
			return &p.Processes[i]
		}
	}
	return nil
}

// RestartPolicy converts the YAML restart block into the model policy.
func (c *ProcessConfig) RestartPolicy() *models.RestartPolicy {
	policy := models.DefaultRestartPolicy()
	policy.Mode = models.RestartMode(c.Restart.Policy)
	if c.Restart.MaxRestarts > 0 {
		policy.MaxRestarts = c.Restart.MaxRestarts
	}
	if c.Restart.Window > 0 {
		policy.Window = c.Restart.Window.Std()
	}
	if c.Restart.Cooldown > 0 {
		policy.Cooldown = c.Restart.Cooldown.Std()
	}
	if c.Restart.Delay > 0 {
		policy.InitialDelay = c.Restart.Delay.Std()
	}
	if c.Restart.MaxDelay > 0 {
		policy.MaxDelay = c.Restart.MaxDelay.Std()
	}
	return policy
}

// DefaultPlan builds the built-in agent-then-dashboard plan used when
// no plan file is given.
func DefaultPlan(agentCmd, uiCmd string) *Plan {
	plan := &Plan{
		Processes: []ProcessConfig{
			{
				Name:    "agent",
				Command: agentCmd,
				Args:    []string{"--addr", DefaultAgentAddr},
				Listen:  DefaultAgentAddr,
				Ready: &ReadyConfig{
					URL: fmt.Sprintf("http://%s/ready", DefaultAgentAddr),
				},
				Health: &HealthConfig{
					URL: fmt.Sprintf("http://%s/health", DefaultAgentAddr),
				},
			},
			{
				Name:       "ui",
				Command:    uiCmd,
				Args:       []string{"--addr", DefaultUIAddr, "--agent-url", "http://" + DefaultAgentAddr},
				Listen:     DefaultUIAddr,
				Foreground: true,
			},
		},
	}
	plan.ApplyDefaults()
	return plan
}
