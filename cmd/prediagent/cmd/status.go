package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/sysinfo"
)

var statusNoHost bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show launcher and agent status",
	Long:  `Queries the launcher status endpoint for the supervised process table and the agent health endpoint, and samples local host resources. Each section reports independently, so a stopped stack still produces output.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusNoHost, "no-host", false, "skip the local host resource block")
}

type agentHealth struct {
	Status        string `json:"status"`
	Store         string `json:"store,omitempty"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
}

type statusReport struct {
	Launcher      *models.UnitStatus `json:"launcher,omitempty"`
	LauncherError string             `json:"launcher_error,omitempty"`
	Agent         *agentHealth       `json:"agent,omitempty"`
	AgentError    string             `json:"agent_error,omitempty"`
	Host          *sysinfo.HostInfo  `json:"host,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	report := statusReport{}

	unit, err := fetchUnitStatus()
	if err != nil {
		report.LauncherError = err.Error()
	} else {
		report.Launcher = unit
	}

	health, err := fetchAgentHealth()
	if err != nil {
		report.AgentError = err.Error()
	} else {
		report.Agent = health
	}

	if !statusNoHost {
		if host, err := sysinfo.Collect(); err == nil {
			report.Host = host
		}
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	displayStatus(&report)
	return nil
}

func fetchUnitStatus() (*models.UnitStatus, error) {
	url := fmt.Sprintf("%s/status", GetLauncherURL())

	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to launcher: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("launcher error (status %d): %s", resp.StatusCode, string(body))
	}

	var unit models.UnitStatus
	if err := json.Unmarshal(body, &unit); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &unit, nil
}

func fetchAgentHealth() (*agentHealth, error) {
	url := fmt.Sprintf("%s/health", GetAgentURL())

	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// The agent answers 503 with a health body when the store is down,
	// which is still a report worth showing.
	var health agentHealth
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("agent error (status %d): %s", resp.StatusCode, string(body))
	}
	return &health, nil
}

func displayStatus(report *statusReport) {
	if report.Launcher != nil {
		fmt.Printf("Unit up %s (started %s)\n\n", report.Launcher.Uptime, report.Launcher.StartedAt.Format(time.RFC3339))

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Process", "State", "PID", "Restarts", "Uptime", "CPU %", "RSS MB")

		for _, proc := range report.Launcher.Processes {
			pid := "-"
			if proc.PID > 0 {
				pid = fmt.Sprintf("%d", proc.PID)
			}
			uptime := "-"
			if proc.StartedAt != nil {
				uptime = proc.Uptime().Round(time.Second).String()
			}
			cpu := "-"
			if proc.CPUPercent > 0 {
				cpu = fmt.Sprintf("%.1f", proc.CPUPercent)
			}
			mem := "-"
			if proc.MemoryMB > 0 {
				mem = fmt.Sprintf("%.1f", proc.MemoryMB)
			}

			table.Append(
				proc.Name,
				string(proc.State),
				pid,
				fmt.Sprintf("%d", proc.Restarts),
				uptime,
				cpu,
				mem,
			)
		}

		table.Render()
	} else {
		fmt.Printf("Launcher: unreachable (%s)\n", report.LauncherError)
	}

	fmt.Println()
	if report.Agent != nil {
		fmt.Printf("Agent: %s", report.Agent.Status)
		if report.Agent.Version != "" {
			fmt.Printf(" (version %s, up %s)", report.Agent.Version, (time.Duration(report.Agent.UptimeSeconds) * time.Second).String())
		}
		fmt.Println()
		if report.Agent.Store != "" && report.Agent.Store != "ok" {
			fmt.Printf("  store: %s\n", report.Agent.Store)
		}
	} else {
		fmt.Printf("Agent: unreachable (%s)\n", report.AgentError)
	}

	if report.Host != nil {
		fmt.Println()
		fmt.Printf("Host %s: %d cores, CPU %.1f%%, memory %d/%d MB used\n",
			report.Host.Hostname,
			report.Host.CPUCores,
			report.Host.CPUPercent,
			report.Host.MemUsedMB,
			report.Host.MemTotalMB,
		)
	}
}
