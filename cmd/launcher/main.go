package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/stocktrend/prediagent/internal/launch"
	"github.com/stocktrend/prediagent/pkg/logging"
)

func main() {
	planPath := flag.String("plan", "", "Launch plan YAML (empty uses the built-in agent+dashboard plan)")
	agentCmd := flag.String("agent-cmd", "predi-agent", "Agent command for the built-in plan")
	uiCmd := flag.String("ui-cmd", "predi-ui", "Dashboard command for the built-in plan")
	statusAddr := flag.String("status-addr", "", "Status server address, e.g. 127.0.0.1:9550 (empty disables)")
	metricsAddr := flag.String("metrics-addr", "", "Metrics server address (empty disables)")
	reportPath := flag.String("report", "", "Session report path written on shutdown")
	logLevel := flag.String("log", "", "Log level: DEBUG, INFO, WARN, ERROR")
	jsonLogs := flag.Bool("json-logs", false, "Emit JSON log lines")
	flag.Parse()

	var plan *launch.Plan
	if *planPath != "" {
		loaded, err := launch.LoadPlan(*planPath)
		if err != nil {
			log.Printf("Failed to load plan %s: %v", *planPath, err)
			os.Exit(launch.ExitBadPlan)
		}
		plan = loaded
	} else {
		plan = launch.DefaultPlan(*agentCmd, *uiCmd)
	}

	// Flags override plan-file settings
	if *statusAddr != "" {
		plan.StatusAddr = *statusAddr
	}
	if *metricsAddr != "" {
		plan.MetricsAddr = *metricsAddr
	}
	if *reportPath != "" {
		plan.ReportPath = *reportPath
	}
	if *logLevel != "" {
		plan.Log = *logLevel
	}
	if *jsonLogs {
		plan.JSONLogs = true
	}
	if plan.Log == "" {
		plan.Log = "INFO"
	}

	logger := logging.NewLogger(logging.ParseLevel(plan.Log), plan.JSONLogs)

	seq := launch.NewSequencer(plan, logger)
	os.Exit(seq.Run(context.Background()))
}
