package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stocktrend/prediagent/pkg/a2a"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/retry"
)

var (
	cfgFile      string
	agentURL     string
	launcherURL  string
	dbPath       string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "prediagent",
	Short: "CLI for the prediagent forecast stack",
	Long:  `prediagent is a command line interface for the supervised stock-forecast stack: inspect launcher and agent status, request forecasts, and manage stored quote history.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.prediagent/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&agentURL, "agent-url", "", "agent base URL (default from config or http://127.0.0.1:8002)")
	rootCmd.PersistentFlags().StringVar(&launcherURL, "launcher-url", "", "launcher status URL (default from config or http://127.0.0.1:9090)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database for quote commands: sqlite path, \"memory\", or postgres DSN (default from config or prediagent.db)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".prediagent/config.yaml"
		configDir := filepath.Join(home, ".prediagent")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// Bind specific environment variables
	viper.BindEnv("agent_url", "PREDIAGENT_AGENT_URL")
	viper.BindEnv("launcher_url", "PREDIAGENT_LAUNCHER_URL")
	viper.BindEnv("db", "PREDIAGENT_DB")

	// Config file is optional; flags and env still apply without one
	viper.ReadInConfig()

	if agentURL == "" {
		agentURL = viper.GetString("agent_url")
	}
	if launcherURL == "" {
		launcherURL = viper.GetString("launcher_url")
	}
	if dbPath == "" {
		dbPath = viper.GetString("db")
	}

	// Set defaults if still empty
	if agentURL == "" {
		agentURL = "http://127.0.0.1:8002"
	}
	if launcherURL == "" {
		launcherURL = "http://127.0.0.1:9090"
	}
	if dbPath == "" {
		dbPath = "prediagent.db"
	}
}

// GetAgentURL returns the configured agent URL with trailing slashes removed
func GetAgentURL() string {
	return strings.TrimRight(agentURL, "/")
}

// GetLauncherURL returns the configured launcher status URL with trailing slashes removed
func GetLauncherURL() string {
	return strings.TrimRight(launcherURL, "/")
}

// GetDBPath returns the configured database for quote commands
func GetDBPath() string {
	return dbPath
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the shared HTTP client for plain status requests
func GetHTTPClient() *http.Client {
	return httpClient
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// newAgentClient builds an agent client tuned for interactive use. A
// terminal user should see a failure within seconds, not ride the full
// background retry budget.
func newAgentClient() *a2a.Client {
	client := a2a.NewClient(GetAgentURL(), logging.NewLogger(logging.ERROR, false))
	client.Retry = retry.Config{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}
	return client
}
