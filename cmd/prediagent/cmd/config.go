package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// cliConfig is the shape of $HOME/.prediagent/config.yaml
type cliConfig struct {
	AgentURL    string `yaml:"agent_url" json:"agent_url"`
	LauncherURL string `yaml:"launcher_url" json:"launcher_url"`
	DB          string `yaml:"db" json:"db"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `Commands for inspecting and initializing the CLI configuration file. Settings resolve in order: flags, environment (PREDIAGENT_*), config file, defaults.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Prints the configuration the CLI is actually using, after flags, environment variables, and the config file have been applied. Output is YAML unless --output json is set.`,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	Long:  `Writes the effective configuration to $HOME/.prediagent/config.yaml so future invocations pick it up without flags. Refuses to overwrite an existing file unless --force is set.`,
	RunE:  runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
}

func effectiveConfig() cliConfig {
	return cliConfig{
		AgentURL:    GetAgentURL(),
		LauncherURL: GetLauncherURL(),
		DB:          GetDBPath(),
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	config := effectiveConfig()

	if IsJSONOutput() {
		output, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Printf("# config file: %s\n", used)
	} else {
		fmt.Println("# no config file loaded, showing flag/env/default values")
	}

	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(config)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to find home directory: %w", err)
	}

	configDir := filepath.Join(home, ".prediagent")
	configPath := filepath.Join(configDir, "config.yaml")

	if _, err := os.Stat(configPath); err == nil && !configForce {
		return fmt.Errorf("%s already exists, use --force to overwrite", configPath)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", configDir, err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", configPath, err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(effectiveConfig()); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Wrote %s\n", configPath)
	return nil
}
