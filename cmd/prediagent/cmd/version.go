package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the CLI version",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	if IsJSONOutput() {
		output, _ := json.MarshalIndent(map[string]string{
			"version": version,
			"os":      runtime.GOOS,
			"arch":    runtime.GOARCH,
		}, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("prediagent %s %s/%s\n", version, runtime.GOOS, runtime.GOARCH)
	return nil
}
