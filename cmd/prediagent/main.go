package main

import (
	"os"

	"github.com/stocktrend/prediagent/cmd/prediagent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
