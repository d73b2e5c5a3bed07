package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stocktrend/prediagent/pkg/forecast"
	"github.com/stocktrend/prediagent/pkg/models"
)

var forecastHorizon int

// forecastCmd represents the forecast command
var forecastCmd = &cobra.Command{
	Use:   "forecast <ticker>",
	Short: "Request a price forecast from the agent",
	Long:  `Requests a multi-day closing price forecast for a ticker from the running agent. Tickers with no stored history get a synthetic demo forecast.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runForecast,
}

func init() {
	rootCmd.AddCommand(forecastCmd)

	forecastCmd.Flags().IntVar(&forecastHorizon, "horizon", forecast.DefaultHorizon, "number of business days to predict")
}

func runForecast(cmd *cobra.Command, args []string) error {
	ticker := models.NormalizeTicker(args[0])
	if ticker == "" {
		return fmt.Errorf("ticker must not be empty")
	}
	if forecastHorizon < 1 {
		return fmt.Errorf("horizon must be at least 1, got %d", forecastHorizon)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prices, err := newAgentClient().Forecast(ctx, ticker, forecastHorizon)
	if err != nil {
		return fmt.Errorf("forecast request failed: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(map[string]interface{}{
			"ticker":   ticker,
			"horizon":  len(prices),
			"forecast": prices,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Date", "Predicted Close")

	for _, point := range models.PointsFromMap(prices) {
		table.Append(point.Date, fmt.Sprintf("%.2f", point.Price))
	}

	table.Render()
	fmt.Printf("\n%d-day forecast for %s\n", len(prices), ticker)
	return nil
}
