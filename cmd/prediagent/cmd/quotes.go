package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/store"
)

var (
	// Quote load flags
	quotesFile   string
	quotesTicker string

	// Quote seed flags
	seedTicker string
	seedDays   int
	seedValue  int64

	// Quote list flags
	listLimit int
)

// quotesCmd represents the quotes command
var quotesCmd = &cobra.Command{
	Use:   "quotes",
	Short: "Manage stored quote history",
	Long:  `Commands for loading, seeding, and inspecting the quote history the agent forecasts from. These open the database directly, so point --db at the same database the agent uses.`,
}

// quotesLoadCmd represents the quotes load command
var quotesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load quotes from a CSV file",
	Long:  `Loads daily closing prices from a CSV file with date,close rows (dates as YYYY-MM-DD, a header row is skipped). All rows are stored under the given ticker.`,
	RunE:  runQuotesLoad,
}

// quotesSeedCmd represents the quotes seed command
var quotesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed synthetic quote history",
	Long:  `Generates a synthetic random-walk price history over the most recent business days and stores it under the given ticker. Useful for demos and local testing without real market data.`,
	RunE:  runQuotesSeed,
}

// quotesListCmd represents the quotes list command
var quotesListCmd = &cobra.Command{
	Use:   "list [ticker]",
	Short: "List stored quotes",
	Long:  `Lists the most recent stored quotes for a ticker. If no ticker is provided, lists all tickers with their quote counts.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQuotesList,
}

func init() {
	rootCmd.AddCommand(quotesCmd)
	quotesCmd.AddCommand(quotesLoadCmd)
	quotesCmd.AddCommand(quotesSeedCmd)
	quotesCmd.AddCommand(quotesListCmd)

	// Flags for quotes load
	quotesLoadCmd.Flags().StringVar(&quotesFile, "file", "", "CSV file with date,close rows (required)")
	quotesLoadCmd.Flags().StringVar(&quotesTicker, "ticker", "", "ticker to store the quotes under (required)")
	quotesLoadCmd.MarkFlagRequired("file")
	quotesLoadCmd.MarkFlagRequired("ticker")

	// Flags for quotes seed
	quotesSeedCmd.Flags().StringVar(&seedTicker, "ticker", "", "ticker to store the quotes under (required)")
	quotesSeedCmd.Flags().IntVar(&seedDays, "days", 30, "number of business days of history to generate")
	quotesSeedCmd.Flags().Int64Var(&seedValue, "seed", 0, "random seed for reproducible histories (0 uses the current time)")
	quotesSeedCmd.MarkFlagRequired("ticker")

	// Flags for quotes list
	quotesListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of quotes to show")
}

// openQuoteStore opens the configured database the same way the agent
// does, so the CLI and the daemon agree on what --db means.
func openQuoteStore() (store.Store, error) {
	db := GetDBPath()

	var config store.Config
	switch {
	case db == "memory":
		config = store.Config{Type: "memory"}
	case strings.HasPrefix(db, "postgres://"),
		strings.HasPrefix(db, "postgresql://"),
		strings.Contains(db, "host="):
		config = store.Config{Type: "postgres", DSN: db}
	default:
		config = store.Config{Type: "sqlite", Path: db}
	}

	st, err := store.NewStore(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", db, err)
	}
	return st, nil
}

func runQuotesLoad(cmd *cobra.Command, args []string) error {
	ticker := models.NormalizeTicker(quotesTicker)
	if ticker == "" {
		return fmt.Errorf("ticker must not be empty")
	}

	quotes, err := readQuotesCSV(quotesFile, ticker)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		return fmt.Errorf("no quote rows found in %s", quotesFile)
	}

	st, err := openQuoteStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveQuotes(quotes); err != nil {
		return fmt.Errorf("failed to save quotes: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(map[string]interface{}{
			"ticker": ticker,
			"loaded": len(quotes),
			"file":   quotesFile,
		}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Loaded %d quotes for %s from %s\n", len(quotes), ticker, quotesFile)
	}
	return nil
}

// readQuotesCSV parses date,close rows. A first row whose second column
// is not a number is treated as a header and skipped.
func readQuotesCSV(path, ticker string) ([]models.Quote, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	quotes := make([]models.Quote, 0, len(records))
	for i, record := range records {
		if len(record) < 2 {
			return nil, fmt.Errorf("%s line %d: expected date,close, got %d columns", path, i+1, len(record))
		}

		date := strings.TrimSpace(record[0])
		closeStr := strings.TrimSpace(record[1])

		closePrice, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("%s line %d: invalid close %q", path, i+1, closeStr)
		}

		if _, err := time.Parse(models.DateLayout, date); err != nil {
			return nil, fmt.Errorf("%s line %d: invalid date %q, want YYYY-MM-DD", path, i+1, date)
		}
		if closePrice <= 0 {
			return nil, fmt.Errorf("%s line %d: close must be positive, got %v", path, i+1, closePrice)
		}

		quotes = append(quotes, models.Quote{Ticker: ticker, Date: date, Close: closePrice})
	}
	return quotes, nil
}

func runQuotesSeed(cmd *cobra.Command, args []string) error {
	ticker := models.NormalizeTicker(seedTicker)
	if ticker == "" {
		return fmt.Errorf("ticker must not be empty")
	}
	if seedDays < 1 {
		return fmt.Errorf("days must be at least 1, got %d", seedDays)
	}

	quotes := syntheticHistory(ticker, seedDays, seedValue)

	st, err := openQuoteStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SaveQuotes(quotes); err != nil {
		return fmt.Errorf("failed to save quotes: %w", err)
	}

	first, last := quotes[0].Date, quotes[len(quotes)-1].Date
	if IsJSONOutput() {
		output, _ := json.MarshalIndent(map[string]interface{}{
			"ticker": ticker,
			"seeded": len(quotes),
			"from":   first,
			"to":     last,
		}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Seeded %d quotes for %s (%s to %s)\n", len(quotes), ticker, first, last)
	}
	return nil
}

// syntheticHistory builds a random walk over the n most recent business
// days, ending today or the last weekday before it. The walk starts in
// the same 100-500 price band the demo predictor uses and moves up to
// 2% per day, rounded to cents.
func syntheticHistory(ticker string, n int, seed int64) []models.Quote {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	days := make([]time.Time, 0, n)
	d := time.Now()
	for isWeekend(d) {
		d = d.AddDate(0, 0, -1)
	}
	for len(days) < n {
		days = append(days, d)
		d = d.AddDate(0, 0, -1)
		for isWeekend(d) {
			d = d.AddDate(0, 0, -1)
		}
	}
	// Oldest first, so the walk runs forward in time
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	price := 100 + rng.Float64()*400
	quotes := make([]models.Quote, len(days))
	for i, day := range days {
		price = price * (1 + (rng.Float64()*0.04 - 0.02))
		quotes[i] = models.Quote{
			Ticker: ticker,
			Date:   day.Format(models.DateLayout),
			Close:  math.Round(price*100) / 100,
		}
	}
	return quotes
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func runQuotesList(cmd *cobra.Command, args []string) error {
	st, err := openQuoteStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// No ticker: list all tickers with counts
	if len(args) == 0 {
		return listTickers(st)
	}

	ticker := models.NormalizeTicker(args[0])
	quotes, err := st.GetQuotes(ticker, listLimit)
	if err != nil {
		return fmt.Errorf("failed to read quotes: %w", err)
	}
	total, err := st.CountQuotes(ticker)
	if err != nil {
		return fmt.Errorf("failed to count quotes: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(map[string]interface{}{
			"ticker": ticker,
			"count":  total,
			"quotes": quotes,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(quotes) == 0 {
		fmt.Printf("No quotes stored for %s\n", ticker)
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Date", "Close")

	for _, quote := range quotes {
		table.Append(quote.Date, fmt.Sprintf("%.2f", quote.Close))
	}

	table.Render()
	fmt.Printf("\nShowing %d of %d quotes for %s\n", len(quotes), total, ticker)
	return nil
}

func listTickers(st store.Store) error {
	tickers, err := st.ListTickers()
	if err != nil {
		return fmt.Errorf("failed to list tickers: %w", err)
	}

	type tickerCount struct {
		Ticker string `json:"ticker"`
		Quotes int    `json:"quotes"`
	}
	counts := make([]tickerCount, 0, len(tickers))
	for _, t := range tickers {
		n, err := st.CountQuotes(t)
		if err != nil {
			return fmt.Errorf("failed to count quotes for %s: %w", t, err)
		}
		counts = append(counts, tickerCount{Ticker: t, Quotes: n})
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(map[string]interface{}{
			"tickers": counts,
			"count":   len(counts),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(counts) == 0 {
		fmt.Println("No tickers stored")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Ticker", "Quotes")

	for _, tc := range counts {
		table.Append(tc.Ticker, fmt.Sprintf("%d", tc.Quotes))
	}

	table.Render()
	fmt.Printf("\nTotal tickers: %d\n", len(counts))
	return nil
}
