package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stocktrend/prediagent/pkg/models"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quotes.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test CSV: %v", err)
	}
	return path
}

func TestReadQuotesCSV(t *testing.T) {
	t.Run("PlainRows", func(t *testing.T) {
		path := writeCSV(t, "2026-08-03,101.50\n2026-08-04,102.25\n")

		quotes, err := readQuotesCSV(path, "AAPL")
		if err != nil {
			t.Fatalf("readQuotesCSV failed: %v", err)
		}
		if len(quotes) != 2 {
			t.Fatalf("expected 2 quotes, got %d", len(quotes))
		}
		if quotes[0].Ticker != "AAPL" || quotes[0].Date != "2026-08-03" || quotes[0].Close != 101.50 {
			t.Errorf("unexpected first quote: %+v", quotes[0])
		}
	})

	t.Run("HeaderSkipped", func(t *testing.T) {
		path := writeCSV(t, "date,close\n2026-08-03,101.50\n")

		quotes, err := readQuotesCSV(path, "AAPL")
		if err != nil {
			t.Fatalf("readQuotesCSV failed: %v", err)
		}
		if len(quotes) != 1 {
			t.Fatalf("expected header to be skipped, got %d quotes", len(quotes))
		}
	})

	t.Run("BadDate", func(t *testing.T) {
		path := writeCSV(t, "03/08/2026,101.50\n")

		if _, err := readQuotesCSV(path, "AAPL"); err == nil {
			t.Error("expected an error for a non-ISO date")
		}
	})

	t.Run("BadClose", func(t *testing.T) {
		path := writeCSV(t, "2026-08-03,101.50\n2026-08-04,n/a\n")

		if _, err := readQuotesCSV(path, "AAPL"); err == nil {
			t.Error("expected an error for a non-numeric close past the header")
		}
	})

	t.Run("NegativeClose", func(t *testing.T) {
		path := writeCSV(t, "2026-08-03,-4.20\n")

		if _, err := readQuotesCSV(path, "AAPL"); err == nil {
			t.Error("expected an error for a negative close")
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := readQuotesCSV(filepath.Join(t.TempDir(), "nope.csv"), "AAPL"); err == nil {
			t.Error("expected an error for a missing file")
		}
	})
}

func TestSyntheticHistory(t *testing.T) {
	quotes := syntheticHistory("MSFT", 10, 42)
	if len(quotes) != 10 {
		t.Fatalf("expected 10 quotes, got %d", len(quotes))
	}

	prev := ""
	for _, q := range quotes {
		if q.Ticker != "MSFT" {
			t.Errorf("expected ticker MSFT, got %s", q.Ticker)
		}
		if q.Close <= 0 {
			t.Errorf("expected positive close for %s, got %v", q.Date, q.Close)
		}

		day, err := time.Parse(models.DateLayout, q.Date)
		if err != nil {
			t.Fatalf("invalid quote date %q: %v", q.Date, err)
		}
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("quote dated on a weekend: %s", q.Date)
		}
		if q.Date <= prev {
			t.Errorf("dates not strictly increasing: %s after %s", q.Date, prev)
		}
		prev = q.Date
	}
}

func TestSyntheticHistoryDeterministic(t *testing.T) {
	a := syntheticHistory("AAPL", 5, 7)
	b := syntheticHistory("AAPL", 5, 7)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different histories at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}
