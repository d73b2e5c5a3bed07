package models

import (
	"sort"
	"strings"
	"time"
)

// DateLayout is the wire format for forecast and quote dates
const DateLayout = "2006-01-02"

// NormalizeTicker uppercases and trims a ticker symbol
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Quote represents one daily closing price for a ticker
type Quote struct {
	Ticker string  `json:"ticker"`
	Date   string  `json:"date"` // YYYY-MM-DD
	Close  float64 `json:"close"`
}

// ForecastPoint is a single predicted price on a business day
type ForecastPoint struct {
	Date  string  `json:"date"` // YYYY-MM-DD
	Price float64 `json:"price"`
}

// ForecastSource identifies which predictor produced a forecast
type ForecastSource string

const (
	SourceNaive ForecastSource = "naive" // Mean-return compounding over recent closes
	SourceDemo  ForecastSource = "demo"  // Synthetic random walk, no history required
)

// Forecast represents a stored multi-day price forecast for a ticker
type Forecast struct {
	ID        string          `json:"id"`
	Ticker    string          `json:"ticker"`
	Source    ForecastSource  `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
	Points    []ForecastPoint `json:"points"`
}

// Map returns the forecast as a date to price map, the shape the
// prediction endpoints return to callers.
func (f *Forecast) Map() map[string]float64 {
	out := make(map[string]float64, len(f.Points))
	for _, p := range f.Points {
		out[p.Date] = p.Price
	}
	return out
}

// PointsFromMap converts a wire-format date to price map back into
// date-ordered forecast points
func PointsFromMap(m map[string]float64) []ForecastPoint {
	dates := make([]string, 0, len(m))
	for d := range m {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	points := make([]ForecastPoint, len(dates))
	for i, d := range dates {
		points[i] = ForecastPoint{Date: d, Price: m[d]}
	}
	return points
}

// Horizon returns the number of predicted days
func (f *Forecast) Horizon() int {
	return len(f.Points)
}
