package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/stocktrend/prediagent/pkg/models"
)

var (
	ErrQuoteNotFound    = errors.New("quote not found")
	ErrForecastNotFound = errors.New("forecast not found")
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	quotes      map[string][]models.Quote // ticker -> quotes ordered by date
	forecasts   map[string]*models.Forecast
	quotesMu    sync.RWMutex
	forecastsMu sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:    make(map[string][]models.Quote),
		forecasts: make(map[string]*models.Forecast),
	}
}

// Quote operations

// SaveQuote adds or replaces a single daily close
func (s *MemoryStore) SaveQuote(quote *models.Quote) error {
	s.quotesMu.Lock()
	defer s.quotesMu.Unlock()

	s.insertQuoteLocked(*quote)
	return nil
}

// SaveQuotes adds or replaces a batch of daily closes
func (s *MemoryStore) SaveQuotes(quotes []models.Quote) error {
	s.quotesMu.Lock()
	defer s.quotesMu.Unlock()

	for _, q := range quotes {
		s.insertQuoteLocked(q)
	}
	return nil
}

// insertQuoteLocked keeps the per-ticker slice ordered by date, replacing
// an existing entry for the same date
func (s *MemoryStore) insertQuoteLocked(quote models.Quote) {
	series := s.quotes[quote.Ticker]
	for i, q := range series {
		if q.Date == quote.Date {
			series[i] = quote
			return
		}
	}
	series = append(series, quote)
	sort.Slice(series, func(i, j int) bool {
		return series[i].Date < series[j].Date
	})
	s.quotes[quote.Ticker] = series
}

// GetQuotes returns the most recent quotes for a ticker, ordered by date
// ascending. limit <= 0 returns the whole series.
func (s *MemoryStore) GetQuotes(ticker string, limit int) ([]models.Quote, error) {
	s.quotesMu.RLock()
	defer s.quotesMu.RUnlock()

	series, ok := s.quotes[ticker]
	if !ok || len(series) == 0 {
		return nil, ErrQuoteNotFound
	}

	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}

	out := make([]models.Quote, len(series))
	copy(out, series)
	return out, nil
}

// GetLatestQuote returns the most recent close for a ticker
func (s *MemoryStore) GetLatestQuote(ticker string) (*models.Quote, error) {
	s.quotesMu.RLock()
	defer s.quotesMu.RUnlock()

	series, ok := s.quotes[ticker]
	if !ok || len(series) == 0 {
		return nil, ErrQuoteNotFound
	}

	latest := series[len(series)-1]
	return &latest, nil
}

// CountQuotes returns the number of stored closes for a ticker
func (s *MemoryStore) CountQuotes(ticker string) (int, error) {
	s.quotesMu.RLock()
	defer s.quotesMu.RUnlock()

	return len(s.quotes[ticker]), nil
}

// ListTickers returns all tickers with stored quotes
func (s *MemoryStore) ListTickers() ([]string, error) {
	s.quotesMu.RLock()
	defer s.quotesMu.RUnlock()

	tickers := make([]string, 0, len(s.quotes))
	for t := range s.quotes {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers, nil
}

// DeleteQuotes removes all quotes for a ticker
func (s *MemoryStore) DeleteQuotes(ticker string) error {
	s.quotesMu.Lock()
	defer s.quotesMu.Unlock()

	delete(s.quotes, ticker)
	return nil
}

// Forecast operations

// SaveForecast stores a forecast
func (s *MemoryStore) SaveForecast(forecast *models.Forecast) error {
	s.forecastsMu.Lock()
	defer s.forecastsMu.Unlock()

	s.forecasts[forecast.ID] = forecast
	return nil
}

// GetForecast retrieves a forecast by ID
func (s *MemoryStore) GetForecast(id string) (*models.Forecast, error) {
	s.forecastsMu.RLock()
	defer s.forecastsMu.RUnlock()

	f, ok := s.forecasts[id]
	if !ok {
		return nil, ErrForecastNotFound
	}
	return f, nil
}

// GetLatestForecast returns the newest forecast for a ticker
func (s *MemoryStore) GetLatestForecast(ticker string) (*models.Forecast, error) {
	s.forecastsMu.RLock()
	defer s.forecastsMu.RUnlock()

	var latest *models.Forecast
	for _, f := range s.forecasts {
		if f.Ticker != ticker {
			continue
		}
		if latest == nil || f.CreatedAt.After(latest.CreatedAt) {
			latest = f
		}
	}
	if latest == nil {
		return nil, ErrForecastNotFound
	}
	return latest, nil
}

// ListForecasts returns forecasts for a ticker, newest first
func (s *MemoryStore) ListForecasts(ticker string, limit int) ([]*models.Forecast, error) {
	s.forecastsMu.RLock()
	defer s.forecastsMu.RUnlock()

	var out []*models.Forecast
	for _, f := range s.forecasts {
		if ticker == "" || f.Ticker == ticker {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteForecastsBefore removes forecasts created before the cutoff
func (s *MemoryStore) DeleteForecastsBefore(cutoff time.Time) (int, error) {
	s.forecastsMu.Lock()
	defer s.forecastsMu.Unlock()

	deleted := 0
	for id, f := range s.forecasts {
		if f.CreatedAt.Before(cutoff) {
			delete(s.forecasts, id)
			deleted++
		}
	}
	return deleted, nil
}

// Lifecycle

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}

// Vacuum is a no-op for the memory store
func (s *MemoryStore) Vacuum() error {
	return nil
}

// GetStats returns aggregated statistics
func (s *MemoryStore) GetStats() (*Stats, error) {
	s.quotesMu.RLock()
	tickers := len(s.quotes)
	quotes := 0
	for _, series := range s.quotes {
		quotes += len(series)
	}
	s.quotesMu.RUnlock()

	s.forecastsMu.RLock()
	bySource := make(map[models.ForecastSource]int)
	for _, f := range s.forecasts {
		bySource[f.Source]++
	}
	forecasts := len(s.forecasts)
	s.forecastsMu.RUnlock()

	return &Stats{
		Tickers:           tickers,
		Quotes:            quotes,
		Forecasts:         forecasts,
		ForecastsBySource: bySource,
	}, nil
}
