package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/stocktrend/prediagent/pkg/logging"
	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/store"
)

const (
	// DefaultHorizon is the number of forecast days when the caller does
	// not ask for a specific horizon
	DefaultHorizon = 5

	// DefaultHistoryLimit caps how many quotes are loaded per forecast,
	// roughly six months of trading days
	DefaultHistoryLimit = 180
)

// Config holds forecast engine settings
type Config struct {
	Horizon      int
	HistoryLimit int
}

// DefaultConfig returns the standard engine settings
func DefaultConfig() Config {
	return Config{
		Horizon:      DefaultHorizon,
		HistoryLimit: DefaultHistoryLimit,
	}
}

// Engine turns quote history into dated forecasts and persists them.
// When a ticker has no stored history the demo predictor takes over, so
// a forecast request always produces a result.
type Engine struct {
	store  store.Store
	logger *logging.Logger
	naive  Forecaster
	demo   Forecaster
	config Config
}

// NewEngine creates a forecast engine backed by the given store
func NewEngine(st store.Store, logger *logging.Logger, config Config) *Engine {
	if config.Horizon <= 0 {
		config.Horizon = DefaultHorizon
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	return &Engine{
		store:  st,
		logger: logger,
		naive:  NewNaive(),
		demo:   NewDemo(0),
		config: config,
	}
}

// Forecast predicts close prices for the next business days and saves the
// result. A zero or negative days value uses the configured horizon.
func (e *Engine) Forecast(ticker string, days int) (*models.Forecast, error) {
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, ErrEmptyTicker
	}
	if days <= 0 {
		days = e.config.Horizon
	}
	now := time.Now().UTC()

	history, err := e.store.GetQuotes(ticker, e.config.HistoryLimit)
	if err != nil && !errors.Is(err, store.ErrQuoteNotFound) {
		return nil, fmt.Errorf("failed to load quote history for %s: %w", ticker, err)
	}

	forecaster := e.naive
	if len(history) == 0 {
		forecaster = e.demo
		e.logger.Warn("No quote history, using demo predictor", map[string]interface{}{
			"ticker": ticker,
		})
	}

	prices, err := forecaster.Predict(history, days)
	if err != nil && forecaster != e.demo {
		e.logger.Warn("Predictor failed, falling back to demo", map[string]interface{}{
			"ticker": ticker,
			"source": string(forecaster.Source()),
			"error":  err.Error(),
		})
		forecaster = e.demo
		prices, err = forecaster.Predict(nil, days)
	}
	if err != nil {
		return nil, fmt.Errorf("prediction failed for %s: %w", ticker, err)
	}

	dates := BusinessDays(NextBusinessDay(now), days)
	points := make([]models.ForecastPoint, len(prices))
	for i, price := range prices {
		// Prices serialize at cent precision whatever the predictor
		points[i] = models.ForecastPoint{
			Date:  dates[i].Format(models.DateLayout),
			Price: math.Round(price*100) / 100,
		}
	}

	result := &models.Forecast{
		ID:        uuid.New().String(),
		Ticker:    ticker,
		Source:    forecaster.Source(),
		CreatedAt: now,
		Points:    points,
	}

	if err := e.store.SaveForecast(result); err != nil {
		// the forecast is still usable, keep serving it
		e.logger.Error("Failed to persist forecast", map[string]interface{}{
			"ticker": ticker,
			"id":     result.ID,
			"error":  err.Error(),
		})
	}

	e.logger.Info("Forecast generated", map[string]interface{}{
		"ticker": ticker,
		"source": string(result.Source),
		"days":   days,
	})
	return result, nil
}

// Latest returns the most recent stored forecast for a ticker
func (e *Engine) Latest(ticker string) (*models.Forecast, error) {
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, ErrEmptyTicker
	}
	return e.store.GetLatestForecast(ticker)
}
