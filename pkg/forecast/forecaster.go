package forecast

import (
	"errors"

	"github.com/stocktrend/prediagent/pkg/models"
)

var (
	// ErrEmptyTicker is returned when a forecast is requested without a ticker
	ErrEmptyTicker = errors.New("ticker must not be empty")

	// ErrNoHistory is returned by forecasters that need quote history
	ErrNoHistory = errors.New("no quote history available")
)

// Forecaster produces a sequence of predicted close prices. Implementations
// only produce values; the engine attaches the business-day calendar.
type Forecaster interface {
	// Source identifies which predictor produced the values
	Source() models.ForecastSource

	// Predict returns one predicted price per forecast day. History is
	// ordered date-ascending and may be empty for history-free predictors.
	Predict(history []models.Quote, days int) ([]float64, error)
}
