package store

import (
	"time"

	"github.com/stocktrend/prediagent/pkg/models"
)

// Store defines the interface for quote and forecast persistence
// Memory, SQLite and PostgreSQL implement this interface
type Store interface {
	// Quote operations
	SaveQuote(quote *models.Quote) error
	SaveQuotes(quotes []models.Quote) error
	GetQuotes(ticker string, limit int) ([]models.Quote, error)
	GetLatestQuote(ticker string) (*models.Quote, error)
	CountQuotes(ticker string) (int, error)
	ListTickers() ([]string, error)
	DeleteQuotes(ticker string) error

	// Forecast operations
	SaveForecast(forecast *models.Forecast) error
	GetForecast(id string) (*models.Forecast, error)
	GetLatestForecast(ticker string) (*models.Forecast, error)
	ListForecasts(ticker string, limit int) ([]*models.Forecast, error)
	DeleteForecastsBefore(cutoff time.Time) (int, error)

	// Lifecycle
	Close() error
	HealthCheck() error
	Vacuum() error

	// Metrics operations
	GetStats() (*Stats, error)
}

// Stats contains aggregated store statistics for metrics and status endpoints
type Stats struct {
	Tickers           int
	Quotes            int
	Forecasts         int
	ForecastsBySource map[models.ForecastSource]int
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// SQLite specific
	Path string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "prediagent.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}

var (
	ErrUnsupportedDatabase = NewError("unsupported database type")
)

// NewError creates a new error with message
func NewError(message string) error {
	return &storeError{message: message}
}

type storeError struct {
	message string
}

func (e *storeError) Error() string {
	return e.message
}
