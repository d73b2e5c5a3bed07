package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/stocktrend/prediagent/pkg/models"
	"github.com/stocktrend/prediagent/pkg/retry"
)

// PostgreSQLStore implements Store interface using PostgreSQL
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore creates a new PostgreSQL store
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	dsn := config.DSN
	if dsn == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}

	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}

	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	} else {
		db.SetConnMaxIdleTime(1 * time.Minute)
	}

	// Under the launcher the agent may come up before its database
	// accepts connections, so bring-up pings retry briefly.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = retry.Do(ctx, retry.Config{
		MaxRetries:     5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}, db.Ping)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist
func (s *PostgreSQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quotes (
		ticker TEXT NOT NULL,
		date TEXT NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ticker, date)
	);

	CREATE TABLE IF NOT EXISTS forecasts (
		id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		points JSONB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quotes_ticker_date ON quotes(ticker, date);
	CREATE INDEX IF NOT EXISTS idx_forecasts_ticker_created ON forecasts(ticker, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Quote operations

// SaveQuote adds or replaces a single daily close
func (s *PostgreSQLStore) SaveQuote(quote *models.Quote) error {
	_, err := s.db.Exec(`
		INSERT INTO quotes (ticker, date, close)
		VALUES ($1, $2, $3)
		ON CONFLICT (ticker, date) DO UPDATE SET close = EXCLUDED.close
	`, quote.Ticker, quote.Date, quote.Close)
	return err
}

// SaveQuotes adds or replaces a batch of daily closes in one transaction
func (s *PostgreSQLStore) SaveQuotes(quotes []models.Quote) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO quotes (ticker, date, close)
		VALUES ($1, $2, $3)
		ON CONFLICT (ticker, date) DO UPDATE SET close = EXCLUDED.close
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, q := range quotes {
		if _, err := stmt.Exec(q.Ticker, q.Date, q.Close); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert quote %s/%s: %w", q.Ticker, q.Date, err)
		}
	}

	return tx.Commit()
}

// GetQuotes returns the most recent quotes for a ticker, ordered by date ascending
func (s *PostgreSQLStore) GetQuotes(ticker string, limit int) ([]models.Quote, error) {
	query := `
		SELECT ticker, date, close FROM (
			SELECT ticker, date, close FROM quotes
			WHERE ticker = $1
			ORDER BY date DESC
			LIMIT $2
		) recent ORDER BY date ASC
	`

	var limitArg interface{} = limit
	if limit <= 0 {
		limitArg = nil // NULL LIMIT means no limit in PostgreSQL
	}

	rows, err := s.db.Query(query, ticker, limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []models.Quote
	for rows.Next() {
		var q models.Quote
		if err := rows.Scan(&q.Ticker, &q.Date, &q.Close); err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(quotes) == 0 {
		return nil, ErrQuoteNotFound
	}
	return quotes, nil
}

// GetLatestQuote returns the most recent close for a ticker
func (s *PostgreSQLStore) GetLatestQuote(ticker string) (*models.Quote, error) {
	var q models.Quote
	err := s.db.QueryRow(`
		SELECT ticker, date, close FROM quotes
		WHERE ticker = $1
		ORDER BY date DESC
		LIMIT 1
	`, ticker).Scan(&q.Ticker, &q.Date, &q.Close)

	if err == sql.ErrNoRows {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// CountQuotes returns the number of stored closes for a ticker
func (s *PostgreSQLStore) CountQuotes(ticker string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM quotes WHERE ticker = $1`, ticker).Scan(&count)
	return count, err
}

// ListTickers returns all tickers with stored quotes
func (s *PostgreSQLStore) ListTickers() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT ticker FROM quotes ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// DeleteQuotes removes all quotes for a ticker
func (s *PostgreSQLStore) DeleteQuotes(ticker string) error {
	_, err := s.db.Exec(`DELETE FROM quotes WHERE ticker = $1`, ticker)
	return err
}

// Forecast operations

// SaveForecast stores a forecast, points serialized as JSONB
func (s *PostgreSQLStore) SaveForecast(forecast *models.Forecast) error {
	points, err := json.Marshal(forecast.Points)
	if err != nil {
		return fmt.Errorf("failed to marshal points: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO forecasts (id, ticker, source, created_at, points)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			ticker = EXCLUDED.ticker,
			source = EXCLUDED.source,
			created_at = EXCLUDED.created_at,
			points = EXCLUDED.points
	`, forecast.ID, forecast.Ticker, string(forecast.Source), forecast.CreatedAt, string(points))
	return err
}

// GetForecast retrieves a forecast by ID
func (s *PostgreSQLStore) GetForecast(id string) (*models.Forecast, error) {
	row := s.db.QueryRow(`
		SELECT id, ticker, source, created_at, points FROM forecasts WHERE id = $1
	`, id)
	return scanForecast(row)
}

// GetLatestForecast returns the newest forecast for a ticker
func (s *PostgreSQLStore) GetLatestForecast(ticker string) (*models.Forecast, error) {
	row := s.db.QueryRow(`
		SELECT id, ticker, source, created_at, points FROM forecasts
		WHERE ticker = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, ticker)
	return scanForecast(row)
}

// ListForecasts returns forecasts for a ticker, newest first.
// Empty ticker lists across all tickers.
func (s *PostgreSQLStore) ListForecasts(ticker string, limit int) ([]*models.Forecast, error) {
	var limitArg interface{} = limit
	if limit <= 0 {
		limitArg = nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if ticker == "" {
		rows, err = s.db.Query(`
			SELECT id, ticker, source, created_at, points FROM forecasts
			ORDER BY created_at DESC LIMIT $1
		`, limitArg)
	} else {
		rows, err = s.db.Query(`
			SELECT id, ticker, source, created_at, points FROM forecasts
			WHERE ticker = $1
			ORDER BY created_at DESC LIMIT $2
		`, ticker, limitArg)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var forecasts []*models.Forecast
	for rows.Next() {
		f, err := scanForecastRows(rows)
		if err != nil {
			return nil, err
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, rows.Err()
}

// DeleteForecastsBefore removes forecasts created before the cutoff
func (s *PostgreSQLStore) DeleteForecastsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM forecasts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// Lifecycle

// Close closes the database connection
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies database connectivity
func (s *PostgreSQLStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Vacuum reclaims unused space
func (s *PostgreSQLStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return err
}

// GetStats returns aggregated statistics in one pass per table
func (s *PostgreSQLStore) GetStats() (*Stats, error) {
	stats := &Stats{ForecastsBySource: make(map[models.ForecastSource]int)}

	err := s.db.QueryRow(`SELECT COUNT(DISTINCT ticker), COUNT(*) FROM quotes`).
		Scan(&stats.Tickers, &stats.Quotes)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT source, COUNT(*) FROM forecasts GROUP BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}
		stats.ForecastsBySource[models.ForecastSource(source)] = count
		stats.Forecasts += count
	}
	return stats, rows.Err()
}
