package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stocktrend/prediagent/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite connection string with parameters for concurrent access
	// - _journal_mode=WAL: Enable Write-Ahead Logging for better concurrency
	// - _busy_timeout=10000: Wait up to 10 seconds when database is locked
	// - _synchronous=NORMAL: Balance between safety and performance
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quotes (
		ticker TEXT NOT NULL,
		date TEXT NOT NULL,
		close REAL NOT NULL,
		PRIMARY KEY (ticker, date)
	);

	CREATE TABLE IF NOT EXISTS forecasts (
		id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		points TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quotes_ticker_date ON quotes(ticker, date);
	CREATE INDEX IF NOT EXISTS idx_forecasts_ticker_created ON forecasts(ticker, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Quote operations

// SaveQuote adds or replaces a single daily close
func (s *SQLiteStore) SaveQuote(quote *models.Quote) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO quotes (ticker, date, close)
		VALUES (?, ?, ?)
	`, quote.Ticker, quote.Date, quote.Close)
	return err
}

// SaveQuotes adds or replaces a batch of daily closes in one transaction
func (s *SQLiteStore) SaveQuotes(quotes []models.Quote) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO quotes (ticker, date, close) VALUES (?, ?, ?)`)
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
func (s *SQLiteStore) GetQuotes(ticker string, limit int) ([]models.Quote, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unlimited
	}

	rows, err := s.db.Query(`
		SELECT ticker, date, close FROM (
			SELECT ticker, date, close FROM quotes
			WHERE ticker = ?
			ORDER BY date DESC
			LIMIT ?
		) ORDER BY date ASC
	`, ticker, limit)
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
func (s *SQLiteStore) GetLatestQuote(ticker string) (*models.Quote, error) {
	var q models.Quote
	err := s.db.QueryRow(`
		SELECT ticker, date, close FROM quotes
		WHERE ticker = ?
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
func (s *SQLiteStore) CountQuotes(ticker string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM quotes WHERE ticker = ?`, ticker).Scan(&count)
	return count, err
}

// ListTickers returns all tickers with stored quotes
func (s *SQLiteStore) ListTickers() ([]string, error) {
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
func (s *SQLiteStore) DeleteQuotes(ticker string) error {
	_, err := s.db.Exec(`DELETE FROM quotes WHERE ticker = ?`, ticker)
	return err
}

// Forecast operations

// SaveForecast stores a forecast, points serialized as JSON
func (s *SQLiteStore) SaveForecast(forecast *models.Forecast) error {
	points, err := json.Marshal(forecast.Points)
	if err != nil {
		return fmt.Errorf("failed to marshal points: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO forecasts (id, ticker, source, created_at, points)
		VALUES (?, ?, ?, ?, ?)
	`, forecast.ID, forecast.Ticker, string(forecast.Source), forecast.CreatedAt, string(points))
	return err
}

// GetForecast retrieves a forecast by ID
func (s *SQLiteStore) GetForecast(id string) (*models.Forecast, error) {
	row := s.db.QueryRow(`
		SELECT id, ticker, source, created_at, points FROM forecasts WHERE id = ?
	`, id)
	return scanForecast(row)
}

// GetLatestForecast returns the newest forecast for a ticker
func (s *SQLiteStore) GetLatestForecast(ticker string) (*models.Forecast, error) {
	row := s.db.QueryRow(`
		SELECT id, ticker, source, created_at, points FROM forecasts
		WHERE ticker = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, ticker)
	return scanForecast(row)
}

// ListForecasts returns forecasts for a ticker, newest first.
// Empty ticker lists across all tickers.
func (s *SQLiteStore) ListForecasts(ticker string, limit int) ([]*models.Forecast, error) {
	if limit <= 0 {
		limit = -1
	}

	var (
		rows *sql.Rows
		err  error
	)
	if ticker == "" {
		rows, err = s.db.Query(`
			SELECT id, ticker, source, created_at, points FROM forecasts
			ORDER BY created_at DESC LIMIT ?
		`, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, ticker, source, created_at, points FROM forecasts
			WHERE ticker = ?
			ORDER BY created_at DESC LIMIT ?
		`, ticker, limit)
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
func (s *SQLiteStore) DeleteForecastsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM forecasts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// Lifecycle

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies database connectivity
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// Vacuum reclaims unused space
func (s *SQLiteStore) Vacuum() error {
	_, err := s.db.Exec("VACUUM")
	return err
}

// GetStats returns aggregated statistics in one pass per table
func (s *SQLiteStore) GetStats() (*Stats, error) {
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

// scanner abstracts sql.Row and sql.Rows for forecast scanning
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanForecast(row *sql.Row) (*models.Forecast, error) {
	f, err := scanForecastRows(row)
	if err == sql.ErrNoRows {
		return nil, ErrForecastNotFound
	}
	return f, err
}

func scanForecastRows(sc scanner) (*models.Forecast, error) {
	var f models.Forecast
	var source, points string

	if err := sc.Scan(&f.ID, &f.Ticker, &source, &f.CreatedAt, &points); err != nil {
		return nil, err
	}

	f.Source = models.ForecastSource(source)
	if err := json.Unmarshal([]byte(points), &f.Points); err != nil {
		return nil, fmt.Errorf("failed to unmarshal points: %w", err)
	}
	return &f, nil
}
