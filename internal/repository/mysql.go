package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// Поля одной строки flight_legs
const legFields = 9

var schema = []string{
	`CREATE TABLE IF NOT EXISTS flights (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		processed_at DATETIME(3) NOT NULL,
		steps INT NOT NULL,
		legs INT NOT NULL,
		duration_ms BIGINT NOT NULL,
		lineal_m DOUBLE NOT NULL,
		synthetic TINYINT(1) NOT NULL,
		ground_reference VARCHAR(16) NOT NULL,
		start_lat DOUBLE NULL,
		start_lon DOUBLE NULL,
		summary JSON NOT NULL,
		KEY idx_processed_at (processed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS flight_legs (
		flight_id VARCHAR(64) NOT NULL,
		leg_id INT NOT NULL,
		min_index INT NOT NULL,
		max_index INT NOT NULL,
		min_sum_time_ms BIGINT NOT NULL,
		max_sum_time_ms BIGINT NOT NULL,
		min_sum_lineal_m DOUBLE NOT NULL,
		max_sum_lineal_m DOUBLE NOT NULL,
		why_ended VARCHAR(128) NOT NULL,
		PRIMARY KEY (flight_id, leg_id),
		CONSTRAINT fk_flight_legs_flight FOREIGN KEY (flight_id) REFERENCES flights (id) ON DELETE CASCADE
	)`,
}

// MySQLRepository история обработанных полетов
type MySQLRepository struct {
	db     *sql.DB
	logger *utils.Logger
	config *config.MySQLConfig
}

// NewMySQLRepository создает новый MySQL репозиторий
func NewMySQLRepository(cfg *config.MySQLConfig, logger *utils.Logger) (*MySQLRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mysql config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}

	// processed_at сканируется в time.Time
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Настройки connection pool
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	return &MySQLRepository{
		db:     db,
		logger: logger,
		config: cfg,
	}, nil
}

// Ping проверяет соединение с MySQL
func (r *MySQLRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		metrics.MySQLConnectionStatus.Set(0)
		return err
	}
	metrics.MySQLConnectionStatus.Set(1)
	return nil
}

// Close закрывает соединение с MySQL
func (r *MySQLRepository) Close() error {
	return r.db.Close()
}

// Name имя для логов процессора
func (r *MySQLRepository) Name() string {
	return "mysql"
}

// EnsureSchema создает таблицы, если их нет
func (r *MySQLRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveFlight заменяет запись полета и все его галсы одной транзакцией
func (r *MySQLRepository) SaveFlight(ctx context.Context, f *flight.Flight) error {
	if f == nil {
		return fmt.Errorf("flight cannot be nil")
	}
	rec := NewFlightRecord(f)

	start := time.Now()
	err := r.saveRecord(ctx, rec)
	metrics.MySQLWriteDuration.WithLabelValues("flights").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.MySQLWriteErrors.WithLabelValues("flights").Inc()
		return err
	}

	r.logger.WithField("flight_id", rec.ID).WithField("legs", len(rec.Legs)).Debug("Saved flight to MySQL")
	return nil
}

func (r *MySQLRepository) saveRecord(ctx context.Context, rec FlightRecord) error {
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	// Начинаем транзакцию
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var startLat, startLon sql.NullFloat64
	if rec.Start != nil {
		startLat = sql.NullFloat64{Float64: rec.Start.Latitude, Valid: true}
		startLon = sql.NullFloat64{Float64: rec.Start.Longitude, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flights (
			id, processed_at, steps, legs, duration_ms, lineal_m,
			synthetic, ground_reference, start_lat, start_lon, summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			processed_at = VALUES(processed_at), steps = VALUES(steps), legs = VALUES(legs),
			duration_ms = VALUES(duration_ms), lineal_m = VALUES(lineal_m),
			synthetic = VALUES(synthetic), ground_reference = VALUES(ground_reference),
			start_lat = VALUES(start_lat), start_lon = VALUES(start_lon), summary = VALUES(summary)`,
		rec.ID, rec.ProcessedAt.UTC(), rec.Steps, len(rec.Legs), rec.Summary.DurationMs, rec.LinealM(),
		rec.Synthetic, rec.GroundReference, startLat, startLon, summary)
	if err != nil {
		return fmt.Errorf("failed to upsert flight %s: %w", rec.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM flight_legs WHERE flight_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to delete legs of flight %s: %w", rec.ID, err)
	}

	if len(rec.Legs) > 0 {
		query, args := legsInsert(rec.ID, rec.Legs)
		legStart := time.Now()
		_, err = tx.ExecContext(ctx, query, args...)
		metrics.MySQLWriteDuration.WithLabelValues("legs").Observe(time.Since(legStart).Seconds())
		if err != nil {
			metrics.MySQLWriteErrors.WithLabelValues("legs").Inc()
			return fmt.Errorf("failed to batch insert legs of flight %s: %w", rec.ID, err)
		}
	}

	// Коммитим транзакцию
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flight %s: %w", rec.ID, err)
	}
	return nil
}

// legsInsert batch INSERT для галсов полета
func legsInsert(flightID string, legs []models.Leg) (string, []interface{}) {
	query := `
		INSERT INTO flight_legs (
			flight_id, leg_id, min_index, max_index, min_sum_time_ms,
			max_sum_time_ms, min_sum_lineal_m, max_sum_lineal_m, why_ended
		) VALUES ` + generatePlaceholders(len(legs), legFields)

	args := make([]interface{}, 0, len(legs)*legFields)
	for _, leg := range legs {
		args = append(args,
			flightID, leg.ID, leg.MinIndex, leg.MaxIndex, leg.MinSumTimeMs,
			leg.MaxSumTimeMs, leg.MinSumLinealM, leg.MaxSumLinealM, leg.WhyEnded)
	}
	return query, args
}

// GetFlight запись полета вместе с галсами
func (r *MySQLRepository) GetFlight(ctx context.Context, id string) (*FlightRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, processed_at, steps, synthetic, ground_reference, start_lat, start_lon, summary
		FROM flights WHERE id = ?`, id)

	rec, err := scanFlight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: flight %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flight %s: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT leg_id, min_index, max_index, min_sum_time_ms, max_sum_time_ms,
			min_sum_lineal_m, max_sum_lineal_m, why_ended
		FROM flight_legs WHERE flight_id = ? ORDER BY leg_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query legs of flight %s: %w", id, err)
	}
	defer rows.Close()

	rec.Legs = []models.Leg{}
	for rows.Next() {
		var leg models.Leg
		if err := rows.Scan(&leg.ID, &leg.MinIndex, &leg.MaxIndex, &leg.MinSumTimeMs, &leg.MaxSumTimeMs,
			&leg.MinSumLinealM, &leg.MaxSumLinealM, &leg.WhyEnded); err != nil {
			return nil, fmt.Errorf("failed to scan leg of flight %s: %w", id, err)
		}
		rec.Legs = append(rec.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read legs of flight %s: %w", id, err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFlight(row rowScanner) (*FlightRecord, error) {
	var (
		rec                FlightRecord
		startLat, startLon sql.NullFloat64
		summary            []byte
	)
	if err := row.Scan(&rec.ID, &rec.ProcessedAt, &rec.Steps, &rec.Synthetic, &rec.GroundReference,
		&startLat, &startLon, &summary); err != nil {
		return nil, err
	}
	if startLat.Valid && startLon.Valid {
		rec.Start = &models.GeoPoint{Latitude: startLat.Float64, Longitude: startLon.Float64}
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &rec.Summary); err != nil {
			return nil, fmt.Errorf("invalid summary: %w", err)
		}
	}
	return &rec, nil
}

// ListRecentFlights последние полеты без галсов, новые первыми
func (r *MySQLRepository) ListRecentFlights(ctx context.Context, limit int) ([]FlightRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, processed_at, steps, synthetic, ground_reference, start_lat, start_lon, summary
		FROM flights ORDER BY processed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	defer rows.Close()

	var out []FlightRecord
	for rows.Next() {
		rec, err := scanFlight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flight: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CleanupOldFlights удаляет полеты старше olderThan (галсы удаляются каскадно)
func (r *MySQLRepository) CleanupOldFlights(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := r.db.ExecContext(ctx, `DELETE FROM flights WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old flights: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		r.logger.WithField("deleted", n).WithField("cutoff", cutoff).Info("Cleaned up old flights")
	}
	return n, nil
}

// GetStats статистика MySQL
func (r *MySQLRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	var flights, legs int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flights`).Scan(&flights); err != nil {
		return nil, fmt.Errorf("failed to count flights: %w", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flight_legs`).Scan(&legs); err != nil {
		return nil, fmt.Errorf("failed to count legs: %w", err)
	}

	dbStats := r.db.Stats()
	return map[string]interface{}{
		"flights_count":    flights,
		"legs_count":       legs,
		"open_connections": dbStats.OpenConnections,
		"in_use":           dbStats.InUse,
		"idle":             dbStats.Idle,
	}, nil
}

// generatePlaceholders "(?, ?), (?, ?)" для batch INSERT
func generatePlaceholders(count, fieldsPerRecord int) string {
	if count <= 0 || fieldsPerRecord <= 0 {
		return ""
	}
	record := "(" + strings.TrimSuffix(strings.Repeat("?, ", fieldsPerRecord), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(record+", ", count), ", ")
}
