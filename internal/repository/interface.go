package repository

import (
	"context"
	"errors"
	"time"

	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/models"
)

// ErrNotFound записи нет в хранилище
var ErrNotFound = errors.New("not found")

// FlightCache кэш обработанных полетов и тайлов рельефа (Redis)
type FlightCache interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Полеты
	Name() string
	SaveFlight(ctx context.Context, f *flight.Flight) error
	GetFlight(ctx context.Context, id string) (*FlightRecord, error)
	RecentFlights(ctx context.Context, limit int) ([]string, error)
	FlightsNear(ctx context.Context, center models.GeoPoint, radiusKM float64) ([]string, error)
	DeleteFlight(ctx context.Context, id string) error

	// Тайлы рельефа
	SaveTile(ctx context.Context, name string, grid *elevation.Grid) error
	LoadTile(ctx context.Context, name string) (*elevation.Grid, error)

	// Статистика
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// HistoryRepository история полетов и галсов (MySQL)
type HistoryRepository interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	EnsureSchema(ctx context.Context) error

	Name() string
	SaveFlight(ctx context.Context, f *flight.Flight) error
	GetFlight(ctx context.Context, id string) (*FlightRecord, error)
	ListRecentFlights(ctx context.Context, limit int) ([]FlightRecord, error)

	// Обслуживание
	CleanupOldFlights(ctx context.Context, olderThan time.Duration) (int64, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// Ensure implementations
var _ FlightCache = (*RedisRepository)(nil)
var _ HistoryRepository = (*MySQLRepository)(nil)
