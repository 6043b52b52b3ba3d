package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

const (
	// Ключи индексов
	FlightsGeoKey    = "flights:geo"    // GEO индекс по первой точке полета
	FlightsRecentKey = "flights:recent" // Z-SET по времени обработки

	// Префиксы для хешей с детальными данными
	FlightPrefix = "flight:" // flight:{id}
	TilePrefix   = "tile:"   // tile:{name} - бинарный тайл рельефа

	// TTL по умолчанию
	DefaultFlightTTL = 7 * 24 * time.Hour

	// Redis GEO ограничения по широте
	maxGeoLatitude = 85.05112878
)

// RedisRepository кэш обработанных полетов и тайлов рельефа
type RedisRepository struct {
	client *redis.Client
	logger *utils.Logger
	config *config.RedisConfig
	ttl    time.Duration
}

// NewRedisRepository создает новый Redis репозиторий
func NewRedisRepository(cfg *config.RedisConfig, logger *utils.Logger) (*RedisRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxIdleTime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	ttl := cfg.FlightTTL
	if ttl <= 0 {
		ttl = DefaultFlightTTL
	}

	return &RedisRepository{
		client: redis.NewClient(opt),
		logger: logger,
		config: cfg,
		ttl:    ttl,
	}, nil
}

// Ping проверяет соединение с Redis
func (r *RedisRepository) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx).Result(); err != nil {
		metrics.RedisConnectionStatus.Set(0)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	metrics.RedisConnectionStatus.Set(1)
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// Name имя для логов процессора
func (r *RedisRepository) Name() string {
	return "redis"
}

func observe(operation string, start time.Time, err error) {
	metrics.RedisOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues(operation).Inc()
	}
}

// SaveFlight сохраняет галсы и сводку полета с TTL
func (r *RedisRepository) SaveFlight(ctx context.Context, f *flight.Flight) (err error) {
	if f == nil {
		return fmt.Errorf("flight cannot be nil")
	}
	start := time.Now()
	defer func() { observe("save_flight", start, err) }()

	rec := NewFlightRecord(f)
	legs, err := json.Marshal(rec.Legs)
	if err != nil {
		return fmt.Errorf("failed to marshal legs: %w", err)
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	key := FlightPrefix + rec.ID
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"processed_at":     rec.ProcessedAt.UnixMilli(),
		"steps":            rec.Steps,
		"synthetic":        rec.Synthetic,
		"ground_reference": rec.GroundReference,
		"legs":             legs,
		"summary":          summary,
	})
	if rec.Start != nil {
		pipe.HSet(ctx, key, "start_lat", rec.Start.Latitude, "start_lon", rec.Start.Longitude)
	}
	pipe.Expire(ctx, key, r.ttl)
	pipe.ZAdd(ctx, FlightsRecentKey, redis.Z{Score: float64(rec.ProcessedAt.UnixMilli()), Member: rec.ID})

	if rec.Start != nil && rec.Start.Latitude >= -maxGeoLatitude && rec.Start.Latitude <= maxGeoLatitude {
		pipe.GeoAdd(ctx, FlightsGeoKey, &redis.GeoLocation{
			Name:      rec.ID,
			Longitude: rec.Start.Longitude,
			Latitude:  rec.Start.Latitude,
		})
	}

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save flight %s: %w", rec.ID, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"flight_id": rec.ID,
		"legs":      len(rec.Legs),
		"ttl":       r.ttl.String(),
	}).Debug("Saved flight to Redis")
	return nil
}

// GetFlight читает запись полета
func (r *RedisRepository) GetFlight(ctx context.Context, id string) (rec *FlightRecord, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, ErrNotFound) {
			observe("get_flight", start, nil)
			return
		}
		observe("get_flight", start, err)
	}()

	data, err := r.client.HGetAll(ctx, FlightPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get flight %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: flight %s", ErrNotFound, id)
	}
	return mapToFlightRecord(id, data)
}

// mapToFlightRecord конвертирует HSET данные в запись полета
func mapToFlightRecord(id string, data map[string]string) (*FlightRecord, error) {
	rec := &FlightRecord{ID: id, GroundReference: data["ground_reference"]}

	if v, ok := data["processed_at"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid processed_at for flight %s: %w", id, err)
		}
		rec.ProcessedAt = time.UnixMilli(ms).UTC()
	}
	if v, ok := data["steps"]; ok {
		steps, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid steps for flight %s: %w", id, err)
		}
		rec.Steps = steps
	}
	rec.Synthetic = data["synthetic"] == "1" || data["synthetic"] == "true"

	if lat, okLat := data["start_lat"]; okLat {
		la, errLat := strconv.ParseFloat(lat, 64)
		lo, errLon := strconv.ParseFloat(data["start_lon"], 64)
		if errLat == nil && errLon == nil {
			rec.Start = &models.GeoPoint{Latitude: la, Longitude: lo}
		}
	}

	if v := data["legs"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Legs); err != nil {
			return nil, fmt.Errorf("invalid legs for flight %s: %w", id, err)
		}
	}
	if v := data["summary"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Summary); err != nil {
			return nil, fmt.Errorf("invalid summary for flight %s: %w", id, err)
		}
	}
	return rec, nil
}

// RecentFlights id последних обработанных полетов, новые первыми.
// Истекшие по TTL полеты вычищаются из индекса.
func (r *RedisRepository) RecentFlights(ctx context.Context, limit int) (ids []string, err error) {
	start := time.Now()
	defer func() { observe("recent_flights", start, err) }()

	if limit <= 0 {
		limit = 100
	}
	candidates, err := r.client.ZRevRange(ctx, FlightsRecentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent flights: %w", err)
	}
	return r.alive(ctx, candidates)
}

// FlightsNear полеты, начавшиеся в радиусе от точки
func (r *RedisRepository) FlightsNear(ctx context.Context, center models.GeoPoint, radiusKM float64) (ids []string, err error) {
	start := time.Now()
	defer func() { observe("flights_near", start, err) }()

	locations, err := r.client.GeoRadius(ctx, FlightsGeoKey, center.Longitude, center.Latitude, &redis.GeoRadiusQuery{
		Radius: radiusKM,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query flights near %v: %w", center, err)
	}

	candidates := make([]string, 0, len(locations))
	for _, loc := range locations {
		candidates = append(candidates, loc.Name)
	}
	return r.alive(ctx, candidates)
}

// alive оставляет полеты, хеш которых еще не истек, и чистит индексы от остальных
func (r *RedisRepository) alive(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return []string{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(candidates))
	for i, id := range candidates {
		cmds[i] = pipe.Exists(ctx, FlightPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check flights: %w", err)
	}

	out := make([]string, 0, len(candidates))
	var expired []interface{}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			out = append(out, candidates[i])
		} else {
			expired = append(expired, candidates[i])
		}
	}

	if len(expired) > 0 {
		cleanup := r.client.Pipeline()
		cleanup.ZRem(ctx, FlightsRecentKey, expired...)
		cleanup.ZRem(ctx, FlightsGeoKey, expired...)
		if _, err := cleanup.Exec(ctx); err != nil {
			r.logger.WithError(err).Warn("Failed to cleanup expired flights from indexes")
		}
	}
	return out, nil
}

// DeleteFlight удаляет полет и его записи в индексах
func (r *RedisRepository) DeleteFlight(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observe("delete_flight", start, err) }()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, FlightPrefix+id)
	pipe.ZRem(ctx, FlightsRecentKey, id)
	pipe.ZRem(ctx, FlightsGeoKey, id)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete flight %s: %w", id, err)
	}
	return nil
}

// SaveTile сохраняет тайл рельефа без TTL
func (r *RedisRepository) SaveTile(ctx context.Context, name string, grid *elevation.Grid) (err error) {
	start := time.Now()
	defer func() { observe("save_tile", start, err) }()

	data, err := elevation.EncodeTile(grid)
	if err != nil {
		return fmt.Errorf("failed to encode tile %s: %w", name, err)
	}
	if err = r.client.Set(ctx, TilePrefix+name, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save tile %s: %w", name, err)
	}

	r.logger.WithFields(map[string]interface{}{
		"tile":  name,
		"bytes": len(data),
		"rows":  grid.Rows,
		"cols":  grid.Cols,
	}).Info("Saved elevation tile to Redis")
	return nil
}

// LoadTile читает тайл рельефа
func (r *RedisRepository) LoadTile(ctx context.Context, name string) (grid *elevation.Grid, err error) {
	start := time.Now()
	defer func() {
		if errors.Is(err, ErrNotFound) {
			observe("load_tile", start, nil)
			return
		}
		observe("load_tile", start, err)
	}()

	data, err := r.client.Get(ctx, TilePrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: tile %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tile %s: %w", name, err)
	}
	return elevation.DecodeTile(data)
}

// GetStats статистика Redis
func (r *RedisRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pipe := r.client.Pipeline()

	flightsCountCmd := pipe.ZCard(ctx, FlightsRecentKey)
	geoCountCmd := pipe.ZCard(ctx, FlightsGeoKey)
	infoCmd := pipe.Info(ctx, "memory")

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get Redis stats: %w", err)
	}

	return map[string]interface{}{
		"flights_count":     flightsCountCmd.Val(),
		"flights_geo_count": geoCountCmd.Val(),
		"memory_info":       infoCmd.Val(),
	}, nil
}
