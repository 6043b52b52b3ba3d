package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

var testLogger = utils.NewLogger("error", "text")

// processedFlight прямой пролет, дающий один галс
func processedFlight(t *testing.T, id string) *flight.Flight {
	t.Helper()
	store := telemetry.NewSampleStore()
	for i := 0; i < 200; i++ {
		require.NoError(t, store.Add(models.Section{
			Index:      i,
			DurationMs: 33,
			Location:   &models.GeoPoint{Latitude: 46.0 + float64(i)*1e-5, Longitude: 8.0},
			AltitudeM:  models.Known(50),
			YawDeg:     models.Known(10),
			PitchDeg:   models.Known(-90),
			Zoom:       models.Known(1),
		}))
	}

	p, err := flight.NewPipeline(flight.Config{
		Rules:   models.DefaultRuleConfig(),
		Camera:  models.DefaultCameraModel(),
		Terrain: elevation.FlatTerrain(0),
	}, testLogger)
	require.NoError(t, err)

	f, err := p.Process(id, store)
	require.NoError(t, err)
	require.Len(t, f.Legs, 1)
	return f
}

// RedisTestSuite тестовый набор для Redis repository
type RedisTestSuite struct {
	suite.Suite
	repo   *RedisRepository
	client *redis.Client
	ctx    context.Context
}

// SetupSuite запускается один раз перед всеми тестами
func (suite *RedisTestSuite) SetupSuite() {
	suite.ctx = context.Background()

	cfg := &config.RedisConfig{
		URL:          "redis://localhost:6379",
		DB:           15, // Используем DB 15 для тестов
		PoolSize:     10,
		MinIdleConns: 1,
		FlightTTL:    time.Minute,
	}

	var err error
	suite.repo, err = NewRedisRepository(cfg, testLogger)
	require.NoError(suite.T(), err)
	suite.client = suite.repo.client

	if err := suite.repo.Ping(suite.ctx); err != nil {
		suite.T().Skip("Redis not available for testing: " + err.Error())
	}
}

// SetupTest очищает тестовую базу перед каждым тестом
func (suite *RedisTestSuite) SetupTest() {
	require.NoError(suite.T(), suite.client.FlushDB(suite.ctx).Err())
}

// TearDownSuite запускается один раз после всех тестов
func (suite *RedisTestSuite) TearDownSuite() {
	if suite.client != nil {
		suite.client.FlushDB(suite.ctx)
		suite.client.Close()
	}
}

func (suite *RedisTestSuite) TestSaveAndGetFlight() {
	f := processedFlight(suite.T(), "f1")
	require.NoError(suite.T(), suite.repo.SaveFlight(suite.ctx, f))

	rec, err := suite.repo.GetFlight(suite.ctx, "f1")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 200, rec.Steps)
	assert.Equal(suite.T(), f.Legs, rec.Legs)
	assert.Equal(suite.T(), f.Summary.Steps, rec.Summary.Steps)
	assert.Equal(suite.T(), "neither", rec.GroundReference)
	require.NotNil(suite.T(), rec.Start)
	assert.InDelta(suite.T(), 46.0, rec.Start.Latitude, 1e-9)

	ttl, err := suite.client.TTL(suite.ctx, FlightPrefix+"f1").Result()
	require.NoError(suite.T(), err)
	assert.True(suite.T(), ttl > 0 && ttl <= time.Minute)
}

func (suite *RedisTestSuite) TestGetFlight_NotFound() {
	_, err := suite.repo.GetFlight(suite.ctx, "missing")
	assert.ErrorIs(suite.T(), err, ErrNotFound)
}

func (suite *RedisTestSuite) TestRecentAndNear() {
	require.NoError(suite.T(), suite.repo.SaveFlight(suite.ctx, processedFlight(suite.T(), "a")))
	require.NoError(suite.T(), suite.repo.SaveFlight(suite.ctx, processedFlight(suite.T(), "b")))

	ids, err := suite.repo.RecentFlights(suite.ctx, 10)
	require.NoError(suite.T(), err)
	assert.ElementsMatch(suite.T(), []string{"a", "b"}, ids)

	near, err := suite.repo.FlightsNear(suite.ctx, models.GeoPoint{Latitude: 46.0, Longitude: 8.0}, 1)
	require.NoError(suite.T(), err)
	assert.ElementsMatch(suite.T(), []string{"a", "b"}, near)

	far, err := suite.repo.FlightsNear(suite.ctx, models.GeoPoint{Latitude: 40.0, Longitude: 8.0}, 1)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), far)

	// Истекший хеш вычищается из индексов
	require.NoError(suite.T(), suite.client.Del(suite.ctx, FlightPrefix+"a").Err())
	ids, err = suite.repo.RecentFlights(suite.ctx, 10)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []string{"b"}, ids)
	n, err := suite.client.ZCard(suite.ctx, FlightsGeoKey).Result()
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 1, n)

	require.NoError(suite.T(), suite.repo.DeleteFlight(suite.ctx, "b"))
	ids, err = suite.repo.RecentFlights(suite.ctx, 10)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), ids)
}

func (suite *RedisTestSuite) TestTiles() {
	grid, err := elevation.NewGrid(5_100_000, 400_000, 10, 2, 3)
	require.NoError(suite.T(), err)
	for i := range grid.Values {
		grid.Values[i] = float64(100 + i)
	}

	require.NoError(suite.T(), suite.repo.SaveTile(suite.ctx, "alps", grid))
	loaded, err := suite.repo.LoadTile(suite.ctx, "alps")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), grid.Values, loaded.Values)
	assert.Equal(suite.T(), grid.Rows, loaded.Rows)

	_, err = suite.repo.LoadTile(suite.ctx, "missing")
	assert.ErrorIs(suite.T(), err, ErrNotFound)

	stats, err := suite.repo.GetStats(suite.ctx)
	require.NoError(suite.T(), err)
	assert.Contains(suite.T(), stats, "flights_count")
}

func TestRedisTestSuite(t *testing.T) {
	suite.Run(t, new(RedisTestSuite))
}

func TestNewRedisRepository_Validation(t *testing.T) {
	_, err := NewRedisRepository(nil, testLogger)
	assert.Error(t, err)

	_, err = NewRedisRepository(&config.RedisConfig{URL: "redis://localhost:6379"}, nil)
	assert.Error(t, err)

	_, err = NewRedisRepository(&config.RedisConfig{URL: "::not a url"}, testLogger)
	assert.Error(t, err)

	repo, err := NewRedisRepository(&config.RedisConfig{URL: "redis://localhost:6379"}, testLogger)
	require.NoError(t, err)
	assert.Equal(t, DefaultFlightTTL, repo.ttl)
	assert.Equal(t, "redis", repo.Name())
	repo.Close()
}

func TestMapToFlightRecord(t *testing.T) {
	rec, err := mapToFlightRecord("f1", map[string]string{
		"processed_at":     "1714564800000",
		"steps":            "12",
		"synthetic":        "1",
		"ground_reference": "start",
		"start_lat":        "46.5",
		"start_lon":        "8.25",
		"legs":             `[{"leg_id":1,"min_index":2,"max_index":9,"why_ended":"No more steps"}]`,
		"summary":          `{"steps":12,"duration_ms":396}`,
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), rec.ProcessedAt)
	assert.Equal(t, 12, rec.Steps)
	assert.True(t, rec.Synthetic)
	assert.Equal(t, "start", rec.GroundReference)
	assert.Equal(t, &models.GeoPoint{Latitude: 46.5, Longitude: 8.25}, rec.Start)
	require.Len(t, rec.Legs, 1)
	assert.Equal(t, 9, rec.Legs[0].MaxIndex)
	assert.EqualValues(t, 396, rec.Summary.DurationMs)

	_, err = mapToFlightRecord("f1", map[string]string{"steps": "many"})
	assert.Error(t, err)
	_, err = mapToFlightRecord("f1", map[string]string{"legs": "{"})
	assert.Error(t, err)
}
