package repository

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/models"
)

func TestGeneratePlaceholders(t *testing.T) {
	assert.Equal(t, "", generatePlaceholders(0, 3))
	assert.Equal(t, "(?)", generatePlaceholders(1, 1))
	assert.Equal(t, "(?, ?), (?, ?), (?, ?)", generatePlaceholders(3, 2))
}

func TestLegsInsert(t *testing.T) {
	legs := []models.Leg{
		{ID: 1, MinIndex: 0, MaxIndex: 10, WhyEnded: "Yaw change"},
		{ID: 2, MinIndex: 20, MaxIndex: 30, WhyEnded: "No more steps"},
	}
	query, args := legsInsert("f1", legs)

	assert.Equal(t, 2*legFields, strings.Count(query, "?"))
	require.Len(t, args, 2*legFields)
	assert.Equal(t, "f1", args[0])
	assert.Equal(t, 2, args[legFields+1])
	assert.Equal(t, "No more steps", args[2*legFields-1])
}

func TestNewFlightRecord(t *testing.T) {
	f := processedFlight(t, "f1")
	rec := NewFlightRecord(f)

	assert.Equal(t, "f1", rec.ID)
	assert.Equal(t, 200, rec.Steps)
	assert.Equal(t, "neither", rec.GroundReference)
	assert.Equal(t, f.Legs, rec.Legs)
	require.NotNil(t, rec.Start)
	assert.Equal(t, 46.0, rec.Start.Latitude)
	assert.Greater(t, rec.LinealM(), 0.0)
}

func TestNewMySQLRepository_Validation(t *testing.T) {
	_, err := NewMySQLRepository(nil, testLogger)
	assert.Error(t, err)

	_, err = NewMySQLRepository(&config.MySQLConfig{}, testLogger)
	assert.Error(t, err)

	_, err = NewMySQLRepository(&config.MySQLConfig{DSN: "user:pass@tcp(localhost:3306)/db"}, nil)
	assert.Error(t, err)

	repo, err := NewMySQLRepository(&config.MySQLConfig{DSN: "user:pass@tcp(localhost:3306)/db"}, testLogger)
	require.NoError(t, err)
	assert.Equal(t, "mysql", repo.Name())
	repo.Close()
}

// TestMySQLRepository_RoundTrip требует MYSQL_TEST_DSN с правом создавать таблицы
func TestMySQLRepository_RoundTrip(t *testing.T) {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set")
	}

	repo, err := NewMySQLRepository(&config.MySQLConfig{DSN: dsn, MaxIdleConns: 1, MaxOpenConns: 2}, testLogger)
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	if err := repo.Ping(ctx); err != nil {
		t.Skip("MySQL not available for testing: " + err.Error())
	}
	require.NoError(t, repo.EnsureSchema(ctx))

	f := processedFlight(t, "mysql-test-flight")
	require.NoError(t, repo.SaveFlight(ctx, f))
	// Повторное сохранение заменяет галсы
	require.NoError(t, repo.SaveFlight(ctx, f))

	rec, err := repo.GetFlight(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Legs[0].MaxIndex, rec.Legs[0].MaxIndex)
	require.Len(t, rec.Legs, len(f.Legs))
	assert.Equal(t, f.Summary.Steps, rec.Summary.Steps)

	recent, err := repo.ListRecentFlights(ctx, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, recent)

	_, err = repo.GetFlight(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.CleanupOldFlights(ctx, -time.Hour)
	require.NoError(t, err)
	_, err = repo.GetFlight(ctx, f.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
