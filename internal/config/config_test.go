package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/drone-footprint/internal/models"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Address)
	assert.Equal(t, "footprint/flights", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 4, cfg.Processing.WorkerPoolSize)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Features.EnableRedis)
	assert.False(t, cfg.Features.EnableMySQL)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":9000")
	t.Setenv("WORKER_POOL_SIZE", "8")
	t.Setenv("MQTT_TOPIC_PREFIX", "drones/")
	t.Setenv("REDIS_FLIGHT_TTL", "1h")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 8, cfg.Processing.WorkerPoolSize)
	assert.Equal(t, "drones", cfg.MQTT.TopicPrefix)
	assert.Equal(t, time.Hour, cfg.Redis.FlightTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
}

func TestLoad_TerrainZone(t *testing.T) {
	t.Setenv("DEM_FILE", "dem.asc")
	t.Setenv("TERRAIN_UTM_ZONE", "32n")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "32n", cfg.Processing.TerrainZone)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero workers", map[string]string{"WORKER_POOL_SIZE": "0"}},
		{"zero queue", map[string]string{"QUEUE_SIZE": "0"}},
		{"mysql without dsn", map[string]string{"ENABLE_MYSQL": "true"}},
		{"negative rate", map[string]string{"RATE_LIMIT_RPS": "-1"}},
		{"dem without zone", map[string]string{"DEM_FILE": "dem.asc"}},
		{"dsm without zone", map[string]string{"DSM_FILE": "dsm.asc"}},
		{"bad zone", map[string]string{"DEM_FILE": "dem.asc", "TERRAIN_UTM_ZONE": "32Q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadRules(t *testing.T) {
	rules, err := LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRuleConfig(), rules)

	path := writeFile(t, "rules.yaml", `
smoothing_radius: 3
use_gimbal_data: false
min_leg_distance_m: 40
camera_down_override_deg: 70
`)
	rules, err = LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 3, rules.SmoothingRadius)
	assert.False(t, rules.UseGimbalData)
	assert.Equal(t, 40.0, rules.MinLegDistanceM)
	require.NotNil(t, rules.CameraDownOverrideDeg)
	assert.Equal(t, 70.0, *rules.CameraDownOverrideDeg)
	// Не заданные ключи остаются по умолчанию
	assert.Equal(t, models.DefaultRuleConfig().MaxLegSumDeltaYawDeg, rules.MaxLegSumDeltaYawDeg)

	_, err = LoadRules(writeFile(t, "bad.yaml", "smoothing_radius: -2\n"))
	assert.Error(t, err)

	_, err = LoadRules(writeFile(t, "broken.yaml", "smoothing_radius: [\n"))
	assert.Error(t, err)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadCameras(t *testing.T) {
	table, err := LoadCameras("")
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, table.Names())

	path := writeFile(t, "cameras.yaml", `
models:
  mavic-3t:
    hfov_deg: 61
    image_width: 640
    image_height: 512
    default_down_deg: 90
  matrice-30t:
    name: M30T wide
    hfov_deg: 84
    image_width: 4000
    image_height: 3000
`)
	table, err = LoadCameras(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"matrice-30t", "mavic-3t"}, table.Names())

	cam, ok := table.Camera("mavic-3t")
	require.True(t, ok)
	assert.Equal(t, "mavic-3t", cam.Name)
	assert.Equal(t, 61.0, cam.HFOVDeg)

	cam, ok = table.Camera("matrice-30t")
	require.True(t, ok)
	assert.Equal(t, "M30T wide", cam.Name)

	_, ok = table.Camera("unknown")
	assert.False(t, ok)

	_, err = LoadCameras(writeFile(t, "empty.yaml", "models: {}\n"))
	assert.Error(t, err)

	_, err = LoadCameras(writeFile(t, "invalid.yaml", "models:\n  x:\n    hfov_deg: 0\n    image_width: 1\n    image_height: 1\n"))
	assert.Error(t, err)
}
