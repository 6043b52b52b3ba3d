package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flybeeper/drone-footprint/internal/auth"
	"github.com/flybeeper/drone-footprint/internal/geo"
)

// Config содержит конфигурацию приложения
type Config struct {
	Environment string
	Server      ServerConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	MySQL       MySQLConfig
	Processing  ProcessingConfig
	WebSocket   WebSocketConfig
	Monitoring  MonitoringConfig
	Features    FeaturesConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimit    float64 // запросов в секунду на клиента
	RateBurst    int
	CORSOrigins  []string
	APIKeys      []string // "имя:ключ"; пусто = запись без аутентификации
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	FlightTTL    time.Duration
}

// MQTTConfig конфигурация MQTT
type MQTTConfig struct {
	URL          string
	ClientID     string
	Username     string
	Password     string
	CleanSession bool
	TopicPrefix  string
	// Сессия без сэмплов дольше этого закрывается и обрабатывается
	SessionTimeout time.Duration
}

// MySQLConfig конфигурация MySQL (история полетов)
type MySQLConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	Retention    time.Duration // 0 = хранить всегда
}

// ProcessingConfig конвейер обработки и его входные файлы
type ProcessingConfig struct {
	WorkerPoolSize     int
	QueueSize          int
	RulesFile          string
	CamerasFile        string
	DEMFile            string
	DSMFile            string
	TerrainZone        string // зона UTM сеток DEM/DSM, например "32N"
	DefaultDroneModel  string
	ElevationCacheSize int
	ElevationCacheTTL  time.Duration
}

// WebSocketConfig конфигурация воспроизведения полета
type WebSocketConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxReplaySpeed float64
}

// MonitoringConfig конфигурация мониторинга
type MonitoringConfig struct {
	MetricsEnabled bool
}

// FeaturesConfig флаги функций
type FeaturesConfig struct {
	EnableRedis bool
	EnableMySQL bool
	EnableMQTT  bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Address:      getEnv("SERVER_ADDRESS", ":8090"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			RateLimit:    getFloat("RATE_LIMIT_RPS", 20),
			RateBurst:    getInt("RATE_LIMIT_BURST", 40),
			CORSOrigins:  getList("CORS_ORIGINS", []string{"*"}),
			APIKeys:      getList("API_KEYS", nil),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			PoolSize:     getInt("REDIS_POOL_SIZE", 20),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			FlightTTL:    getDuration("REDIS_FLIGHT_TTL", 7*24*time.Hour),
		},
		MQTT: MQTTConfig{
			URL:            getEnv("MQTT_URL", "tcp://localhost:1883"),
			ClientID:       getEnv("MQTT_CLIENT_ID", "footprint-api"),
			Username:       getEnv("MQTT_USERNAME", ""),
			Password:       getEnv("MQTT_PASSWORD", ""),
			CleanSession:   getBool("MQTT_CLEAN_SESSION", false),
			TopicPrefix:    strings.TrimSuffix(getEnv("MQTT_TOPIC_PREFIX", "footprint/flights"), "/"),
			SessionTimeout: getDuration("MQTT_SESSION_TIMEOUT", 10*time.Minute),
		},
		MySQL: MySQLConfig{
			DSN:          getEnv("MYSQL_DSN", ""),
			MaxIdleConns: getInt("MYSQL_MAX_IDLE_CONNS", 5),
			MaxOpenConns: getInt("MYSQL_MAX_OPEN_CONNS", 20),
			Retention:    getDuration("MYSQL_RETENTION", 90*24*time.Hour),
		},
		Processing: ProcessingConfig{
			WorkerPoolSize:     getInt("WORKER_POOL_SIZE", 4),
			QueueSize:          getInt("QUEUE_SIZE", 64),
			RulesFile:          getEnv("RULES_FILE", ""),
			CamerasFile:        getEnv("CAMERAS_FILE", ""),
			DEMFile:            getEnv("DEM_FILE", ""),
			DSMFile:            getEnv("DSM_FILE", ""),
			TerrainZone:        getEnv("TERRAIN_UTM_ZONE", ""),
			DefaultDroneModel:  getEnv("DEFAULT_DRONE_MODEL", "default"),
			ElevationCacheSize: getInt("ELEVATION_CACHE_SIZE", 100000),
			ElevationCacheTTL:  getDuration("ELEVATION_CACHE_TTL", time.Hour),
		},
		WebSocket: WebSocketConfig{
			PingInterval:   getDuration("WEBSOCKET_PING_INTERVAL", 30*time.Second),
			PongTimeout:    getDuration("WEBSOCKET_PONG_TIMEOUT", 60*time.Second),
			MaxReplaySpeed: getFloat("WEBSOCKET_MAX_REPLAY_SPEED", 16),
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
		},
		Features: FeaturesConfig{
			EnableRedis: getBool("ENABLE_REDIS", true),
			EnableMySQL: getBool("ENABLE_MYSQL", false),
			EnableMQTT:  getBool("ENABLE_MQTT", true),
		},
	}

	// Валидация
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("SERVER_ADDRESS is required")
	}

	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	for _, entry := range c.Server.APIKeys {
		if _, _, err := auth.ParseKey(entry); err != nil {
			return fmt.Errorf("API_KEYS: %w", err)
		}
	}

	if c.Features.EnableRedis && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when ENABLE_REDIS is set")
	}

	if c.Features.EnableMQTT && c.MQTT.URL == "" {
		return fmt.Errorf("MQTT_URL is required when ENABLE_MQTT is set")
	}

	if c.Features.EnableMySQL && c.MySQL.DSN == "" {
		return fmt.Errorf("MYSQL_DSN is required when ENABLE_MYSQL is set")
	}

	// Проверка производительности
	if c.Processing.WorkerPoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive")
	}

	if c.Processing.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive")
	}

	if c.Processing.ElevationCacheSize <= 0 {
		return fmt.Errorf("ELEVATION_CACHE_SIZE must be positive")
	}

	// Сетки рельефа заданы в плоских координатах одной зоны UTM
	if c.Processing.DEMFile != "" || c.Processing.DSMFile != "" {
		if c.Processing.TerrainZone == "" {
			return fmt.Errorf("TERRAIN_UTM_ZONE is required when DEM_FILE or DSM_FILE is set")
		}
	}
	if c.Processing.TerrainZone != "" {
		if _, err := geo.ParseZone(c.Processing.TerrainZone); err != nil {
			return fmt.Errorf("TERRAIN_UTM_ZONE: %w", err)
		}
	}

	if c.WebSocket.MaxReplaySpeed <= 0 {
		return fmt.Errorf("WEBSOCKET_MAX_REPLAY_SPEED must be positive")
	}

	return nil
}

// Helper функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LogLevel возвращает уровень логирования
func LogLevel() string {
	return getEnv("LOG_LEVEL", "info")
}

// LogFormat возвращает формат логирования
func LogFormat() string {
	return getEnv("LOG_FORMAT", "json")
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
