package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/handler"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/mqtt"
	"github.com/flybeeper/drone-footprint/internal/repository"
	"github.com/flybeeper/drone-footprint/internal/service"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

var (
	// Устанавливаются при сборке через ldflags
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализируем логирование
	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	logger.WithFields(map[string]interface{}{
		"version": Version,
		"commit":  Commit,
	}).Info("Starting drone footprint service")

	metrics.SetAppInfo(Version, Commit, BuildTime)
	handler.Version = Version

	// Создаем контекст приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis: кэш полетов и тайлов рельефа (опционально)
	var redisRepo *repository.RedisRepository
	if cfg.Features.EnableRedis {
		redisRepo, err = repository.NewRedisRepository(&cfg.Redis, logger)
		if err != nil {
			logger.WithField("error", err).Fatal("Failed to initialize Redis repository")
		}
		defer redisRepo.Close()
		if err := redisRepo.Ping(ctx); err != nil {
			logger.WithField("error", err).Fatal("Failed to connect to Redis")
		}
		logger.Info("Connected to Redis")
	}

	// MySQL: история полетов (опционально)
	var mysqlRepo *repository.MySQLRepository
	if cfg.Features.EnableMySQL {
		mysqlRepo, err = repository.NewMySQLRepository(&cfg.MySQL, logger)
		if err != nil {
			logger.WithField("error", err).Warn("Failed to initialize MySQL repository, history disabled")
			mysqlRepo = nil
		} else {
			defer mysqlRepo.Close()
			if err := mysqlRepo.EnsureSchema(ctx); err != nil {
				logger.WithField("error", err).Fatal("Failed to create MySQL schema")
			}
			logger.Info("Connected to MySQL")
		}
	}

	// Правила, камеры и рельеф
	rules, err := config.LoadRules(cfg.Processing.RulesFile)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to load rules")
	}
	cameras, err := config.LoadCameras(cfg.Processing.CamerasFile)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to load camera table")
	}
	terrain, err := loadTerrain(ctx, &cfg.Processing, redisRepo, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to load terrain")
	}

	pipelines, err := service.NewPipelines(rules, cameras, terrain, cfg.Processing.DefaultDroneModel, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to build pipelines")
	}

	// Хранилища результатов
	var sinks []service.Sink
	var cache repository.FlightCache
	if redisRepo != nil {
		sinks = append(sinks, redisRepo)
		cache = redisRepo
	}
	if mysqlRepo != nil {
		sinks = append(sinks, mysqlRepo)
	}

	procCfg := service.DefaultProcessorConfig()
	procCfg.Workers = cfg.Processing.WorkerPoolSize
	procCfg.QueueSize = cfg.Processing.QueueSize
	processor, err := service.NewProcessor(pipelines, service.NewRegistry(), procCfg, logger, sinks...)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to create processor")
	}

	// Создаем HTTP сервер
	server := handler.NewServer(cfg, processor, cache, logger)
	if mysqlRepo != nil {
		server.AddHealthCheck("mysql", mysqlRepo)
	}

	// Сессии MQTT: сэмплы копятся до "end" или таймаута, затем полет уходит в очередь
	var mqttClient *mqtt.Client
	if cfg.Features.EnableMQTT {
		sessions := mqtt.NewSessionManager(cfg.MQTT.SessionTimeout, func(s *mqtt.Session) {
			err := processor.Submit(service.Job{
				FlightID:        s.FlightID,
				Store:           s.Store,
				DroneModel:      s.End.DroneModel,
				GroundReference: s.End.GroundReference,
			})
			if err != nil {
				logger.WithField("flight_id", s.FlightID).WithError(err).Error("Failed to queue flight")
			}
		}, logger)
		sessions.SetStoreFactory(pipelines.NewStore)
		go sessions.Run(ctx)

		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger, sessions.Handle)
		if err != nil {
			logger.WithField("error", err).Fatal("Failed to initialize MQTT client")
		}
		connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
		err = mqttClient.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.WithField("error", err).Fatal("Failed to connect to MQTT broker")
		}
		server.AddHealthCheck("mqtt", mqttClient)
	}

	if mysqlRepo != nil && cfg.MySQL.Retention > 0 {
		go cleanupLoop(ctx, mysqlRepo, cfg.MySQL.Retention, logger)
	}

	// Запускаем HTTP сервер в горутине
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err).Fatal("Failed to start HTTP server")
		}
	}()

	// Ждем сигнала остановки
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.WithField("signal", sig).Info("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Новые сэмплы больше не принимаем
	if mqttClient != nil {
		mqttClient.Disconnect()
		stats := mqttClient.Stats()
		logger.WithFields(map[string]interface{}{
			"received":       stats.Received,
			"parse_errors":   stats.ParseErrors,
			"handler_errors": stats.HandlerErrors,
		}).Info("MQTT ingest totals")
	}
	cancel()

	// Останавливаем HTTP сервер
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown error")
	}

	// Дожидаемся полетов в очереди
	processor.Stop()

	logger.Info("Server stopped gracefully")
}

// loadTerrain загружает DEM и DSM: сначала тайл из Redis, затем ESRI ASCII файл
func loadTerrain(ctx context.Context, cfg *config.ProcessingConfig, tiles *repository.RedisRepository, logger *utils.Logger) (elevation.Terrain, error) {
	var dem, dsm elevation.Source
	if cfg.DEMFile != "" {
		grid, err := loadGrid(ctx, cfg.DEMFile, tiles, logger)
		if err != nil {
			return elevation.Terrain{}, fmt.Errorf("DEM: %w", err)
		}
		dem = elevation.NewCached(grid, cfg.ElevationCacheSize, elevation.DefaultCacheCellM, cfg.ElevationCacheTTL)
	}
	if cfg.DSMFile != "" {
		grid, err := loadGrid(ctx, cfg.DSMFile, tiles, logger)
		if err != nil {
			return elevation.Terrain{}, fmt.Errorf("DSM: %w", err)
		}
		dsm = elevation.NewCached(grid, cfg.ElevationCacheSize, elevation.DefaultCacheCellM, cfg.ElevationCacheTTL)
	}
	if dem == nil {
		logger.Warn("No DEM configured, ground reference correction is unavailable")
	}

	terrain := elevation.NewTerrain(dem, dsm)
	if cfg.TerrainZone != "" {
		zone, err := geo.ParseZone(cfg.TerrainZone)
		if err != nil {
			return elevation.Terrain{}, err
		}
		terrain = terrain.InZone(zone)
		logger.WithField("utm_zone", zone.String()).Info("Flights are projected into the terrain UTM zone")
	}
	return terrain, nil
}

func loadGrid(ctx context.Context, path string, tiles *repository.RedisRepository, logger *utils.Logger) (*elevation.Grid, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if tiles != nil {
		grid, err := tiles.LoadTile(ctx, name)
		if err == nil {
			logger.WithField("tile", name).Info("Loaded elevation tile from Redis")
			return grid, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			logger.WithField("tile", name).WithError(err).Warn("Failed to load elevation tile from Redis")
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	grid, err := elevation.LoadASCII(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	logger.WithFields(map[string]interface{}{
		"file": path,
		"rows": grid.Rows,
		"cols": grid.Cols,
	}).Info("Loaded elevation grid")

	if tiles != nil {
		if err := tiles.SaveTile(ctx, name, grid); err != nil {
			logger.WithField("tile", name).WithError(err).Warn("Failed to cache elevation tile")
		}
	}
	return grid, nil
}

// cleanupLoop удаляет старые полеты из истории раз в час
func cleanupLoop(ctx context.Context, repo *repository.MySQLRepository, retention time.Duration, logger *utils.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanupOldFlights(ctx, retention)
			if err != nil {
				logger.WithError(err).Warn("Failed to clean up old flights")
				continue
			}
			if n > 0 {
				logger.WithField("deleted", n).Info("Cleaned up old flights")
			}
		}
	}
}
