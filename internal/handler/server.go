package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/flybeeper/drone-footprint/internal/auth"
	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/repository"
	"github.com/flybeeper/drone-footprint/internal/service"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// Version версия API в /health
var Version = "dev"

// HealthChecker зависимость, проверяемая в /health
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server HTTP сервер запросов к полетам
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	logger      *utils.Logger
	config      *config.Config
	restHandler *RESTHandler
	replay      *ReplayHandler
	auth        *auth.Middleware
	processor   *service.Processor
	checks      map[string]HealthChecker
	started     time.Time
}

// NewServer создает новый HTTP сервер; cache может быть nil
func NewServer(cfg *config.Config, processor *service.Processor, cache repository.FlightCache, logger *utils.Logger) *Server {
	// Production mode для Gin
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(LoggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware(cfg.Server.CORSOrigins))
	router.Use(metrics.HTTPMetricsMiddleware())
	router.Use(RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))
	router.Use(SecurityHeadersMiddleware())

	validator, err := auth.NewValidator(cfg.Server.APIKeys)
	if err != nil {
		// Config.Validate уже проверил формат ключей
		logger.WithError(err).Error("Invalid API keys, write endpoints are closed")
		validator = auth.Closed()
	}

	server := &Server{
		router:      router,
		logger:      logger,
		config:      cfg,
		restHandler: NewRESTHandler(processor, cache, logger),
		replay:      NewReplayHandler(processor.Registry(), &cfg.WebSocket, logger),
		auth:        auth.NewMiddleware(validator, logger),
		processor:   processor,
		checks:      make(map[string]HealthChecker),
		started:     time.Now(),
	}
	if cache != nil {
		server.checks["redis"] = cache
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.setupRoutes()
	return server
}

// AddHealthCheck добавляет зависимость в /health
func (s *Server) AddHealthCheck(name string, check HealthChecker) {
	s.checks[name] = check
}

// Router gin engine (для тестов)
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)

	if s.config.Monitoring.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/flights", s.restHandler.ListFlights)
		v1.POST("/flights/:id", s.auth.Authenticate(), s.restHandler.IngestFlight)
		v1.GET("/flights/:id", s.restHandler.GetFlight)
		v1.GET("/flights/:id/legs", s.restHandler.GetLegs)
		v1.GET("/flights/:id/legs/overlapping", s.restHandler.LegsOverlapping)
		v1.GET("/flights/:id/steps/nearest", s.restHandler.NearestStep)
		v1.GET("/flights/:id/steps/at-or-before", s.restHandler.StepAtOrBefore)
		v1.GET("/flights/:id/footprint", s.restHandler.GetFootprint)
		v1.POST("/flights/:id/locate", s.restHandler.Locate)
		v1.POST("/flights/:id/ground-reference", s.auth.Authenticate(), s.restHandler.SetGroundReference)
		v1.GET("/flights/:id/summary", s.restHandler.GetSummary)
	}

	s.router.GET("/ws/v1/flights/:id/replay", s.replay.HandleReplay)
}

// Start запускает HTTP сервер
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"address": s.config.Server.Address,
		"mode":    gin.Mode(),
	}).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Shutdown корректное завершение сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// healthCheck состояние сервиса и его зависимостей
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":         status,
		"timestamp":      time.Now().Unix(),
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"flights":        s.processor.Registry().Len(),
		"processor":      s.processor.Stats(),
		"dependencies":   deps,
	})
}

// ==================== Middleware ====================

// LoggerMiddleware логирование запросов
func LoggerMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.WithFields(fields).Warn("HTTP request failed")
			return
		}
		logger.WithFields(fields).Debug("HTTP request completed")
	}
}

// CORSMiddleware настройка CORS
func CORSMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// clientLimiters лимитеры по IP клиента
type clientLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*clientLimiter
	lastGC   time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Лимитер клиента без запросов дольше этого удаляется
const limiterIdleTTL = 10 * time.Minute

func (l *clientLimiters) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > limiterIdleTTL {
		for key, cl := range l.limiters {
			if now.Sub(cl.lastSeen) > limiterIdleTTL {
				delete(l.limiters, key)
			}
		}
		l.lastGC = now
	}

	cl, ok := l.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// RateLimitMiddleware ограничение частоты запросов на клиента
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	limiters := &clientLimiters{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*clientLimiter),
		lastGC:   time.Now(),
	}

	return func(c *gin.Context) {
		if !limiters.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "rate_limit_exceeded",
				"message": "Too many requests",
			})
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware заголовки безопасности
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
