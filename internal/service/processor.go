package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

var (
	// ErrQueueFull очередь обработки заполнена
	ErrQueueFull = errors.New("processing queue is full")
	// ErrStopped процессор остановлен
	ErrStopped = errors.New("processor is stopped")
	// ErrFlightNotFound полета нет в реестре
	ErrFlightNotFound = errors.New("flight not found")
)

// Job один прогон конвейера для одного полета
type Job struct {
	FlightID        string
	Store           *telemetry.SampleStore
	DroneModel      string
	GroundReference models.GroundReference
	Submitted       time.Time
}

// Sink получатель готовых полетов (кэш, история)
type Sink interface {
	Name() string
	SaveFlight(ctx context.Context, f *flight.Flight) error
}

// ProcessorConfig конфигурация процессора
type ProcessorConfig struct {
	Workers    int           `json:"workers"`
	QueueSize  int           `json:"queue_size"`
	MaxRetries int           `json:"max_retries"` // Повторы записи в Sink
	RetryDelay time.Duration `json:"retry_delay"`
}

// DefaultProcessorConfig возвращает конфигурацию по умолчанию
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Workers:    4,
		QueueSize:  64,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
	}
}

// ProcessorStats счетчики процессора
type ProcessorStats struct {
	Queued     int64 `json:"queued"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
	SinkErrors int64 `json:"sink_errors"`
	QueueDepth int   `json:"queue_depth"`
}

// Processor очередь полетов и пул обработчиков
type Processor struct {
	pipelines *Pipelines
	registry  *Registry
	sinks     []Sink
	config    ProcessorConfig
	logger    *utils.Logger

	jobs    chan Job
	mu      sync.RWMutex // защищает stopped и закрытие jobs
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queued, processed, failed, rejected, sinkErrors atomic.Int64
}

// NewProcessor создает процессор и запускает обработчики
func NewProcessor(pipelines *Pipelines, registry *Registry, cfg ProcessorConfig, logger *utils.Logger, sinks ...Sink) (*Processor, error) {
	if pipelines == nil {
		return nil, fmt.Errorf("pipelines are required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		logger = utils.Default()
	}
	if cfg.Workers <= 0 || cfg.QueueSize <= 0 {
		return nil, fmt.Errorf("workers and queue size must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Processor{
		pipelines: pipelines,
		registry:  registry,
		sinks:     sinks,
		config:    cfg,
		logger:    logger,
		jobs:      make(chan Job, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	logger.WithFields(map[string]interface{}{
		"workers":    cfg.Workers,
		"queue_size": cfg.QueueSize,
		"sinks":      len(sinks),
	}).Info("Started flight processor")

	return p, nil
}

// Submit ставит полет в очередь, не блокируясь
func (p *Processor) Submit(job Job) error {
	if job.Store == nil {
		return fmt.Errorf("job for flight %s has no samples", job.FlightID)
	}
	if job.Submitted.IsZero() {
		job.Submitted = time.Now()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		p.queued.Add(1)
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		p.rejected.Add(1)
		return fmt.Errorf("%w: flight %s", ErrQueueFull, job.FlightID)
	}
}

func (p *Processor) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		if _, err := p.Process(p.ctx, job); err != nil {
			p.logger.WithFields(map[string]interface{}{
				"worker":    id,
				"flight_id": job.FlightID,
			}).WithError(err).Error("Flight processing failed")
		}
	}
}

// Process синхронно обрабатывает полет, сохраняет его в реестре и отдает в Sink
func (p *Processor) Process(ctx context.Context, job Job) (*flight.Flight, error) {
	pipeline, err := p.pipelines.Get(job.DroneModel)
	if err != nil {
		p.failed.Add(1)
		return nil, err
	}

	f, err := pipeline.Process(job.FlightID, job.Store)
	if err != nil {
		p.failed.Add(1)
		return nil, fmt.Errorf("process flight %s: %w", job.FlightID, err)
	}

	if job.GroundReference != models.OnGroundAtNeither {
		corrected, err := f.ApplyGroundReferenceCorrection(job.GroundReference)
		switch {
		case err == nil:
			f = corrected
		case errors.Is(err, models.ErrInsufficientData):
			p.logger.WithField("flight_id", job.FlightID).WithError(err).
				Warn("Ground reference correction skipped")
		default:
			p.failed.Add(1)
			return nil, fmt.Errorf("ground reference for flight %s: %w", job.FlightID, err)
		}
	}

	p.publish(ctx, f)
	p.processed.Add(1)

	if !job.Submitted.IsZero() {
		p.logger.WithFields(map[string]interface{}{
			"flight_id":  job.FlightID,
			"latency_ms": time.Since(job.Submitted).Milliseconds(),
		}).Debug("Flight job completed")
	}
	return f, nil
}

// ApplyGroundReference пересчитывает полет из реестра с новой опорной высотой
func (p *Processor) ApplyGroundReference(ctx context.Context, id string, mode models.GroundReference) (*flight.Flight, error) {
	f, ok := p.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFlightNotFound, id)
	}
	corrected, err := f.ApplyGroundReferenceCorrection(mode)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, corrected)
	return corrected, nil
}

func (p *Processor) publish(ctx context.Context, f *flight.Flight) {
	p.registry.Put(f)

	for _, sink := range p.sinks {
		err := p.retryOperation(ctx, func() error {
			return sink.SaveFlight(ctx, f)
		})
		if err != nil {
			p.sinkErrors.Add(1)
			p.logger.WithFields(map[string]interface{}{
				"flight_id": f.ID,
				"sink":      sink.Name(),
			}).WithError(err).Error("Failed to save flight")
		}
	}
}

// retryOperation выполняет операцию с повторами
func (p *Processor) retryOperation(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		p.logger.WithField("attempt", attempt+1).
			WithField("max_retries", p.config.MaxRetries).
			WithError(lastErr).
			Warn("Sink operation failed, retrying")
	}

	return fmt.Errorf("operation failed after %d retries: %w", p.config.MaxRetries, lastErr)
}

// Registry реестр полетов
func (p *Processor) Registry() *Registry {
	return p.registry
}

// Pipelines конвейеры по моделям
func (p *Processor) Pipelines() *Pipelines {
	return p.pipelines
}

// Stats счетчики процессора
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		Queued:     p.queued.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Rejected:   p.rejected.Load(),
		SinkErrors: p.sinkErrors.Load(),
		QueueDepth: len(p.jobs),
	}
}

// Stop перестает принимать задания, дорабатывает очередь и ждет обработчики
func (p *Processor) Stop() {
	p.logger.Info("Stopping flight processor...")

	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	metrics.QueueDepth.Set(0)

	p.logger.Info("Flight processor stopped")
}
