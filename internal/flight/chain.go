package flight

import (
	"fmt"
	"time"

	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// Stage один этап конвейера обработки полета
type Stage interface {
	// Apply выполняет этап над состоянием прогона
	Apply(run *Run) error

	// Name возвращает имя этапа
	Name() string

	// Description возвращает описание этапа
	Description() string
}

// StageTiming длительность одного этапа
type StageTiming struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// Stopwatch длительности этапов одного прогона
type Stopwatch struct {
	Stages []StageTiming `json:"stages"`
	Total  time.Duration `json:"total_ns"`
}

func (s *Stopwatch) record(stage string, d time.Duration) {
	s.Stages = append(s.Stages, StageTiming{Stage: stage, Duration: d})
	s.Total += d
}

// Of длительность этапа по имени
func (s Stopwatch) Of(stage string) (time.Duration, bool) {
	for _, st := range s.Stages {
		if st.Stage == stage {
			return st.Duration, true
		}
	}
	return 0, false
}

// Chain цепочка этапов в фиксированном порядке.
// Этапы зависят друг от друга, поэтому ошибка этапа прерывает прогон.
type Chain struct {
	stages []Stage
	logger *utils.Logger
}

// NewChain создает пустую цепочку
func NewChain(logger *utils.Logger) *Chain {
	return &Chain{
		stages: make([]Stage, 0),
		logger: logger,
	}
}

// AddStage добавляет этап в конец цепочки
func (c *Chain) AddStage(stage Stage) {
	c.stages = append(c.stages, stage)
}

// Run применяет все этапы по порядку
func (c *Chain) Run(run *Run) (Stopwatch, error) {
	var watch Stopwatch

	c.logger.WithField("flight_id", run.FlightID).
		WithField("samples", run.Store.Len()).
		WithField("stages", len(c.stages)).
		Debug("Starting flight processing")

	for _, stage := range c.stages {
		start := time.Now()
		err := stage.Apply(run)
		duration := time.Since(start)

		watch.record(stage.Name(), duration)
		metrics.StageDuration.WithLabelValues(stage.Name()).Observe(duration.Seconds())

		if err != nil {
			c.logger.WithField("flight_id", run.FlightID).
				WithField("stage", stage.Name()).
				WithError(err).
				Error("Stage failed")
			return watch, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}

		c.logger.WithField("flight_id", run.FlightID).
			WithField("stage", stage.Name()).
			WithField("duration_ms", duration.Milliseconds()).
			Debug("Stage applied")
	}

	return watch, nil
}

// Description перечисляет этапы
func (c *Chain) Description() string {
	names := make([]string, len(c.stages))
	for i, stage := range c.stages {
		names[i] = stage.Name()
	}
	return fmt.Sprintf("Chain of stages: %v", names)
}
