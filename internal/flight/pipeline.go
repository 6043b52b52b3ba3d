// Package flight собирает этапы обработки полета в фиксированный конвейер
// и отвечает на запросы к готовому результату.
package flight

import (
	"errors"
	"fmt"

	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/footprint"
	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/segment"
	"github.com/flybeeper/drone-footprint/internal/smoothing"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// Config параметры конвейера
type Config struct {
	Rules   models.RuleConfig
	Camera  models.CameraModel
	Terrain elevation.Terrain
}

// Run состояние одного прогона конвейера
type Run struct {
	FlightID       string
	Store          *telemetry.SampleStore
	AltitudeOffset func(pos int) float64

	// Projector с рельефом, привязанным к зоне UTM полета
	Projector *footprint.Projector

	Steps        []models.Step
	Legs         []models.Leg
	Segmentation *segment.Result
	Outcomes     map[footprint.Outcome]int // итог по шагам после повторной проекции
	Reprojected  map[footprint.Outcome]int
	Refined      map[string]int
	Summary      Summary

	stepOutcomes []footprint.Outcome
}

// Pipeline конвейер: сглаживание, пятна, галсы, уточнение, повторные пятна, сводка
type Pipeline struct {
	cfg       Config
	projector *footprint.Projector
	chain     *Chain
	logger    *utils.Logger
}

// NewPipeline проверяет конфигурацию и собирает цепочку этапов
func NewPipeline(cfg Config, logger *utils.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = utils.Default()
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	if err := cfg.Camera.Validate(); err != nil {
		return nil, fmt.Errorf("invalid camera %q: %w", cfg.Camera.Name, err)
	}
	cfg.Rules = cfg.Rules.ForCamera(cfg.Camera)

	projector := footprint.NewProjector(cfg.Camera, cfg.Terrain, footprint.Options{
		UseGimbalData:         cfg.Rules.UseGimbalData,
		CameraDownOverrideDeg: cfg.Rules.CameraDownOverrideDeg,
	})

	p := &Pipeline{
		cfg:       cfg,
		projector: projector,
		chain:     NewChain(logger),
		logger:    logger,
	}

	p.chain.AddStage(&smoothStage{smoother: smoothing.NewSmoother(cfg.Rules, logger)})
	p.chain.AddStage(&projectStage{})
	p.chain.AddStage(&segmentStage{
		segmenter: segment.NewSegmenter(cfg.Rules, logger),
		strict:    cfg.Rules.StrictInvariants,
		logger:    logger,
	})
	p.chain.AddStage(&refineStage{rules: cfg.Rules, logger: logger})
	p.chain.AddStage(&reprojectStage{})
	p.chain.AddStage(&summarizeStage{})

	return p, nil
}

// Config конфигурация конвейера
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Projector проектор пятен конвейера
func (p *Pipeline) Projector() *footprint.Projector {
	return p.projector
}

// Process прогоняет весь конвейер по сэмплам полета.
// Результат неизменяемый; повторная обработка создает новый Flight.
func (p *Pipeline) Process(id string, store *telemetry.SampleStore) (*Flight, error) {
	return p.process(id, store, nil)
}

func (p *Pipeline) process(id string, store *telemetry.SampleStore, correction *GroundCorrection) (*Flight, error) {
	run := &Run{FlightID: id, Store: store, Projector: p.projectorFor(id, store)}
	if correction != nil {
		run.AltitudeOffset = correction.offsetFunc(store)
	}

	watch, err := p.chain.Run(run)
	if err != nil {
		metrics.FlightsProcessed.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.FlightsProcessed.WithLabelValues("success").Inc()

	f := newFlight(run, watch, p, correction)

	p.logger.WithFields(map[string]interface{}{
		"flight_id":   id,
		"steps":       len(f.Steps),
		"legs":        len(f.Legs),
		"synthetic":   f.Synthetic,
		"duration_ms": watch.Total.Milliseconds(),
	}).Info("Flight processed")

	return f, nil
}

// projectorFor привязывает рельеф к зоне полета. Полет в другой зоне,
// чем сетки рельефа, обрабатывается без рельефа.
func (p *Pipeline) projectorFor(id string, store *telemetry.SampleStore) *footprint.Projector {
	zone, fixed := store.Projection().Zone()
	if !fixed {
		return p.projector
	}

	log := p.logger.WithField("flight_id", id).WithField("utm_zone", zone.String())
	if natural, ok := naturalZone(store); ok && natural != zone {
		log.WithField("natural_zone", natural.String()).Warn("Flight starts outside its projection zone")
	}

	terrain, err := p.cfg.Terrain.ForZone(zone)
	if err != nil {
		metrics.TerrainZoneMismatch.Inc()
		log.WithError(err).Warn("Terrain is not usable for this flight")
	}
	return p.projector.WithTerrain(terrain)
}

// naturalZone зона первой точки с координатами
func naturalZone(store *telemetry.SampleStore) (geo.UTM, bool) {
	for i := 0; i < store.Len(); i++ {
		if loc := store.At(i).Location; loc != nil {
			return geo.ZoneFor(*loc), true
		}
	}
	return geo.UTM{}, false
}

type smoothStage struct {
	smoother *smoothing.Smoother
}

func (s *smoothStage) Name() string        { return "smooth" }
func (s *smoothStage) Description() string { return "Weighted window smoothing of raw samples" }

func (s *smoothStage) Apply(run *Run) error {
	if run.Store.Len() == 0 {
		run.Steps = []models.Step{}
		return nil
	}
	steps, err := s.smoother.Smooth(run.Store, run.AltitudeOffset)
	if err != nil {
		return err
	}
	run.Steps = steps
	return nil
}

type projectStage struct{}

func (s *projectStage) Name() string        { return "project" }
func (s *projectStage) Description() string { return "Terrain lookup and footprint of every step" }

func (s *projectStage) Apply(run *Run) error {
	run.stepOutcomes, run.Outcomes = run.Projector.ProjectAll(run.Steps)
	return nil
}

type segmentStage struct {
	segmenter *segment.Segmenter
	strict    bool
	logger    *utils.Logger
}

func (s *segmentStage) Name() string        { return "segment" }
func (s *segmentStage) Description() string { return "Two-phase leg segmentation" }

func (s *segmentStage) Apply(run *Run) error {
	result, err := s.segmenter.Segment(run.Steps)
	if err != nil {
		return err
	}

	if err := segment.Verify(run.Steps, result.Legs); err != nil {
		var ie *models.InvariantError
		if errors.As(err, &ie) {
			metrics.InvariantViolations.WithLabelValues(ie.Stage, ie.Field).Inc()
		}
		if s.strict {
			return err
		}
		// Без галсов: как до сегментации
		s.logger.WithField("flight_id", run.FlightID).WithError(err).Warn("Leg verification failed, dropping legs")
		for i := range run.Steps {
			run.Steps[i].LegID = 0
		}
		result.Legs = nil
	}

	run.Segmentation = result
	run.Legs = result.Legs
	return nil
}

type refineStage struct {
	rules  models.RuleConfig
	logger *utils.Logger
}

func (s *refineStage) Name() string        { return "refine" }
func (s *refineStage) Description() string { return "Linear or spline location refinement inside legs" }

func (s *refineStage) Apply(run *Run) error {
	if run.Segmentation != nil && run.Segmentation.Synthetic {
		run.Refined = map[string]int{RefineSkipped: len(run.Legs)}
		return nil
	}

	refined, err := refineLegs(run.Steps, run.Legs, s.rules)
	if err != nil {
		s.logger.WithField("flight_id", run.FlightID).WithError(err).Warn("Leg refinement failed, keeping smoothed locations")
	}
	run.Refined = refined
	smoothing.Derive(run.Steps)
	segment.RefreshLineal(run.Legs, run.Steps)

	if s.logger.IsDebug() {
		s.logger.WithField("flight_id", run.FlightID).
			WithField("linear", run.Refined[RefineLinear]).
			WithField("spline", run.Refined[RefineSpline]).
			WithField("skipped", run.Refined[RefineSkipped]).
			Debug("Refined leg locations")
	}
	return nil
}

type reprojectStage struct{}

func (s *reprojectStage) Name() string        { return "reproject" }
func (s *reprojectStage) Description() string { return "Footprints of refined steps inside legs" }

func (s *reprojectStage) Apply(run *Run) error {
	counts := make(map[footprint.Outcome]int)
	for i := range run.Steps {
		if run.Steps[i].LegID == 0 {
			continue
		}
		outcome := run.Projector.ProjectStep(&run.Steps[i], counts)
		if i < len(run.stepOutcomes) {
			run.replaceOutcome(i, outcome)
		}
	}
	run.Reprojected = counts
	return nil
}

// replaceOutcome переносит шаг pos в итоговых счетчиках на новый результат
func (run *Run) replaceOutcome(pos int, outcome footprint.Outcome) {
	old := run.stepOutcomes[pos]
	if old == outcome {
		return
	}
	run.stepOutcomes[pos] = outcome
	if run.Outcomes == nil {
		run.Outcomes = make(map[footprint.Outcome]int)
	}
	run.Outcomes[outcome]++
	if run.Outcomes[old]--; run.Outcomes[old] <= 0 {
		delete(run.Outcomes, old)
	}
}

type summarizeStage struct{}

func (s *summarizeStage) Name() string        { return "summarize" }
func (s *summarizeStage) Description() string { return "Whole-flight summary statistics" }

func (s *summarizeStage) Apply(run *Run) error {
	from, to := timeSpan(run.Steps)
	run.Summary = summarize(run.Steps, run.Legs, from, to, run.Store.Projection())
	return nil
}

func timeSpan(steps []models.Step) (int64, int64) {
	if len(steps) == 0 {
		return 0, 0
	}
	return steps[0].SumTimeMs, steps[len(steps)-1].SumTimeMs
}
