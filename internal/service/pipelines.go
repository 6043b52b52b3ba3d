package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// ErrUnknownDroneModel нет калибровки камеры для модели дрона
var ErrUnknownDroneModel = errors.New("unknown drone model")

// Pipelines конвейеры по моделям дронов; собираются при первом обращении
type Pipelines struct {
	rules        models.RuleConfig
	cameras      config.CameraTable
	terrain      elevation.Terrain
	defaultModel string
	logger       *utils.Logger

	mu      sync.Mutex
	byModel map[string]*flight.Pipeline
}

// NewPipelines создает набор конвейеров
func NewPipelines(rules models.RuleConfig, cameras config.CameraTable, terrain elevation.Terrain, defaultModel string, logger *utils.Logger) (*Pipelines, error) {
	if logger == nil {
		logger = utils.Default()
	}
	if _, ok := cameras.Camera(defaultModel); !ok {
		return nil, fmt.Errorf("%w: default model %q not in camera table %v", ErrUnknownDroneModel, defaultModel, cameras.Names())
	}
	return &Pipelines{
		rules:        rules,
		cameras:      cameras,
		terrain:      terrain,
		defaultModel: defaultModel,
		logger:       logger,
		byModel:      make(map[string]*flight.Pipeline),
	}, nil
}

// Get конвейер для модели; пустая модель означает модель по умолчанию
func (p *Pipelines) Get(model string) (*flight.Pipeline, error) {
	if model == "" {
		model = p.defaultModel
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pl, ok := p.byModel[model]; ok {
		return pl, nil
	}

	cam, ok := p.cameras.Camera(model)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDroneModel, model)
	}

	pl, err := flight.NewPipeline(flight.Config{
		Rules:   p.rules,
		Camera:  cam,
		Terrain: p.terrain,
	}, p.logger.WithField("drone_model", model))
	if err != nil {
		return nil, err
	}
	p.byModel[model] = pl
	return pl, nil
}

// Models известные модели дронов
func (p *Pipelines) Models() []string {
	return p.cameras.Names()
}

// Terrain рельеф, общий для всех конвейеров
func (p *Pipelines) Terrain() elevation.Terrain {
	return p.terrain
}

// NewStore хранилище сэмплов нового полета. Если сетки рельефа заданы
// в фиксированной зоне UTM, проекция полета привязывается к ней.
func (p *Pipelines) NewStore() *telemetry.SampleStore {
	if p.terrain.Zone != nil {
		return telemetry.NewSampleStoreWithProjection(geo.NewProjectionInZone(*p.terrain.Zone))
	}
	return telemetry.NewSampleStore()
}
