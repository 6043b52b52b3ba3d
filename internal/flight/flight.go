package flight

import (
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/flybeeper/drone-footprint/internal/footprint"
	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
)

// Flight полный результат одного прогона конвейера.
// После создания не изменяется, поэтому безопасен для чтения из разных горутин.
type Flight struct {
	ID          string                    `json:"id"`
	Steps       []models.Step             `json:"steps"`
	Legs        []models.Leg              `json:"legs"`
	Synthetic   bool                      `json:"synthetic"`
	Correction  *GroundCorrection         `json:"ground_correction,omitempty"`
	Summary     Summary                   `json:"summary"`
	Outcomes    map[footprint.Outcome]int `json:"footprint_outcomes"`
	Refined     map[string]int            `json:"refined_legs"`
	Timings     Stopwatch                 `json:"timings"`
	ProcessedAt time.Time                 `json:"processed_at"`

	store    *telemetry.SampleStore
	pipeline *Pipeline
	index    *geo.QuadTree
}

func newFlight(run *Run, watch Stopwatch, p *Pipeline, correction *GroundCorrection) *Flight {
	f := &Flight{
		ID:          run.FlightID,
		Steps:       run.Steps,
		Legs:        run.Legs,
		Correction:  correction,
		Summary:     run.Summary,
		Outcomes:    run.Outcomes,
		Refined:     run.Refined,
		Timings:     watch,
		ProcessedAt: time.Now(),
		store:       run.Store,
		pipeline:    p,
	}
	if run.Segmentation != nil {
		f.Synthetic = run.Segmentation.Synthetic
	}
	if f.Legs == nil {
		f.Legs = []models.Leg{}
	}
	f.index = buildIndex(f.Steps)
	return f
}

func buildIndex(steps []models.Step) *geo.QuadTree {
	var bound orb.Bound
	found := false
	for i := range steps {
		fp := steps[i].Footprint
		if fp == nil {
			continue
		}
		if !found {
			bound = fp.Bound()
			found = true
			continue
		}
		bound = bound.Union(fp.Bound())
	}
	if !found {
		return nil
	}

	qt := geo.NewQuadTree(bound.Pad(1))
	for i := range steps {
		if fp := steps[i].Footprint; fp != nil {
			qt.Insert(geo.Item{ID: i, Bound: fp.Bound()})
		}
	}
	return qt
}

// Store исходные сэмплы полета
func (f *Flight) Store() *telemetry.SampleStore {
	return f.store
}

// Projection проекция полета, nil если координат не было
func (f *Flight) Projection() *geo.Projection {
	if f.store == nil {
		return nil
	}
	return f.store.Projection()
}

// Step шаг по позиции
func (f *Flight) Step(pos int) (models.Step, bool) {
	if pos < 0 || pos >= len(f.Steps) {
		return models.Step{}, false
	}
	return f.Steps[pos].Clone(), true
}

// NearestStepByTime шаг с ближайшим временем; при равенстве более ранний
func (f *Flight) NearestStepByTime(ms int64) (models.Step, bool) {
	n := len(f.Steps)
	if n == 0 {
		return models.Step{}, false
	}
	i := sort.Search(n, func(i int) bool { return f.Steps[i].SumTimeMs >= ms })
	switch {
	case i == n:
		i = n - 1
	case i > 0 && ms-f.Steps[i-1].SumTimeMs <= f.Steps[i].SumTimeMs-ms:
		i = i - 1
		// среди равных по времени берем первый
		for i > 0 && f.Steps[i-1].SumTimeMs == f.Steps[i].SumTimeMs {
			i--
		}
	}
	return f.Steps[i].Clone(), true
}

// StepAtOrBefore последний шаг со временем не позже ms
func (f *Flight) StepAtOrBefore(ms int64) (models.Step, bool) {
	i := sort.Search(len(f.Steps), func(i int) bool { return f.Steps[i].SumTimeMs > ms }) - 1
	if i < 0 {
		return models.Step{}, false
	}
	return f.Steps[i].Clone(), true
}

// FrameStep шаг, в интервал которого попадает кадр видео с отметкой frameMs.
// Шаг покрывает время от предыдущего шага (не включая) до своего SumTimeMs.
func (f *Flight) FrameStep(frameMs int64) (models.Step, bool) {
	n := len(f.Steps)
	i := sort.Search(n, func(i int) bool { return f.Steps[i].SumTimeMs >= frameMs })
	if i == n {
		return models.Step{}, false
	}
	return f.Steps[i].Clone(), true
}

// LegsOverlapping первый и последний галс, пересекающиеся с интервалом времени
func (f *Flight) LegsOverlapping(fromMs, toMs int64) (first, last int, ok bool) {
	if fromMs > toMs {
		fromMs, toMs = toMs, fromMs
	}
	for _, leg := range f.Legs {
		if !leg.OverlapsTime(fromMs, toMs) {
			continue
		}
		if !ok {
			first = leg.ID
			ok = true
		}
		last = leg.ID
	}
	return first, last, ok
}

// Leg галс по идентификатору
func (f *Flight) Leg(id int) (models.Leg, bool) {
	if id < 1 || id > len(f.Legs) {
		return models.Leg{}, false
	}
	return f.Legs[id-1], true
}

// LegForStep галс, которому принадлежит шаг
func (f *Flight) LegForStep(pos int) (models.Leg, bool) {
	if pos < 0 || pos >= len(f.Steps) {
		return models.Leg{}, false
	}
	return f.Leg(f.Steps[pos].LegID)
}

// StepsCovering позиции шагов, пятно которых содержит точку, по возрастанию
func (f *Flight) StepsCovering(p models.PlanarPoint) []int {
	if f.index == nil {
		return nil
	}
	items := f.index.QueryPoint(p.Orb())
	positions := make([]int, 0, len(items))
	for _, item := range items {
		if fp := f.Steps[item.ID].Footprint; fp != nil && fp.Contains(p) {
			positions = append(positions, item.ID)
		}
	}
	sort.Ints(positions)
	return positions
}

// Locate положение на земле точки кадра (доли h, v) для шага
func (f *Flight) Locate(pos int, h, v float64, blockOffset models.PlanarPoint) (footprint.Location, bool) {
	if pos < 0 || pos >= len(f.Steps) {
		return footprint.Location{}, false
	}
	step := f.Steps[pos]
	return footprint.Locate(&step, h, v, blockOffset, f.Projection())
}

// PercentAltitudeBelowTerrain доля шагов (в процентах) с высотой заметно ниже рельефа.
// Большое значение обычно означает неверную опорную высоту.
func (f *Flight) PercentAltitudeBelowTerrain() float64 {
	return percentBelowTerrain(f.Steps)
}

// Summarize сводка по интервалу времени
func (f *Flight) Summarize(fromMs, toMs int64) Summary {
	if fromMs > toMs {
		fromMs, toMs = toMs, fromMs
	}
	return summarize(f.Steps, f.Legs, fromMs, toMs, f.Projection())
}

// Reprocess прогоняет конвейер заново с другой конфигурацией,
// сохраняя коррекцию опорной высоты
func (f *Flight) Reprocess(p *Pipeline) (*Flight, error) {
	return p.process(f.ID, f.store, f.Correction)
}
