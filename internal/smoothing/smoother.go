// Package smoothing сглаживание высоты, положения и ориентации взвешенным окном.
package smoothing

import (
	"math"

	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// zeroSnap значения ближе к нулю приравниваются нулю (шум знака)
const zeroSnap = 0.001

// Smoother строит сглаженную последовательность шагов по сырым сэмплам
type Smoother struct {
	rules  models.RuleConfig
	logger *utils.Logger
}

// NewSmoother создает сглаживатель
func NewSmoother(rules models.RuleConfig, logger *utils.Logger) *Smoother {
	if logger == nil {
		logger = utils.Default()
	}
	return &Smoother{rules: rules, logger: logger}
}

// Weight вес соседа на расстоянии d позиций при радиусе r
func Weight(d, r int) float64 {
	if d == 0 {
		return 1
	}
	if r <= 0 {
		return 0
	}
	if d < 0 {
		d = -d
	}
	w := float64(r-d) / float64(r)
	return math.Max(0, math.Min(0.9, w))
}

// Smooth возвращает по одному шагу на сырой сэмпл.
// Высоты смещаются на altitudeOffset (коррекция опорной высоты), функция
// offset получает позицию сэмпла; nil = без смещения.
func (s *Smoother) Smooth(store *telemetry.SampleStore, altitudeOffset func(pos int) float64) ([]models.Step, error) {
	raw := store.Sections()
	if altitudeOffset != nil {
		for i := range raw {
			if alt, ok := raw[i].AltitudeM.Get(); ok {
				raw[i].AltitudeM = models.Known(alt + altitudeOffset(i))
			}
		}
	}

	steps := make([]models.Step, len(raw))
	for i := range raw {
		steps[i] = baseStep(raw[i], i)
	}

	radius := s.rules.SmoothingRadius
	for i := range raw {
		lo, hi := max(0, i-radius), min(len(raw)-1, i+radius)
		if s.hasLongSection(raw[lo : hi+1]) {
			continue
		}
		smoothAt(raw, steps, i, lo, hi, radius)
	}

	Derive(steps)

	if err := s.enforceEnvelope(raw, steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func (s *Smoother) hasLongSection(window []models.Section) bool {
	limit := s.rules.MaxSensibleSectionDurationMs
	if limit <= 0 {
		return false
	}
	for i := range window {
		if window[i].DurationMs > limit {
			return true
		}
	}
	return false
}

// baseStep шаг с сырыми значениями
func baseStep(sec models.Section, pos int) models.Step {
	step := models.Step{
		Index:      sec.Index,
		Position:   pos,
		SumTimeMs:  sec.SumTimeMs,
		DurationMs: sec.DurationMs,
		AltitudeM:  sec.AltitudeM,
		YawDeg:     sec.YawDeg,
		PitchDeg:   sec.PitchDeg,
		RollDeg:    sec.RollDeg,
		Zoom:       sec.Zoom.Or(1),
	}
	if sec.LocationM != nil {
		loc := *sec.LocationM
		step.LocationM = &loc
	}
	return step
}

type accumulator struct {
	sum, weight float64
}

func (a *accumulator) add(v, w float64) {
	a.sum += v * w
	a.weight += w
}

func (a accumulator) value() models.OptFloat {
	if a.weight <= 0 {
		return models.Unknown()
	}
	return models.Known(snap(a.sum / a.weight))
}

func smoothAt(raw []models.Section, steps []models.Step, i, lo, hi, radius int) {
	var alt, north, east, pitch, yaw accumulator
	var posYawW, negYawW float64

	for j := lo; j <= hi; j++ {
		w := Weight(j-i, radius)
		if w == 0 {
			continue
		}
		sec := &raw[j]
		if v, ok := sec.AltitudeM.Get(); ok {
			alt.add(v, w)
		}
		if sec.LocationM != nil {
			north.add(sec.LocationM.Northing, w)
			east.add(sec.LocationM.Easting, w)
		}
		if v, ok := sec.PitchDeg.Get(); ok {
			pitch.add(v, w)
		}
		if v, ok := sec.YawDeg.Get(); ok {
			yaw.add(v, w)
			if v > 0 {
				posYawW += w
			} else if v < 0 {
				negYawW += w
			}
		}
	}

	step := &steps[i]
	step.AltitudeM = alt.value()
	step.PitchDeg = pitch.value()

	n, okN := north.value().Get()
	e, okE := east.value().Get()
	if okN && okE {
		step.LocationM = &models.PlanarPoint{Northing: n, Easting: e}
	}

	// Через ±180 усреднять нельзя
	if !(posYawW > 0 && negYawW > 0) {
		step.YawDeg = yaw.value()
	}
}

func snap(v float64) float64 {
	if math.Abs(v) < zeroSnap {
		return 0
	}
	return v
}

// Derive пересчитывает производные поля шагов одним проходом вперед
func Derive(steps []models.Step) {
	motion := telemetry.DeriveMotion(trackOf(steps))
	for i := range steps {
		steps[i].SumLinealM = motion[i].SumLinealM
		steps[i].SpeedMps = motion[i].SpeedMps
		steps[i].DeltaYawDeg = motion[i].DeltaYawDeg
	}
}

func trackOf(steps []models.Step) []telemetry.TrackPoint {
	points := make([]telemetry.TrackPoint, len(steps))
	for i := range steps {
		points[i] = telemetry.TrackPoint{
			Location:   steps[i].LocationM,
			YawDeg:     steps[i].YawDeg,
			DurationMs: steps[i].DurationMs,
		}
	}
	return points
}
