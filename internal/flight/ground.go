package flight

import (
	"fmt"

	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
)

// GroundCorrection смещение высот по опорной точке на земле.
// Delta = DEM минус сырая высота в опорной точке.
type GroundCorrection struct {
	Mode        models.GroundReference `json:"mode"`
	StartMs     int64                  `json:"start_ms"`
	EndMs       int64                  `json:"end_ms"`
	StartDeltaM float64                `json:"start_delta_m"`
	EndDeltaM   float64                `json:"end_delta_m"`
}

// OffsetAt смещение высоты в момент времени
func (c GroundCorrection) OffsetAt(ms int64) float64 {
	switch c.Mode {
	case models.OnGroundAtStart:
		return c.StartDeltaM
	case models.OnGroundAtEnd:
		return c.EndDeltaM
	case models.OnGroundAtBoth:
		if c.EndMs <= c.StartMs || ms <= c.StartMs {
			return c.StartDeltaM
		}
		if ms >= c.EndMs {
			return c.EndDeltaM
		}
		frac := float64(ms-c.StartMs) / float64(c.EndMs-c.StartMs)
		return c.StartDeltaM + frac*(c.EndDeltaM-c.StartDeltaM)
	default:
		return 0
	}
}

func (c *GroundCorrection) offsetFunc(store *telemetry.SampleStore) func(pos int) float64 {
	if c == nil || c.Mode == models.OnGroundAtNeither {
		return nil
	}
	return func(pos int) float64 {
		return c.OffsetAt(store.At(pos).SumTimeMs)
	}
}

// ApplyGroundReferenceCorrection пересчитывает полет с высотами, смещенными так,
// чтобы в опорной точке (начало, конец или обе) дрон стоял на рельефе.
// Смещение считается от сырых высот, поэтому повторное применение
// дает тот же результат. OnGroundAtNeither снимает коррекцию.
func (f *Flight) ApplyGroundReferenceCorrection(mode models.GroundReference) (*Flight, error) {
	if f.pipeline == nil || f.store == nil {
		return nil, fmt.Errorf("flight %s has no pipeline attached", f.ID)
	}
	if mode == models.OnGroundAtNeither {
		return f.pipeline.process(f.ID, f.store, nil)
	}

	correction, err := groundCorrection(f.store, f.Steps, mode)
	if err != nil {
		return nil, err
	}

	f.pipeline.logger.WithFields(map[string]interface{}{
		"flight_id":     f.ID,
		"mode":          mode.String(),
		"start_delta_m": correction.StartDeltaM,
		"end_delta_m":   correction.EndDeltaM,
	}).Info("Applying ground reference correction")

	return f.pipeline.process(f.ID, f.store, correction)
}

// groundCorrection опорные точки: первый и последний шаг, у которого известны
// и сырая высота, и DEM под шагом
func groundCorrection(store *telemetry.SampleStore, steps []models.Step, mode models.GroundReference) (*GroundCorrection, error) {
	first, last := -1, -1
	for i := range steps {
		if !steps[i].DemM.Valid || !store.At(i).AltitudeM.Valid {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return nil, fmt.Errorf("%w: no step with both altitude and terrain elevation", models.ErrInsufficientData)
	}

	delta := func(i int) float64 {
		return steps[i].DemM.Value - store.At(i).AltitudeM.Value
	}

	return &GroundCorrection{
		Mode:        mode,
		StartMs:     steps[first].SumTimeMs,
		EndMs:       steps[last].SumTimeMs,
		StartDeltaM: delta(first),
		EndDeltaM:   delta(last),
	}, nil
}
