package telemetry

import (
	"math"

	"github.com/flybeeper/drone-footprint/internal/models"
)

// TrackPoint минимальный набор полей для расчета движения
type TrackPoint struct {
	Location   *models.PlanarPoint
	YawDeg     models.OptFloat
	DurationMs int
}

// Motion производные поля одного шага
type Motion struct {
	SumLinealM  models.OptFloat
	SpeedMps    models.OptFloat
	DeltaYawDeg models.OptFloat
}

// DeriveMotion один проход вперед: накопленный путь, скорость, изменение курса.
// Одна и та же функция используется для сырых и сглаженных данных, поэтому
// их экстремумы сравнимы напрямую.
func DeriveMotion(points []TrackPoint) []Motion {
	out := make([]Motion, len(points))

	sumLineal := 0.0
	var lastLoc *models.PlanarPoint
	var lastYaw models.OptFloat

	for i := range points {
		p := &points[i]

		if p.Location != nil {
			if lastLoc != nil {
				dist := lastLoc.DistanceTo(*p.Location)
				sumLineal += dist
				if p.DurationMs > 0 && i > 0 && points[i-1].Location != nil {
					out[i].SpeedMps = models.Known(dist / (float64(p.DurationMs) / 1000))
				}
			} else {
				out[i].SpeedMps = models.Known(0)
			}
			out[i].SumLinealM = models.Known(sumLineal)
			lastLoc = p.Location
		}

		if yaw, ok := p.YawDeg.Get(); ok {
			if prev, okPrev := lastYaw.Get(); okPrev {
				out[i].DeltaYawDeg = models.Known(NormalizeDeltaDeg(yaw - prev))
			} else {
				out[i].DeltaYawDeg = models.Known(0)
			}
			lastYaw = p.YawDeg
		}
	}

	return out
}

// NormalizeDeltaDeg приводит разность углов к (-180, 180]
func NormalizeDeltaDeg(d float64) float64 {
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}
