package smoothing

import (
	"fmt"

	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
)

// Допуски выхода сглаженных экстремумов за сырые
const (
	LocationEpsilonM = 0.3
	AltitudeEpsilonM = 0.3
	LinealEpsilonM   = 0.3
	SpeedEpsilonMps  = 0.5
	PitchEpsilonDeg  = 1.0
	DeltaYawEpsilon  = 3.0
)

// Группы полей, откатываемые вместе
const (
	groupLocation = "location"
	groupAltitude = "altitude"
	groupPitch    = "pitch"
	groupYaw      = "yaw"
)

type extrema struct {
	northing, easting, lineal, speed telemetry.Range
	altitude, pitch, deltaYaw        telemetry.Range
}

func extremaOf(steps []models.Step) extrema {
	var e extrema
	for i := range steps {
		s := &steps[i]
		if s.LocationM != nil {
			e.northing.Observe(models.Known(s.LocationM.Northing))
			e.easting.Observe(models.Known(s.LocationM.Easting))
		}
		e.lineal.Observe(s.SumLinealM)
		e.speed.Observe(s.SpeedMps)
		e.altitude.Observe(s.AltitudeM)
		e.pitch.Observe(s.PitchDeg)
		e.deltaYaw.Observe(s.DeltaYawDeg)
	}
	return e
}

type envelopeCheck struct {
	group, field string
	smoothed     telemetry.Range
	raw          telemetry.Range
	eps          float64
	checkMin     bool
}

// violation описание выхода за пределы или ""
func (c envelopeCheck) violation() string {
	if v, ok := c.smoothed.Max.Get(); ok {
		if r, okRaw := c.raw.Max.Get(); okRaw && v > r+c.eps {
			return fmt.Sprintf("max %.3f exceeds raw max %.3f by more than %.2f", v, r, c.eps)
		}
	}
	if !c.checkMin {
		return ""
	}
	if v, ok := c.smoothed.Min.Get(); ok {
		if r, okRaw := c.raw.Min.Get(); okRaw && v < r-c.eps {
			return fmt.Sprintf("min %.3f below raw min %.3f by more than %.2f", v, r, c.eps)
		}
	}
	return ""
}

// enforceEnvelope сглаживание не должно выводить значения за сырые экстремумы.
// В строгом режиме нарушение возвращается ошибкой, иначе вся группа полей
// возвращается к сырым значениям.
func (s *Smoother) enforceEnvelope(raw []models.Section, steps []models.Step) error {
	rawSteps := make([]models.Step, len(raw))
	for i := range raw {
		rawSteps[i] = baseStep(raw[i], i)
	}
	Derive(rawSteps)

	got, want := extremaOf(steps), extremaOf(rawSteps)
	checks := []envelopeCheck{
		{groupLocation, "northing", got.northing, want.northing, LocationEpsilonM, true},
		{groupLocation, "easting", got.easting, want.easting, LocationEpsilonM, true},
		{groupLocation, "sum_lineal", got.lineal, want.lineal, LinealEpsilonM, false},
		{groupLocation, "speed", got.speed, want.speed, SpeedEpsilonMps, false},
		{groupAltitude, "altitude", got.altitude, want.altitude, AltitudeEpsilonM, true},
		{groupPitch, "pitch", got.pitch, want.pitch, PitchEpsilonDeg, true},
		{groupYaw, "delta_yaw", got.deltaYaw, want.deltaYaw, DeltaYawEpsilon, true},
	}

	revert := map[string]bool{}
	for _, c := range checks {
		detail := c.violation()
		if detail == "" {
			continue
		}
		if s.rules.StrictInvariants {
			return &models.InvariantError{Stage: "smoothing", Field: c.field, Detail: detail}
		}
		metrics.InvariantViolations.WithLabelValues("smoothing", c.field).Inc()
		s.logger.WithFields(map[string]interface{}{
			"field":  c.field,
			"group":  c.group,
			"detail": detail,
		}).Warn("Smoothing left raw envelope, reverting field group to raw values")
		revert[c.group] = true
	}

	if len(revert) == 0 {
		return nil
	}
	for i := range steps {
		r := &rawSteps[i]
		if revert[groupLocation] {
			steps[i].LocationM = r.LocationM
		}
		if revert[groupAltitude] {
			steps[i].AltitudeM = r.AltitudeM
		}
		if revert[groupPitch] {
			steps[i].PitchDeg = r.PitchDeg
		}
		if revert[groupYaw] {
			steps[i].YawDeg = r.YawDeg
		}
	}
	Derive(steps)
	return nil
}
