package segment

import (
	"fmt"
	"math"

	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
)

// Причины окончания галса
const (
	WhyNoMoreSteps      = "No more steps"
	WhyAttitudeMissing  = "Attitude data missing"
	WhyNoAttitudeData   = "No attitude data"
	whyYawFormat        = "Yaw change %.1f° exceeds %.1f°"
	whyPitchSumFormat   = "Pitch change %.1f° reached %.1f°"
	whyGapFormat        = "Gap of %d ms exceeds %d ms"
	whyStepPitchFormat  = "Pitch %.1f° reached %.1f°"
	whyCameraDownFormat = "Camera down %.1f° below %.1f°"
)

// canStart может ли шаг начать галс
func canStart(rules models.RuleConfig, s *models.Step) bool {
	pitch, okPitch := s.PitchDeg.Get()
	if !s.YawDeg.Valid || !okPitch {
		return false
	}
	// Курс первого шага с известным курсом дает дельту 0
	if math.Abs(s.DeltaYawDeg.Or(0)) >= rules.MaxLegStepDeltaYawDeg {
		return false
	}
	if rules.UseGimbalData {
		return math.Abs(pitch) >= rules.MinCameraDownDeg
	}
	return math.Abs(pitch) < rules.MaxLegStepPitchDeg
}

// endReason причина, по которой шаг s заканчивает галс, начатый в s0, или "".
// Правила проверяются в фиксированном порядке: курс, сумма тангажа,
// разрыв, тангаж шага (или угол камеры).
func endReason(rules models.RuleConfig, s0, s *models.Step) string {
	yaw, okYaw := s.YawDeg.Get()
	pitch, okPitch := s.PitchDeg.Get()
	if !okYaw || !okPitch {
		return WhyAttitudeMissing
	}

	yaw0, pitch0 := s0.YawDeg.Value, s0.PitchDeg.Value

	if drift := math.Abs(telemetry.NormalizeDeltaDeg(yaw - yaw0)); drift > rules.MaxLegSumDeltaYawDeg {
		return fmt.Sprintf(whyYawFormat, drift, rules.MaxLegSumDeltaYawDeg)
	}
	if drift := math.Abs(pitch0 - pitch); drift >= rules.MaxLegSumPitchDeg {
		return fmt.Sprintf(whyPitchSumFormat, drift, rules.MaxLegSumPitchDeg)
	}
	if s.DurationMs > rules.MaxLegGapDurationMs {
		return fmt.Sprintf(whyGapFormat, s.DurationMs, rules.MaxLegGapDurationMs)
	}
	if rules.UseGimbalData {
		if math.Abs(pitch) < rules.MinCameraDownDeg {
			return fmt.Sprintf(whyCameraDownFormat, math.Abs(pitch), rules.MinCameraDownDeg)
		}
	} else if math.Abs(pitch) >= rules.MaxLegStepPitchDeg {
		return fmt.Sprintf(whyStepPitchFormat, math.Abs(pitch), rules.MaxLegStepPitchDeg)
	}
	return ""
}

// span накопленные длительность и путь участка first..last (позиции)
func span(steps []models.Step, first, last int) (durationMs int64, linealM float64) {
	durationMs = steps[last].SumTimeMs - steps[first].SumTimeMs

	var lineal telemetry.Range
	for i := first; i <= last; i++ {
		lineal.Observe(steps[i].SumLinealM)
	}
	if lineal.Min.Valid {
		linealM = lineal.Max.Value - lineal.Min.Value
	}
	return durationMs, linealM
}

// meetsMinimum проходит ли участок пороги длительности и расстояния
func meetsMinimum(rules models.RuleConfig, steps []models.Step, first, last int) bool {
	d, l := span(steps, first, last)
	return d >= int64(rules.MinLegDurationMs) && l >= rules.MinLegDistanceM
}
