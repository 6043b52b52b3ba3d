package models

import (
	"fmt"
	"math"
	"strings"
)

// RuleConfig правила сегментации и сглаживания
type RuleConfig struct {
	MaxLegStepDeltaYawDeg float64 `yaml:"max_leg_step_delta_yaw_deg" json:"max_leg_step_delta_yaw_deg"`
	MaxLegSumDeltaYawDeg  float64 `yaml:"max_leg_sum_delta_yaw_deg" json:"max_leg_sum_delta_yaw_deg"`
	MaxLegSumPitchDeg     float64 `yaml:"max_leg_sum_pitch_deg" json:"max_leg_sum_pitch_deg"`
	MaxLegStepPitchDeg    float64 `yaml:"max_leg_step_pitch_deg" json:"max_leg_step_pitch_deg"`
	MinCameraDownDeg      float64 `yaml:"min_camera_down_deg" json:"min_camera_down_deg"`
	MaxLegGapDurationMs   int     `yaml:"max_leg_gap_duration_ms" json:"max_leg_gap_duration_ms"`
	MinLegDurationMs      int     `yaml:"min_leg_duration_ms" json:"min_leg_duration_ms"`
	MinLegDistanceM       float64 `yaml:"min_leg_distance_m" json:"min_leg_distance_m"`
	SmoothingRadius       int     `yaml:"smoothing_radius" json:"smoothing_radius"`
	UseGimbalData         bool    `yaml:"use_gimbal_data" json:"use_gimbal_data"`

	// Сэмпл длиннее этого ломает предположение о равномерном окне сглаживания
	MaxSensibleSectionDurationMs int `yaml:"max_sensible_section_duration_ms" json:"max_sensible_section_duration_ms"`

	// Отрезается с начала каждого галса (перецентровка подвеса после разворота)
	LegTrimMs int `yaml:"leg_trim_ms" json:"leg_trim_ms"`

	// Сокращение числа галсов
	MaxLegs        int     `yaml:"max_legs" json:"max_legs"`
	LegReduceStepM float64 `yaml:"leg_reduce_step_m" json:"leg_reduce_step_m"`
	LegReduceMaxM  float64 `yaml:"leg_reduce_max_m" json:"leg_reduce_max_m"`

	// Диапазон слотов для синтетического галса, когда нет данных ориентации.
	// RunToIndex <= 0 означает "до конца".
	RunFromIndex int `yaml:"run_from_index" json:"run_from_index"`
	RunToIndex   int `yaml:"run_to_index" json:"run_to_index"`

	// Уточнение положения внутри галса
	ConstantSpeedMaxCV  float64 `yaml:"constant_speed_max_cv" json:"constant_speed_max_cv"`
	SplineKnotSpacingMs int     `yaml:"spline_knot_spacing_ms" json:"spline_knot_spacing_ms"`

	// Фиксированный угол камеры вниз вместо данных подвеса
	CameraDownOverrideDeg *float64 `yaml:"camera_down_override_deg,omitempty" json:"camera_down_override_deg,omitempty"`

	// Нарушение инварианта: true = ошибка, false = откат к предыдущему значению
	StrictInvariants bool `yaml:"strict_invariants" json:"strict_invariants"`
}

// DefaultRuleConfig возвращает правила по умолчанию
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		MaxLegStepDeltaYawDeg:        10,
		MaxLegSumDeltaYawDeg:         20,
		MaxLegSumPitchDeg:            10,
		MaxLegStepPitchDeg:           15,
		MinCameraDownDeg:             45,
		MaxLegGapDurationMs:          2000,
		MinLegDurationMs:             3000,
		MinLegDistanceM:              15,
		SmoothingRadius:              5,
		UseGimbalData:                true,
		MaxSensibleSectionDurationMs: 1000,
		LegTrimMs:                    1000,
		MaxLegs:                      26,
		LegReduceStepM:               5,
		LegReduceMaxM:                50,
		ConstantSpeedMaxCV:           0.15,
		SplineKnotSpacingMs:          1000,
	}
}

// Validate проверяет корректность правил
func (r RuleConfig) Validate() error {
	if r.SmoothingRadius < 0 {
		return fmt.Errorf("smoothing_radius must not be negative")
	}
	if r.MaxLegStepDeltaYawDeg <= 0 || r.MaxLegSumDeltaYawDeg <= 0 {
		return fmt.Errorf("yaw thresholds must be positive")
	}
	if r.MaxLegSumPitchDeg <= 0 || r.MaxLegStepPitchDeg <= 0 {
		return fmt.Errorf("pitch thresholds must be positive")
	}
	if r.MinLegDurationMs < 0 || r.MinLegDistanceM < 0 || r.MaxLegGapDurationMs < 0 {
		return fmt.Errorf("leg thresholds must not be negative")
	}
	if r.MaxLegs <= 0 {
		return fmt.Errorf("max_legs must be positive")
	}
	if r.LegReduceStepM <= 0 || r.LegReduceMaxM < r.LegReduceStepM {
		return fmt.Errorf("leg reduction thresholds are inconsistent")
	}
	return nil
}

// ForCamera правила для конкретной камеры: ее порог угла вниз,
// если задан, заменяет общий
func (r RuleConfig) ForCamera(c CameraModel) RuleConfig {
	if c.MinCameraDownDeg > 0 {
		r.MinCameraDownDeg = c.MinCameraDownDeg
	}
	return r
}

// CameraModel калибровка камеры конкретной модели дрона
type CameraModel struct {
	Name             string  `yaml:"name" json:"name"`
	HFOVDeg          float64 `yaml:"hfov_deg" json:"hfov_deg"`
	VFOVDeg          float64 `yaml:"vfov_deg" json:"vfov_deg"` // 0 = по соотношению сторон
	ImageWidth       int     `yaml:"image_width" json:"image_width"`
	ImageHeight      int     `yaml:"image_height" json:"image_height"`
	DefaultDownDeg   float64 `yaml:"default_down_deg" json:"default_down_deg"`       // Без данных подвеса
	MinCameraDownDeg float64 `yaml:"min_camera_down_deg" json:"min_camera_down_deg"` // 0 = из правил
}

// DefaultCameraModel тепловизор 640x512 с HFOV 60°
func DefaultCameraModel() CameraModel {
	return CameraModel{
		Name:           "default",
		HFOVDeg:        60,
		ImageWidth:     640,
		ImageHeight:    512,
		DefaultDownDeg: 90,
	}
}

// Validate проверяет калибровку
func (c CameraModel) Validate() error {
	if c.HFOVDeg <= 0 || c.HFOVDeg >= 180 {
		return fmt.Errorf("camera %q: hfov_deg must be in (0, 180)", c.Name)
	}
	if c.VFOVDeg < 0 || c.VFOVDeg >= 180 {
		return fmt.Errorf("camera %q: vfov_deg must be in [0, 180)", c.Name)
	}
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		return fmt.Errorf("camera %q: image size must be positive", c.Name)
	}
	if c.MinCameraDownDeg < 0 || c.MinCameraDownDeg > 90 {
		return fmt.Errorf("camera %q: min_camera_down_deg must be in [0, 90]", c.Name)
	}
	return nil
}

// AspectRatio высота/ширина кадра
func (c CameraModel) AspectRatio() float64 {
	return float64(c.ImageHeight) / float64(c.ImageWidth)
}

// VerticalFOVDeg вертикальный угол обзора; выводится из HFOV, если не задан
func (c CameraModel) VerticalFOVDeg() float64 {
	if c.VFOVDeg > 0 {
		return c.VFOVDeg
	}
	half := c.HFOVDeg / 2 * math.Pi / 180
	return 2 * math.Atan(math.Tan(half)*c.AspectRatio()) * 180 / math.Pi
}

// GroundReference где дрон стоял на земле (для коррекции барометрического дрейфа)
type GroundReference int

const (
	OnGroundAtNeither GroundReference = iota
	OnGroundAtStart
	OnGroundAtEnd
	OnGroundAtBoth
)

// String текстовое представление
func (g GroundReference) String() string {
	switch g {
	case OnGroundAtStart:
		return "start"
	case OnGroundAtEnd:
		return "end"
	case OnGroundAtBoth:
		return "both"
	default:
		return "neither"
	}
}

// ParseGroundReference разбирает "start", "end", "both", "neither"
func ParseGroundReference(s string) (GroundReference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return OnGroundAtStart, nil
	case "end":
		return OnGroundAtEnd, nil
	case "both":
		return OnGroundAtBoth, nil
	case "neither", "none", "":
		return OnGroundAtNeither, nil
	}
	return OnGroundAtNeither, fmt.Errorf("unknown ground reference %q", s)
}

// MarshalText для JSON и YAML
func (g GroundReference) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText для JSON и YAML
func (g *GroundReference) UnmarshalText(text []byte) error {
	parsed, err := ParseGroundReference(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
