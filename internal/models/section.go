package models

import (
	"fmt"
	"time"
)

// Section сырой сэмпл телеметрии в одном временном слоте
type Section struct {
	Index       int           `json:"index"`              // Номер временного слота (монотонный, с пропусками)
	Timestamp   time.Duration `json:"timestamp"`          // От начала полета
	Location    *GeoPoint     `json:"location,omitempty"` // nil если GPS нет
	AltitudeM   OptFloat      `json:"altitude_m"`
	YawDeg      OptFloat      `json:"yaw_deg"`
	PitchDeg    OptFloat      `json:"pitch_deg"`
	RollDeg     OptFloat      `json:"roll_deg"`
	FocalLength OptFloat      `json:"focal_length"`
	Zoom        OptFloat      `json:"zoom"`
	DurationMs  int           `json:"duration_ms"` // С предыдущего сэмпла

	// Заполняются хранилищем при добавлении
	LocationM *PlanarPoint `json:"location_m,omitempty"`
	SumTimeMs int64        `json:"sum_time_ms"`
}

// Validate проверяет обязательные поля сэмпла
func (s Section) Validate() error {
	if s.DurationMs < 0 {
		return fmt.Errorf("negative duration %d ms", s.DurationMs)
	}
	if s.Location != nil {
		if err := s.Location.Validate(); err != nil {
			return err
		}
	}
	fields := map[string]OptFloat{
		"altitude":     s.AltitudeM,
		"yaw":          s.YawDeg,
		"pitch":        s.PitchDeg,
		"roll":         s.RollDeg,
		"focal_length": s.FocalLength,
		"zoom":         s.Zoom,
	}
	for name, v := range fields {
		if !v.Finite() {
			return fmt.Errorf("%s is not finite", name)
		}
	}
	if z, ok := s.Zoom.Get(); ok && z < 1 {
		return fmt.Errorf("zoom %.2f below 1", z)
	}
	return nil
}

// HasAttitude есть ли и yaw, и pitch
func (s Section) HasAttitude() bool {
	return s.YawDeg.Valid && s.PitchDeg.Valid
}
