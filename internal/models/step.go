package models

// Step сглаженный сэмпл с производными полями.
// Один к одному с Section; изменяется только конвейером обработки.
type Step struct {
	Index      int   `json:"index"`
	Position   int   `json:"position"` // Позиция в массиве шагов (и в хранилище)
	SumTimeMs  int64 `json:"sum_time_ms"`
	DurationMs int   `json:"duration_ms"`

	AltitudeM OptFloat     `json:"altitude_m"`
	LocationM *PlanarPoint `json:"location_m,omitempty"`
	YawDeg    OptFloat     `json:"yaw_deg"`
	PitchDeg  OptFloat     `json:"pitch_deg"`
	RollDeg   OptFloat     `json:"roll_deg"`
	Zoom      float64      `json:"zoom"`

	SumLinealM  OptFloat `json:"sum_lineal_m"`
	SpeedMps    OptFloat `json:"speed_mps"`
	DeltaYawDeg OptFloat `json:"delta_yaw_deg"`

	DemM OptFloat `json:"dem_m"`
	DsmM OptFloat `json:"dsm_m"`

	Footprint *Footprint `json:"footprint,omitempty"`

	LegID int `json:"leg_id"` // 0 = вне галса
}

// FootprintCenter центр пятна или nil
func (s *Step) FootprintCenter() *PlanarPoint {
	if s.Footprint == nil {
		return nil
	}
	c := s.Footprint.Center
	return &c
}

// AltitudeAboveTerrain высота над рельефом (DEM)
func (s *Step) AltitudeAboveTerrain() OptFloat {
	alt, ok := s.AltitudeM.Get()
	dem, okDem := s.DemM.Get()
	if !ok || !okDem {
		return Unknown()
	}
	return Known(alt - dem)
}

// Clone глубокая копия шага
func (s Step) Clone() Step {
	if s.LocationM != nil {
		loc := *s.LocationM
		s.LocationM = &loc
	}
	if s.Footprint != nil {
		fp := *s.Footprint
		s.Footprint = &fp
	}
	return s
}
