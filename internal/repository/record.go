package repository

import (
	"time"

	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/models"
)

// FlightRecord сохраняемая часть результата: без шагов, только галсы и сводка
type FlightRecord struct {
	ID              string           `json:"id"`
	ProcessedAt     time.Time        `json:"processed_at"`
	Steps           int              `json:"steps"`
	Synthetic       bool             `json:"synthetic"`
	GroundReference string           `json:"ground_reference"`
	Start           *models.GeoPoint `json:"start,omitempty"` // Первая известная точка полета
	Legs            []models.Leg     `json:"legs"`
	Summary         flight.Summary   `json:"summary"`
}

// NewFlightRecord запись по результату конвейера
func NewFlightRecord(f *flight.Flight) FlightRecord {
	rec := FlightRecord{
		ID:              f.ID,
		ProcessedAt:     f.ProcessedAt,
		Steps:           len(f.Steps),
		Synthetic:       f.Synthetic,
		GroundReference: models.OnGroundAtNeither.String(),
		Legs:            f.Legs,
		Summary:         f.Summary,
	}
	if f.Correction != nil {
		rec.GroundReference = f.Correction.Mode.String()
	}
	if store := f.Store(); store != nil {
		for i := 0; i < store.Len(); i++ {
			if loc := store.At(i).Location; loc != nil {
				start := *loc
				rec.Start = &start
				break
			}
		}
	}
	return rec
}

// LinealM пройденный путь полета, 0 если неизвестен
func (r FlightRecord) LinealM() float64 {
	return r.Summary.LinealM.Or(0)
}
