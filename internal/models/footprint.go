package models

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Footprint область земли, видимая в одном кадре
type Footprint struct {
	Center              PlanarPoint    `json:"center"`
	SizeM               Size           `json:"size_m"`
	Corners             [4]PlanarPoint `json:"corners"` // верх-лево, верх-право, низ-право, низ-лево кадра
	YawDeg              float64        `json:"yaw_deg"`
	CameraToVerticalDeg float64        `json:"camera_to_vertical_deg"`
	TerrainCorrected    bool           `json:"terrain_corrected"`
}

// Ring замкнутое кольцо углов
func (f Footprint) Ring() orb.Ring {
	ring := make(orb.Ring, 0, 5)
	for _, c := range f.Corners {
		ring = append(ring, c.Orb())
	}
	return append(ring, f.Corners[0].Orb())
}

// Polygon полигон пятна
func (f Footprint) Polygon() orb.Polygon {
	return orb.Polygon{f.Ring()}
}

// Bound ограничивающий прямоугольник
func (f Footprint) Bound() orb.Bound {
	return f.Ring().Bound()
}

// Contains попадает ли точка внутрь пятна
func (f Footprint) Contains(p PlanarPoint) bool {
	return planar.RingContains(f.Ring(), p.Orb())
}

// Area площадь пятна в м²
func (f Footprint) Area() float64 {
	return math.Abs(planar.Area(f.Polygon()))
}
