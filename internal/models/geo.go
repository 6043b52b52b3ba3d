package models

import (
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
)

// GeoPoint представляет географическую точку (WGS84)
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Validate проверяет корректность координат
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return fmt.Errorf("coordinates are NaN")
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %f", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("invalid longitude: %f", p.Longitude)
	}
	return nil
}

// DistanceTo вычисляет расстояние до другой точки в метрах (формула Haversine)
func (p GeoPoint) DistanceTo(other GeoPoint) float64 {
	const earthRadius = 6371000 // м

	lat1Rad := p.Latitude * math.Pi / 180
	lat2Rad := other.Latitude * math.Pi / 180
	deltaLat := (other.Latitude - p.Latitude) * math.Pi / 180
	deltaLon := (other.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// Geohash возвращает geohash для точки с заданной точностью
func (p GeoPoint) Geohash(precision int) string {
	return geohash.EncodeWithPrecision(p.Latitude, p.Longitude, uint(precision))
}

// PlanarPoint точка в проекции UTM (метры)
type PlanarPoint struct {
	Northing float64 `json:"northing"`
	Easting  float64 `json:"easting"`
}

// DistanceTo евклидово расстояние в метрах
func (p PlanarPoint) DistanceTo(other PlanarPoint) float64 {
	return math.Hypot(other.Northing-p.Northing, other.Easting-p.Easting)
}

// Add возвращает сумму точек (смещение)
func (p PlanarPoint) Add(other PlanarPoint) PlanarPoint {
	return PlanarPoint{Northing: p.Northing + other.Northing, Easting: p.Easting + other.Easting}
}

// Toward возвращает точку на расстоянии distM от p в направлении yawDeg.
// Курс отсчитывается от севера по часовой стрелке.
func (p PlanarPoint) Toward(yawDeg, distM float64) PlanarPoint {
	rad := yawDeg * math.Pi / 180
	return PlanarPoint{
		Northing: p.Northing + distM*math.Cos(rad),
		Easting:  p.Easting + distM*math.Sin(rad),
	}
}

// Orb конвертирует в orb.Point (X = easting, Y = northing)
func (p PlanarPoint) Orb() orb.Point {
	return orb.Point{p.Easting, p.Northing}
}

// PlanarFromOrb обратная конвертация из orb.Point
func PlanarFromOrb(pt orb.Point) PlanarPoint {
	return PlanarPoint{Northing: pt.Y(), Easting: pt.X()}
}

// Size размер прямоугольника на земле в метрах
type Size struct {
	X float64 `json:"x"` // поперек курса
	Y float64 `json:"y"` // вдоль курса
}

// Area площадь в м²
func (s Size) Area() float64 {
	return s.X * s.Y
}
