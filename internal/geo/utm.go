package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wroge/wgs84"

	"github.com/flybeeper/drone-footprint/internal/models"
)

const (
	utmMinZone = 1
	utmMaxZone = 60
)

// UTM зона поперечной проекции Меркатора
type UTM struct {
	Zone  int  `json:"zone"`
	South bool `json:"south"`
}

// ZoneFor определяет зону UTM для точки
func ZoneFor(p models.GeoPoint) UTM {
	zone := int(math.Floor((p.Longitude+180)/6)) + 1
	if zone > utmMaxZone {
		zone = utmMaxZone
	}
	if zone < utmMinZone {
		zone = utmMinZone
	}
	return UTM{Zone: zone, South: p.Latitude < 0}
}

// ParseZone разбирает зону вида "32N" или "56S"
func ParseZone(s string) (UTM, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return UTM{}, fmt.Errorf("invalid UTM zone %q", s)
	}

	var south bool
	switch s[len(s)-1] {
	case 'N':
	case 'S':
		south = true
	default:
		return UTM{}, fmt.Errorf("invalid UTM zone %q: hemisphere must be N or S", s)
	}

	zone, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || zone < utmMinZone || zone > utmMaxZone {
		return UTM{}, fmt.Errorf("invalid UTM zone %q: number must be %d..%d", s, utmMinZone, utmMaxZone)
	}
	return UTM{Zone: zone, South: south}, nil
}

// String например "33N"
func (u UTM) String() string {
	hemi := "N"
	if u.South {
		hemi = "S"
	}
	return fmt.Sprintf("%d%s", u.Zone, hemi)
}

// transform пересчет пары координат; высота не используется
type transform = func(a, b, c float64) (float64, float64, float64)

func (u UTM) forward() transform {
	return wgs84.LonLat().To(wgs84.UTM(float64(u.Zone), !u.South))
}

func (u UTM) inverse() transform {
	return wgs84.UTM(float64(u.Zone), !u.South).To(wgs84.LonLat())
}

// ToPlanar проецирует точку WGS84 в northing/easting этой зоны.
// Точки из соседних зон выражаются в координатах этой зоны.
func (u UTM) ToPlanar(p models.GeoPoint) models.PlanarPoint {
	return toPlanar(u.forward(), p)
}

// ToGeo обратное преобразование northing/easting в WGS84
func (u UTM) ToGeo(p models.PlanarPoint) models.GeoPoint {
	return toGeo(u.inverse(), p)
}

func toPlanar(forward transform, p models.GeoPoint) models.PlanarPoint {
	east, north, _ := forward(p.Longitude, p.Latitude, 0)
	return models.PlanarPoint{Northing: north, Easting: east}
}

func toGeo(inverse transform, p models.PlanarPoint) models.GeoPoint {
	lon, lat, _ := inverse(p.Easting, p.Northing, 0)
	return models.GeoPoint{Latitude: lat, Longitude: lon}
}

// Projection проекция полета: зона фиксируется по первой точке
type Projection struct {
	zone  UTM
	fixed bool

	forward transform
	inverse transform
}

// NewProjection создает проекцию с незафиксированной зоной
func NewProjection() *Projection {
	return &Projection{}
}

// NewProjectionInZone создает проекцию в заданной зоне
func NewProjectionInZone(zone UTM) *Projection {
	p := &Projection{}
	p.fix(zone)
	return p
}

func (p *Projection) fix(zone UTM) {
	p.zone = zone
	p.fixed = true
	p.forward = zone.forward()
	p.inverse = zone.inverse()
}

// Project проецирует точку, при первом вызове фиксируя зону
func (p *Projection) Project(g models.GeoPoint) models.PlanarPoint {
	if !p.fixed {
		p.fix(ZoneFor(g))
	}
	return toPlanar(p.forward, g)
}

// Unproject обратное преобразование; ok=false пока зона не зафиксирована
func (p *Projection) Unproject(pt models.PlanarPoint) (models.GeoPoint, bool) {
	if !p.fixed {
		return models.GeoPoint{}, false
	}
	return toGeo(p.inverse, pt), true
}

// Zone текущая зона и признак фиксации
func (p *Projection) Zone() (UTM, bool) {
	return p.zone, p.fixed
}
