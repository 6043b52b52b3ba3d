// Package elevation модели рельефа (DEM) и поверхности (DSM) в плоских координатах полета.
package elevation

import (
	"errors"
	"fmt"

	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/models"
)

// ErrZoneMismatch полет и модели рельефа заданы в разных зонах UTM
var ErrZoneMismatch = errors.New("flight UTM zone differs from terrain zone")

// Source высота земли в точке; неизвестно вне покрытия модели
type Source interface {
	ElevationAt(p models.PlanarPoint) models.OptFloat
}

// SourceFunc адаптер функции к Source
type SourceFunc func(p models.PlanarPoint) models.OptFloat

// ElevationAt вызывает f
func (f SourceFunc) ElevationAt(p models.PlanarPoint) models.OptFloat {
	return f(p)
}

// Flat плоский рельеф постоянной высоты
type Flat struct {
	ElevationM float64
}

// ElevationAt всегда ElevationM
func (f Flat) ElevationAt(models.PlanarPoint) models.OptFloat {
	return models.Known(f.ElevationM)
}

// None источник без данных
type None struct{}

// ElevationAt всегда неизвестно
func (None) ElevationAt(models.PlanarPoint) models.OptFloat {
	return models.Unknown()
}

// Terrain пара моделей: DEM (голая земля) и DSM (с растительностью и постройками).
// Без DSM поверхность берется из DEM.
type Terrain struct {
	DEM Source
	DSM Source

	// Zone зона UTM сеток; nil для моделей без координат (плоский рельеф)
	Zone *geo.UTM
}

// zoneBinder источник, различающий зоны полетов (кэш)
type zoneBinder interface {
	InZone(zone geo.UTM) Source
}

// NewTerrain создает пару; nil заменяется на источник без данных
func NewTerrain(dem, dsm Source) Terrain {
	if dem == nil {
		dem = None{}
	}
	return Terrain{DEM: dem, DSM: dsm}
}

// FlatTerrain плоский рельеф для обеих моделей
func FlatTerrain(elevationM float64) Terrain {
	return Terrain{DEM: Flat{ElevationM: elevationM}}
}

// DEMAt высота рельефа
func (t Terrain) DEMAt(p models.PlanarPoint) models.OptFloat {
	if t.DEM == nil {
		return models.Unknown()
	}
	return t.DEM.ElevationAt(p)
}

// DSMAt высота поверхности; при отсутствии DSM или промахе используется DEM
func (t Terrain) DSMAt(p models.PlanarPoint) models.OptFloat {
	if t.DSM != nil {
		if v := t.DSM.ElevationAt(p); v.Valid {
			return v
		}
	}
	return t.DEMAt(p)
}

// Surface DSM как отдельный Source (для трассировки луча)
func (t Terrain) Surface() Source {
	return SourceFunc(t.DSMAt)
}

// InZone зафиксированная зона сеток
func (t Terrain) InZone(zone geo.UTM) Terrain {
	t.Zone = &zone
	return t
}

// ForZone рельеф для полета в зоне zone. Если сетки заданы в другой зоне,
// их координаты не совпадают с координатами полета: возвращается рельеф
// без данных и ErrZoneMismatch.
func (t Terrain) ForZone(zone geo.UTM) (Terrain, error) {
	if t.Zone != nil && *t.Zone != zone {
		return Terrain{DEM: None{}, Zone: t.Zone},
			fmt.Errorf("%w: flight %s, terrain %s", ErrZoneMismatch, zone, *t.Zone)
	}
	return Terrain{
		DEM:  bindZone(t.DEM, zone),
		DSM:  bindZone(t.DSM, zone),
		Zone: t.Zone,
	}, nil
}

func bindZone(s Source, zone geo.UTM) Source {
	if b, ok := s.(zoneBinder); ok {
		return b.InZone(zone)
	}
	return s
}

// Available есть ли хоть какая-то модель
func (t Terrain) Available() bool {
	if t.DEM == nil && t.DSM == nil {
		return false
	}
	_, demNone := t.DEM.(None)
	return !demNone || t.DSM != nil
}
