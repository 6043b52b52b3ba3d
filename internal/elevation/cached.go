package elevation

import (
	"math"
	"time"

	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
)

// DefaultCacheCellM размер ячейки квантования запросов к кэшу
const DefaultCacheCellM = 1.0

// Cached мемоизирует дорогой источник по ячейкам плоской сетки.
// Трассировка луча опрашивает рельеф десятки раз на шаг, а соседние шаги
// видят почти одни и те же точки.
type Cached struct {
	source Source
	cache  *geo.LRUCache
	cellM  float64
}

// NewCached оборачивает источник LRU кэшем
func NewCached(source Source, capacity int, cellM float64, ttl time.Duration) *Cached {
	if cellM <= 0 {
		cellM = DefaultCacheCellM
	}
	return &Cached{
		source: source,
		cache:  geo.NewLRUCache(capacity, ttl),
		cellM:  cellM,
	}
}

// ElevationAt значение в центре ячейки, содержащей p, без привязки к зоне
func (c *Cached) ElevationAt(p models.PlanarPoint) models.OptFloat {
	return c.lookup(geo.UTM{}, p)
}

// InZone источник для полета в зоне zone; записи разных зон в кэше не смешиваются
func (c *Cached) InZone(zone geo.UTM) Source {
	return SourceFunc(func(p models.PlanarPoint) models.OptFloat {
		return c.lookup(zone, p)
	})
}

func (c *Cached) lookup(zone geo.UTM, p models.PlanarPoint) models.OptFloat {
	key := geo.CellKey{
		Zone: zone,
		N:    int64(math.Floor(p.Northing / c.cellM)),
		E:    int64(math.Floor(p.Easting / c.cellM)),
	}

	if v, known, found := c.cache.Get(key); found {
		metrics.ElevationCache.WithLabelValues("hit").Inc()
		if !known {
			return models.Unknown()
		}
		return models.Known(v)
	}
	metrics.ElevationCache.WithLabelValues("miss").Inc()

	center := models.PlanarPoint{
		Northing: (float64(key.N) + 0.5) * c.cellM,
		Easting:  (float64(key.E) + 0.5) * c.cellM,
	}
	v := c.source.ElevationAt(center)
	c.cache.Set(key, v.Value, v.Valid)
	return v
}

// Stats статистика кэша
func (c *Cached) Stats() (hits, misses uint64, hitRate float64) {
	return c.cache.Stats()
}
