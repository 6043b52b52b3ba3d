package flight

import (
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/stat"

	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/pool"
)

const (
	// BelowTerrainToleranceM высота ниже DEM больше чем на допуск считается неправдоподобной
	BelowTerrainToleranceM = 1.0

	// SwatheCellM шаг растра при оценке площади объединения пятен
	SwatheCellM = 5.0

	// swatheMaxCellsPerFootprint ограничивает растр для очень больших пятен
	swatheMaxCellsPerFootprint = 4096

	// CoverageGeohashPrecision точность geohash ячеек покрытия (~150 м)
	CoverageGeohashPrecision = 7
)

// Summary агрегаты по интервалу времени
type Summary struct {
	FromMs     int64 `json:"from_ms"`
	ToMs       int64 `json:"to_ms"`
	Steps      int   `json:"steps"`
	DurationMs int64 `json:"duration_ms"`

	FirstLegID int `json:"first_leg_id"` // 0 если галсов нет
	LastLegID  int `json:"last_leg_id"`

	LinealM      models.OptFloat `json:"lineal_m"`
	MeanSpeedMps models.OptFloat `json:"mean_speed_mps"`

	Altitude telemetry.Range `json:"altitude_m"`
	Speed    telemetry.Range `json:"speed_mps"`
	Pitch    telemetry.Range `json:"pitch_deg"`
	DeltaYaw telemetry.Range `json:"delta_yaw_deg"`

	PercentAltitudeBelowTerrain float64 `json:"percent_altitude_below_terrain"`

	Footprints int    `json:"footprints"`
	Swathe     Swathe `json:"swathe"`
}

// Swathe объединение пятен за интервал
type Swathe struct {
	Bound           *Bounds  `json:"bound,omitempty"`
	FootprintAreaM2 float64  `json:"footprint_area_m2"` // сумма площадей пятен с повторами
	CoveredAreaM2   float64  `json:"covered_area_m2"`   // площадь объединения, оценка по растру
	CellM           float64  `json:"cell_m"`
	Geohashes       []string `json:"geohashes,omitempty"` // ячейки под центрами пятен
	GeohashAreaM2   float64  `json:"geohash_area_m2"`
}

// Bounds плоский прямоугольник
type Bounds struct {
	Min models.PlanarPoint `json:"min"`
	Max models.PlanarPoint `json:"max"`
}

func summarize(steps []models.Step, legs []models.Leg, fromMs, toMs int64, proj *geo.Projection) Summary {
	s := Summary{FromMs: fromMs, ToMs: toMs}

	lo := sort.Search(len(steps), func(i int) bool { return steps[i].SumTimeMs >= fromMs })
	hi := sort.Search(len(steps), func(i int) bool { return steps[i].SumTimeMs > toMs })
	window := steps[lo:hi]
	s.Steps = len(window)
	if len(window) == 0 {
		return s
	}
	s.DurationMs = window[len(window)-1].SumTimeMs - window[0].SumTimeMs

	for _, leg := range legs {
		if !leg.OverlapsTime(fromMs, toMs) {
			continue
		}
		if s.FirstLegID == 0 {
			s.FirstLegID = leg.ID
		}
		s.LastLegID = leg.ID
	}

	var lineal telemetry.Range
	speeds := pool.Global.GetFloats()
	defer func() { pool.Global.PutFloats(speeds) }()
	for i := range window {
		st := &window[i]
		s.Altitude.Observe(st.AltitudeM)
		s.Speed.Observe(st.SpeedMps)
		s.Pitch.Observe(st.PitchDeg)
		s.DeltaYaw.Observe(st.DeltaYawDeg)
		lineal.Observe(st.SumLinealM)
		if v, ok := st.SpeedMps.Get(); ok {
			speeds = append(speeds, v)
		}
	}
	if lineal.Min.Valid {
		s.LinealM = models.Known(lineal.Max.Value - lineal.Min.Value)
	}
	if len(speeds) > 0 {
		s.MeanSpeedMps = models.Known(stat.Mean(speeds, nil))
	}

	s.PercentAltitudeBelowTerrain = percentBelowTerrain(window)
	s.Footprints, s.Swathe = swathe(window, proj)
	return s
}

func percentBelowTerrain(steps []models.Step) float64 {
	known, below := 0, 0
	for i := range steps {
		alt, ok := steps[i].AltitudeM.Get()
		dem, okDem := steps[i].DemM.Get()
		if !ok || !okDem {
			continue
		}
		known++
		if alt < dem-BelowTerrainToleranceM {
			below++
		}
	}
	if known == 0 {
		return 0
	}
	return 100 * float64(below) / float64(known)
}

func swathe(steps []models.Step, proj *geo.Projection) (int, Swathe) {
	var sw Swathe
	fps := make([]*models.Footprint, 0, len(steps))
	var bound orb.Bound
	maxArea := 0.0
	for i := range steps {
		fp := steps[i].Footprint
		if fp == nil {
			continue
		}
		if len(fps) == 0 {
			bound = fp.Bound()
		} else {
			bound = bound.Union(fp.Bound())
		}
		fps = append(fps, fp)
		area := fp.Area()
		sw.FootprintAreaM2 += area
		maxArea = math.Max(maxArea, area)
	}
	if len(fps) == 0 {
		return 0, sw
	}

	sw.Bound = &Bounds{
		Min: models.PlanarFromOrb(bound.Min),
		Max: models.PlanarFromOrb(bound.Max),
	}

	// Один шаг растра на весь интервал, иначе ячейки разных пятен несравнимы
	sw.CellM = math.Max(SwatheCellM, math.Sqrt(maxArea/swatheMaxCellsPerFootprint))
	covered := make(map[geo.CellKey]struct{})
	for _, fp := range fps {
		rasterize(fp, sw.CellM, covered)
	}
	sw.CoveredAreaM2 = float64(len(covered)) * sw.CellM * sw.CellM

	if proj != nil {
		sw.Geohashes, sw.GeohashAreaM2 = coverageGeohashes(fps, proj)
	}
	return len(fps), sw
}

// rasterize отмечает ячейки, центр которых внутри пятна
func rasterize(fp *models.Footprint, cellM float64, covered map[geo.CellKey]struct{}) {
	b := fp.Bound()
	n0, n1 := int64(math.Floor(b.Min[1]/cellM)), int64(math.Floor(b.Max[1]/cellM))
	e0, e1 := int64(math.Floor(b.Min[0]/cellM)), int64(math.Floor(b.Max[0]/cellM))
	for n := n0; n <= n1; n++ {
		for e := e0; e <= e1; e++ {
			key := geo.CellKey{N: n, E: e}
			if _, ok := covered[key]; ok {
				continue
			}
			center := models.PlanarPoint{
				Northing: (float64(n) + 0.5) * cellM,
				Easting:  (float64(e) + 0.5) * cellM,
			}
			if fp.Contains(center) {
				covered[key] = struct{}{}
			}
		}
	}
}

func coverageGeohashes(fps []*models.Footprint, proj *geo.Projection) ([]string, float64) {
	seen := make(map[string]struct{})
	for _, fp := range fps {
		g, ok := proj.Unproject(fp.Center)
		if !ok {
			continue
		}
		seen[g.Geohash(CoverageGeohashPrecision)] = struct{}{}
	}

	hashes := make([]string, 0, len(seen))
	area := 0.0
	for h := range seen {
		hashes = append(hashes, h)
		area += geohashCellArea(h)
	}
	sort.Strings(hashes)
	return hashes, area
}

// geohashCellArea площадь ячейки geohash в м² по размерам ее сторон
func geohashCellArea(hash string) float64 {
	box := geohash.BoundingBox(hash)
	midLat := (box.MinLat + box.MaxLat) / 2
	width := models.GeoPoint{Latitude: midLat, Longitude: box.MinLng}.
		DistanceTo(models.GeoPoint{Latitude: midLat, Longitude: box.MaxLng})
	height := models.GeoPoint{Latitude: box.MinLat, Longitude: box.MinLng}.
		DistanceTo(models.GeoPoint{Latitude: box.MaxLat, Longitude: box.MinLng})
	return width * height
}
