// Package footprint проекция кадра камеры на землю с учетом рельефа.
package footprint

import (
	"math"

	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
)

const (
	// MarchStepM шаг трассировки луча
	MarchStepM = 2.0

	// Коррекция рельефа только при заметном выносе и высоте над землей
	minCorrectionForwardM = 3.0
	minCorrectionHeightM  = 3.0

	degToRad = math.Pi / 180
)

// Outcome результат проекции одного шага
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeTerrainCorrected Outcome = "terrain_corrected"
	OutcomeNoLocation       Outcome = "no_location"
	OutcomeNoAltitude       Outcome = "no_altitude"
	OutcomeNoSurface        Outcome = "no_surface"
	OutcomeBelowSurface     Outcome = "below_surface"
	OutcomeHorizon          Outcome = "horizon"
)

// Defined есть ли у результата пятно
func (o Outcome) Defined() bool {
	return o == OutcomeOK || o == OutcomeTerrainCorrected
}

// Options параметры ориентации камеры
type Options struct {
	UseGimbalData bool

	// Фиксированный угол камеры вниз (от горизонта) вместо данных подвеса
	CameraDownOverrideDeg *float64
}

// Projector проецирует кадры на землю
type Projector struct {
	camera  models.CameraModel
	terrain elevation.Terrain
	opts    Options
}

// NewProjector создает проектор
func NewProjector(camera models.CameraModel, terrain elevation.Terrain, opts Options) *Projector {
	return &Projector{camera: camera, terrain: terrain, opts: opts}
}

// Camera модель камеры
func (p *Projector) Camera() models.CameraModel {
	return p.camera
}

// Terrain модели рельефа
func (p *Projector) Terrain() elevation.Terrain {
	return p.terrain
}

// WithTerrain копия проектора с другим рельефом
func (p *Projector) WithTerrain(terrain elevation.Terrain) *Projector {
	cp := *p
	cp.terrain = terrain
	return &cp
}

// CameraToVerticalDeg угол оси камеры от вертикали
func (p *Projector) CameraToVerticalDeg(step *models.Step) float64 {
	if p.opts.CameraDownOverrideDeg != nil {
		return 90 - *p.opts.CameraDownOverrideDeg
	}
	if pitch, ok := step.PitchDeg.Get(); ok && p.opts.UseGimbalData {
		return math.Abs(90 + pitch)
	}
	return 90 - p.camera.DefaultDownDeg
}

// Project вычисляет пятно кадра; nil если пятно не определено
func (p *Projector) Project(step *models.Step) (*models.Footprint, Outcome) {
	if step.LocationM == nil {
		return nil, OutcomeNoLocation
	}
	alt, ok := step.AltitudeM.Get()
	if !ok {
		return nil, OutcomeNoAltitude
	}
	loc := *step.LocationM

	surface, ok := p.terrain.DSMAt(loc).Get()
	if !ok {
		return nil, OutcomeNoSurface
	}
	vertical := alt - surface
	if vertical <= 0 {
		return nil, OutcomeBelowSurface
	}

	toVertical := p.CameraToVerticalDeg(step)
	// Верхний край кадра у горизонта или выше: в кадре небо
	if toVertical+p.camera.VerticalFOVDeg()/2 >= 90 {
		return nil, OutcomeHorizon
	}

	yaw := step.YawDeg.Or(0)
	angle := toVertical * degToRad
	forward := vertical * math.Tan(angle)

	center := loc.Toward(yaw, forward)
	groundAtCenter := surface
	outcome := OutcomeOK

	if forward > minCorrectionForwardM && vertical > minCorrectionHeightM {
		if hit, hitForward, hitGround, found := p.march(loc, alt, yaw, angle, forward); found {
			center, forward, groundAtCenter = hit, hitForward, hitGround
			outcome = OutcomeTerrainCorrected
		}
	}

	viewLength := math.Hypot(alt-groundAtCenter, forward)
	zoom := step.Zoom
	if zoom < 1 {
		zoom = 1
	}
	width := 2 * viewLength * math.Tan(p.camera.HFOVDeg/2*degToRad) / zoom

	fp := &models.Footprint{
		Center:              center,
		SizeM:               models.Size{X: width, Y: width * p.camera.AspectRatio()},
		YawDeg:              yaw,
		CameraToVerticalDeg: toVertical,
		TerrainCorrected:    outcome == OutcomeTerrainCorrected,
	}
	for i, frac := range cornerFractions {
		fp.Corners[i] = offsetInFrame(fp, frac[0], frac[1], models.PlanarPoint{})
	}
	return fp, outcome
}

// march идет по лучу от дрона шагами MarchStepM, пока рельеф не перекроет
// линию визирования или не будет пройдено плоское расстояние
func (p *Projector) march(loc models.PlanarPoint, alt, yaw, angle, forward float64) (models.PlanarPoint, float64, float64, bool) {
	sinA, cosA := math.Sin(angle), math.Cos(angle)
	surface := p.terrain.Surface()
	for s := MarchStepM; ; s += MarchStepM {
		horizontal := s * sinA
		if horizontal >= forward {
			return models.PlanarPoint{}, 0, 0, false
		}
		lineOfSight := alt - s*cosA
		pt := loc.Toward(yaw, horizontal)
		ground, ok := surface.ElevationAt(pt).Get()
		if ok && ground >= lineOfSight {
			return pt, horizontal, ground, true
		}
	}
}

// Углы кадра: верх-лево, верх-право, низ-право, низ-лево
var cornerFractions = [4][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

// offsetInFrame точка кадра с долями (h, v) от левого верхнего угла.
// Курс растет по часовой стрелке, а плоскость ориентирована математически,
// поэтому смещение в кадре поворачивается на π - yaw; ось x кадра
// отсчитывается от правого края.
func offsetInFrame(fp *models.Footprint, h, v float64, blockOffset models.PlanarPoint) models.PlanarPoint {
	dx := (0.5 - h) * fp.SizeM.X
	dy := (v - 0.5) * fp.SizeM.Y

	theta := math.Pi - fp.YawDeg*degToRad
	sinT, cosT := math.Sin(theta), math.Cos(theta)

	center := fp.Center.Add(blockOffset)
	return models.PlanarPoint{
		Easting:  center.Easting + dx*cosT - dy*sinT,
		Northing: center.Northing + dx*sinT + dy*cosT,
	}
}

// BackProject переводит точку кадра (доли ширины и высоты, 0.5/0.5 = центр)
// в точку на земле. Неровности рельефа внутри пятна не учитываются.
func BackProject(step *models.Step, h, v float64, blockOffset models.PlanarPoint) (models.PlanarPoint, bool) {
	if step.Footprint == nil {
		return models.PlanarPoint{}, false
	}
	return offsetInFrame(step.Footprint, h, v, blockOffset), true
}

// Location точка на земле в плоских и географических координатах
type Location struct {
	Planar models.PlanarPoint `json:"planar"`
	Geo    *models.GeoPoint   `json:"geo,omitempty"`
}

// Locate как BackProject, плюс широта и долгота в проекции полета
func Locate(step *models.Step, h, v float64, blockOffset models.PlanarPoint, proj *geo.Projection) (Location, bool) {
	pt, ok := BackProject(step, h, v, blockOffset)
	if !ok {
		return Location{}, false
	}
	loc := Location{Planar: pt}
	if proj != nil {
		if g, ok := proj.Unproject(pt); ok {
			loc.Geo = &g
		}
	}
	return loc, true
}

// ProjectAll заполняет DEM, DSM и пятно каждого шага.
// Возвращает результат по каждому шагу и число шагов по результатам.
func (p *Projector) ProjectAll(steps []models.Step) ([]Outcome, map[Outcome]int) {
	outcomes := make([]Outcome, len(steps))
	counts := make(map[Outcome]int)
	for i := range steps {
		outcomes[i] = p.ProjectStep(&steps[i], counts)
	}
	for outcome, n := range counts {
		metrics.Footprints.WithLabelValues(string(outcome)).Add(float64(n))
	}
	return outcomes, counts
}

// ProjectStep пересчитывает рельеф и пятно одного шага
func (p *Projector) ProjectStep(step *models.Step, counts map[Outcome]int) Outcome {
	step.DemM, step.DsmM = models.Unknown(), models.Unknown()
	if step.LocationM != nil {
		step.DemM = p.terrain.DEMAt(*step.LocationM)
		step.DsmM = p.terrain.DSMAt(*step.LocationM)
	}
	fp, outcome := p.Project(step)
	step.Footprint = fp
	if counts != nil {
		counts[outcome]++
	}
	return outcome
}
