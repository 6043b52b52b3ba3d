package footprint

import (
	"math"
	"testing"

	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = models.PlanarPoint{Northing: 5100000, Easting: 430000}

func stepAt(alt, yaw, pitch float64) *models.Step {
	loc := origin
	return &models.Step{
		LocationM: &loc,
		AltitudeM: models.Known(alt),
		YawDeg:    models.Known(yaw),
		PitchDeg:  models.Known(pitch),
		Zoom:      1,
	}
}

func gimbalProjector(terrain elevation.Terrain) *Projector {
	return NewProjector(models.DefaultCameraModel(), terrain, Options{UseGimbalData: true})
}

func TestProject_StraightDownOverFlatTerrain(t *testing.T) {
	fp, outcome := gimbalProjector(elevation.FlatTerrain(0)).Project(stepAt(100, 0, -90))
	require.NotNil(t, fp)
	assert.Equal(t, OutcomeOK, outcome)

	assert.InDelta(t, origin.Northing, fp.Center.Northing, 1e-9)
	assert.InDelta(t, origin.Easting, fp.Center.Easting, 1e-9)
	assert.InDelta(t, 2*100*math.Tan(math.Pi/6), fp.SizeM.X, 1e-9)
	assert.InDelta(t, fp.SizeM.X*512/640, fp.SizeM.Y, 1e-9)
	assert.Equal(t, 0.0, fp.CameraToVerticalDeg)
	assert.False(t, fp.TerrainCorrected)

	assert.InDelta(t, fp.SizeM.Area(), fp.Area(), 1e-6)
	assert.True(t, fp.Contains(fp.Center))
}

func TestProject_Undefined(t *testing.T) {
	noLoc := stepAt(100, 0, -90)
	noLoc.LocationM = nil
	noAlt := stepAt(100, 0, -90)
	noAlt.AltitudeM = models.Unknown()

	tests := []struct {
		name    string
		terrain elevation.Terrain
		step    *models.Step
		want    Outcome
	}{
		{"Horizon grazing pitch", elevation.FlatTerrain(0), stepAt(100, 0, -10), OutcomeHorizon},
		{"Level camera", elevation.FlatTerrain(0), stepAt(100, 0, 0), OutcomeHorizon},
		{"No location", elevation.FlatTerrain(0), noLoc, OutcomeNoLocation},
		{"No altitude", elevation.FlatTerrain(0), noAlt, OutcomeNoAltitude},
		{"No surface model", elevation.NewTerrain(nil, nil), stepAt(100, 0, -90), OutcomeNoSurface},
		{"Below surface", elevation.FlatTerrain(150), stepAt(100, 0, -90), OutcomeBelowSurface},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp, outcome := gimbalProjector(tt.terrain).Project(tt.step)
			assert.Nil(t, fp)
			assert.Equal(t, tt.want, outcome)
			assert.False(t, outcome.Defined())
		})
	}
}

func TestProject_ForwardOffsetFollowsYaw(t *testing.T) {
	fp, outcome := gimbalProjector(elevation.FlatTerrain(0)).Project(stepAt(100, 90, -60))
	require.NotNil(t, fp)
	// Плоская земля: трассировка доходит до конца без пересечения
	assert.Equal(t, OutcomeOK, outcome)

	forward := 100 * math.Tan(math.Pi/6)
	assert.InDelta(t, origin.Easting+forward, fp.Center.Easting, 1e-6)
	assert.InDelta(t, origin.Northing, fp.Center.Northing, 1e-6)
	assert.InDelta(t, 30, fp.CameraToVerticalDeg, 1e-9)

	viewLength := math.Hypot(100, forward)
	assert.InDelta(t, 2*viewLength*math.Tan(math.Pi/6), fp.SizeM.X, 1e-6)
}

func TestProject_RidgeOccludesFlatEarthPoint(t *testing.T) {
	ridge := elevation.SourceFunc(func(p models.PlanarPoint) models.OptFloat {
		d := p.Easting - origin.Easting
		if d >= 20 && d <= 30 {
			return models.Known(60)
		}
		return models.Known(0)
	})
	projector := gimbalProjector(elevation.NewTerrain(ridge, nil))

	fp, outcome := projector.Project(stepAt(100, 90, -60))
	require.NotNil(t, fp)
	assert.Equal(t, OutcomeTerrainCorrected, outcome)
	assert.True(t, fp.TerrainCorrected)

	// Линия визирования 100 - h*ctg(30°) опускается до 60м при h ≈ 23.1
	assert.InDelta(t, origin.Easting+24, fp.Center.Easting, 1e-6)
	assert.InDelta(t, 2*math.Hypot(40, 24)*math.Tan(math.Pi/6), fp.SizeM.X, 1e-6)
}

func TestProject_NoCorrectionWhenLow(t *testing.T) {
	wall := elevation.SourceFunc(func(p models.PlanarPoint) models.OptFloat {
		if p.Easting-origin.Easting > 0.5 {
			return models.Known(2.5)
		}
		return models.Known(0)
	})
	// 2.9м над землей: коррекция не применяется
	fp, outcome := gimbalProjector(elevation.NewTerrain(wall, nil)).Project(stepAt(2.9, 90, -60))
	require.NotNil(t, fp)
	assert.Equal(t, OutcomeOK, outcome)
}

func TestProject_ZoomAndCameraOptions(t *testing.T) {
	step := stepAt(100, 0, -90)
	step.Zoom = 2
	fp, _ := gimbalProjector(elevation.FlatTerrain(0)).Project(step)
	require.NotNil(t, fp)
	assert.InDelta(t, 100*math.Tan(math.Pi/6), fp.SizeM.X, 1e-9)

	// Без подвеса используется угол по умолчанию (камера вниз), тангаж игнорируется
	noGimbal := NewProjector(models.DefaultCameraModel(), elevation.FlatTerrain(0), Options{})
	fp, outcome := noGimbal.Project(stepAt(100, 0, -10))
	require.NotNil(t, fp)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, 0.0, fp.CameraToVerticalDeg)

	down := 60.0
	override := NewProjector(models.DefaultCameraModel(), elevation.FlatTerrain(0), Options{UseGimbalData: true, CameraDownOverrideDeg: &down})
	assert.InDelta(t, 30, override.CameraToVerticalDeg(stepAt(100, 0, -90)), 1e-9)
}

func TestBackProject_CenterRoundTrip(t *testing.T) {
	projector := gimbalProjector(elevation.FlatTerrain(0))
	for yaw := -180.0; yaw < 180; yaw += 15 {
		for _, pitch := range []float64{-90, -75, -60, -45} {
			step := stepAt(80, yaw, pitch)
			step.Footprint, _ = projector.Project(step)
			require.NotNil(t, step.Footprint)

			pt, ok := BackProject(step, 0.5, 0.5, models.PlanarPoint{})
			require.True(t, ok)
			assert.InDelta(t, step.Footprint.Center.Northing, pt.Northing, 1e-6)
			assert.InDelta(t, step.Footprint.Center.Easting, pt.Easting, 1e-6)
		}
	}
}

func TestBackProject_Orientation(t *testing.T) {
	projector := gimbalProjector(elevation.FlatTerrain(0))

	tests := []struct {
		name            string
		yaw             float64
		topLeftNorthing float64
		topLeftEasting  float64
	}{
		// Курс на север: верх кадра на севере, левый край на западе
		{name: "North", yaw: 0, topLeftNorthing: 1, topLeftEasting: -1},
		// Курс на восток: верх кадра на востоке, левый край на севере
		{name: "East", yaw: 90, topLeftNorthing: 1, topLeftEasting: 1},
		// Курс на юг: верх на юге, левый край на востоке
		{name: "South", yaw: 180, topLeftNorthing: -1, topLeftEasting: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := stepAt(100, tt.yaw, -90)
			step.Footprint, _ = projector.Project(step)
			require.NotNil(t, step.Footprint)

			tl := step.Footprint.Corners[0]
			c := step.Footprint.Center
			assert.Equal(t, tt.topLeftNorthing, math.Copysign(1, tl.Northing-c.Northing))
			assert.Equal(t, tt.topLeftEasting, math.Copysign(1, tl.Easting-c.Easting))

			// Вдоль курса лежит высота кадра
			top, _ := BackProject(step, 0.5, 0, models.PlanarPoint{})
			ahead := c.Toward(tt.yaw, step.Footprint.SizeM.Y/2)
			assert.InDelta(t, ahead.Northing, top.Northing, 1e-6)
			assert.InDelta(t, ahead.Easting, top.Easting, 1e-6)
		})
	}
}

func TestBackProject_BlockOffsetAndMissingFootprint(t *testing.T) {
	step := stepAt(100, 30, -90)
	_, ok := BackProject(step, 0.5, 0.5, models.PlanarPoint{})
	assert.False(t, ok)

	step.Footprint, _ = gimbalProjector(elevation.FlatTerrain(0)).Project(step)
	offset := models.PlanarPoint{Northing: 3, Easting: -4}
	pt, ok := BackProject(step, 0.5, 0.5, offset)
	require.True(t, ok)
	assert.InDelta(t, step.Footprint.Center.Northing+3, pt.Northing, 1e-9)
	assert.InDelta(t, step.Footprint.Center.Easting-4, pt.Easting, 1e-9)
}

func TestLocate_ReturnsGeoPoint(t *testing.T) {
	proj := geo.NewProjection()
	drone := models.GeoPoint{Latitude: 46.05, Longitude: 14.5}
	loc := proj.Project(drone)

	step := stepAt(100, 0, -90)
	step.LocationM = &loc
	step.Footprint, _ = gimbalProjector(elevation.FlatTerrain(0)).Project(step)

	got, ok := Locate(step, 0.5, 0.5, models.PlanarPoint{}, proj)
	require.True(t, ok)
	require.NotNil(t, got.Geo)
	assert.InDelta(t, drone.Latitude, got.Geo.Latitude, 1e-6)
	assert.InDelta(t, drone.Longitude, got.Geo.Longitude, 1e-6)
}

func TestProjectAll(t *testing.T) {
	steps := []models.Step{*stepAt(100, 0, -90), *stepAt(100, 0, -10), {}}
	outcomes, counts := gimbalProjector(elevation.FlatTerrain(5)).ProjectAll(steps)

	assert.Equal(t, []Outcome{OutcomeOK, OutcomeHorizon, OutcomeNoLocation}, outcomes)
	assert.Equal(t, 1, counts[OutcomeOK])
	assert.Equal(t, 1, counts[OutcomeHorizon])
	assert.Equal(t, 1, counts[OutcomeNoLocation])
	assert.NotNil(t, steps[0].Footprint)
	assert.Nil(t, steps[1].Footprint)
	assert.Equal(t, models.Known(5), steps[0].DemM)
	assert.Equal(t, models.Known(5), steps[1].DsmM)
	assert.False(t, steps[2].DemM.Valid)
}
