package flight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/smoothing"
)

func trackSteps(n int, at func(i int) models.PlanarPoint) []models.Step {
	steps := make([]models.Step, n)
	for i := range steps {
		loc := at(i)
		steps[i] = models.Step{
			Index:      i,
			Position:   i,
			SumTimeMs:  int64(i) * 100,
			DurationMs: 100,
			LocationM:  &loc,
		}
	}
	smoothing.Derive(steps)
	return steps
}

func wholeLeg(steps []models.Step) models.Leg {
	return models.Leg{ID: 1, FirstPos: 0, LastPos: len(steps) - 1, MaxIndex: len(steps) - 1}
}

func TestRefineLeg_LinearForConstantSpeed(t *testing.T) {
	steps := trackSteps(50, func(i int) models.PlanarPoint {
		return models.PlanarPoint{Northing: float64(i) * 2, Easting: 1000 + float64(i%2)*0.3}
	})

	strategy, err := refineLeg(steps, wholeLeg(steps), models.DefaultRuleConfig())
	require.NoError(t, err)
	require.Equal(t, RefineLinear, strategy)

	for i, st := range steps {
		assert.InDelta(t, float64(i)*2, st.LocationM.Northing, 1e-9)
		assert.InDelta(t, 1000+0.3*float64(i)/49, st.LocationM.Easting, 1e-9)
	}
}

func TestRefineLeg_SplineForIrregularSpeed(t *testing.T) {
	northing := 0.0
	positions := make([]float64, 60)
	for i := range positions {
		positions[i] = northing
		if i%2 == 0 {
			northing += 1
		} else {
			northing += 3
		}
	}
	steps := trackSteps(60, func(i int) models.PlanarPoint {
		return models.PlanarPoint{Northing: positions[i], Easting: 500}
	})

	strategy, err := refineLeg(steps, wholeLeg(steps), models.DefaultRuleConfig())
	require.NoError(t, err)
	require.Equal(t, RefineSpline, strategy)

	assert.InDelta(t, positions[0], steps[0].LocationM.Northing, 1e-9)
	assert.InDelta(t, positions[59], steps[59].LocationM.Northing, 1e-9)
	for i, st := range steps {
		assert.InDelta(t, positions[i], st.LocationM.Northing, 2.0, "step %d", i)
		assert.InDelta(t, 500, st.LocationM.Easting, 1e-9)
	}
}

func TestRefineLeg_SkipsWhenLegWouldBecomeTooShort(t *testing.T) {
	steps := trackSteps(51, func(i int) models.PlanarPoint {
		e := -10.0
		if i%2 == 1 {
			e = 10
		}
		return models.PlanarPoint{Northing: float64(i) * 0.1, Easting: e}
	})
	before := make([]models.PlanarPoint, len(steps))
	for i := range steps {
		before[i] = *steps[i].LocationM
	}

	strategy, err := refineLeg(steps, wholeLeg(steps), models.DefaultRuleConfig())
	require.NoError(t, err)
	assert.Equal(t, RefineSkipped, strategy)
	for i := range steps {
		assert.Equal(t, before[i], *steps[i].LocationM)
	}
}

func TestRefineLeg_NotEnoughLocations(t *testing.T) {
	steps := trackSteps(10, func(i int) models.PlanarPoint { return models.PlanarPoint{Northing: float64(i)} })
	for i := 1; i < len(steps); i++ {
		steps[i].LocationM = nil
	}
	strategy, err := refineLeg(steps, wholeLeg(steps), models.DefaultRuleConfig())
	require.NoError(t, err)
	assert.Equal(t, RefineSkipped, strategy)
}

func TestRefineLegs_Counts(t *testing.T) {
	steps := trackSteps(100, func(i int) models.PlanarPoint {
		return models.PlanarPoint{Northing: float64(i) * 2}
	})
	legs := []models.Leg{
		{ID: 1, FirstPos: 0, LastPos: 40},
		{ID: 2, FirstPos: 50, LastPos: 50},
	}
	counts, err := refineLegs(steps, legs, models.DefaultRuleConfig())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{RefineLinear: 1, RefineSpline: 0, RefineSkipped: 1}, counts)
}

func TestFit(t *testing.T) {
	line := []knot{
		{t: 0, p: models.PlanarPoint{Northing: 0, Easting: 10}},
		{t: 100, p: models.PlanarPoint{Northing: 5, Easting: 20}},
		{t: 200, p: models.PlanarPoint{Northing: 10, Easting: 30}},
	}

	strategy, n, e, err := fit(RefineSpline, line)
	require.NoError(t, err)
	assert.Equal(t, RefineSpline, strategy)
	assert.InDelta(t, 7.5, n.Predict(150), 1e-9)
	assert.InDelta(t, 25, e.Predict(150), 1e-9)

	// Время не возрастает: сплайн не строится, остается прямая по крайним точкам
	unordered := []knot{line[0], line[2], {t: 150, p: models.PlanarPoint{Northing: 99}}, {t: 300, p: models.PlanarPoint{Northing: 15, Easting: 40}}}
	strategy, n, _, err = fit(RefineSpline, unordered)
	require.NoError(t, err)
	assert.Equal(t, RefineLinear, strategy)
	assert.InDelta(t, 7.5, n.Predict(150), 1e-9)

	// Крайние точки совпадают по времени: построить нечего
	strategy, _, _, err = fit(RefineLinear, []knot{line[1], line[1]})
	assert.Error(t, err)
	assert.Equal(t, RefineSkipped, strategy)
}

func TestRefineLegs_SkipsLegWithoutDistinctTimes(t *testing.T) {
	steps := trackSteps(3, func(i int) models.PlanarPoint { return models.PlanarPoint{Northing: float64(i) * 20} })
	// Все шаги в один момент: опорных точек меньше двух, галс пропускается без ошибки
	for i := range steps {
		steps[i].SumTimeMs = 0
	}
	counts, err := refineLegs(steps, []models.Leg{wholeLeg(steps)}, models.DefaultRuleConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[RefineSkipped])
}

func TestNearConstantSpeed(t *testing.T) {
	leg := models.Leg{FirstPos: 0, LastPos: 4}
	withSpeeds := func(speeds ...float64) []models.Step {
		steps := make([]models.Step, len(speeds))
		for i, v := range speeds {
			steps[i].SpeedMps = models.Known(v)
		}
		return steps
	}

	assert.True(t, nearConstantSpeed(withSpeeds(99, 5, 5, 5, 5), leg, 0.15), "first step speed is ignored")
	assert.False(t, nearConstantSpeed(withSpeeds(0, 1, 3, 1, 3), leg, 0.15))
	assert.True(t, nearConstantSpeed(withSpeeds(0, 0, 0, 0, 0), leg, 0.15), "hover")
	assert.True(t, nearConstantSpeed(make([]models.Step, 5), leg, 0.15), "no speeds")
}

func TestSubsample(t *testing.T) {
	known := make([]knot, 101)
	for i := range known {
		known[i] = knot{t: float64(i) * 100}
	}

	out := subsample(known, 1000)
	require.Len(t, out, 11)
	for i, k := range out {
		assert.Equal(t, float64(i)*1000, k.t)
	}

	assert.Len(t, subsample(known, 0), len(known))

	// Последняя точка слишком близко к предпоследней опорной: промежуточная не берется
	short := known[:95]
	out = subsample(short, 1000)
	assert.Equal(t, 8000.0, out[len(out)-2].t)
	assert.Equal(t, 9400.0, out[len(out)-1].t)
}

func TestLocatedKnots_DropsRepeatedTimes(t *testing.T) {
	steps := trackSteps(5, func(i int) models.PlanarPoint { return models.PlanarPoint{Northing: float64(i)} })
	steps[2].SumTimeMs = steps[1].SumTimeMs
	steps[3].LocationM = nil

	knots := locatedKnots(steps, wholeLeg(steps))
	require.Len(t, knots, 3)
	assert.Equal(t, []float64{0, 100, 400}, []float64{knots[0].t, knots[1].t, knots[2].t})
}
