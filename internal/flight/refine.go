package flight

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"

	"github.com/flybeeper/drone-footprint/internal/models"
)

// Стратегии уточнения положения внутри галса
const (
	RefineLinear  = "linear"
	RefineSpline  = "spline"
	RefineSkipped = "skipped"
)

type knot struct {
	t float64
	p models.PlanarPoint
}

// refineLegs уточняет положения шагов каждого галса.
// Возвращает число галсов по стратегиям; галсы, для которых интерполятор
// не построился, пропускаются, а их ошибки объединяются.
func refineLegs(steps []models.Step, legs []models.Leg, rules models.RuleConfig) (map[string]int, error) {
	counts := map[string]int{
		RefineLinear:  0,
		RefineSpline:  0,
		RefineSkipped: 0,
	}
	var errs []error
	for _, leg := range legs {
		strategy, err := refineLeg(steps, leg, rules)
		if err != nil {
			errs = append(errs, fmt.Errorf("leg %d: %w", leg.ID, err))
		}
		counts[strategy]++
	}
	return counts, errors.Join(errs...)
}

// refineLeg заменяет известные положения шагов галса значениями
// интерполятора по времени. Галс почти постоянной скорости интерполируется
// прямой между первым и последним известным положением, остальные
// естественным кубическим сплайном по опорным точкам через SplineKnotSpacingMs.
// Если уточнение укорачивает галс ниже MinLegDistanceM, положения не меняются.
func refineLeg(steps []models.Step, leg models.Leg, rules models.RuleConfig) (string, error) {
	known := locatedKnots(steps, leg)
	if len(known) < 2 {
		return RefineSkipped, nil
	}

	strategy := RefineLinear
	knots := []knot{known[0], known[len(known)-1]}
	if !nearConstantSpeed(steps, leg, rules.ConstantSpeedMaxCV) {
		if sub := subsample(known, rules.SplineKnotSpacingMs); len(sub) >= 3 {
			strategy = RefineSpline
			knots = sub
		}
	}

	strategy, northing, easting, err := fit(strategy, knots)
	if err != nil {
		return RefineSkipped, err
	}

	refined := make([]models.PlanarPoint, 0, leg.LastPos-leg.FirstPos+1)
	for i := leg.FirstPos; i <= leg.LastPos; i++ {
		if steps[i].LocationM == nil {
			continue
		}
		t := float64(steps[i].SumTimeMs)
		p := models.PlanarPoint{Northing: northing.Predict(t), Easting: easting.Predict(t)}
		if math.IsNaN(p.Northing) || math.IsNaN(p.Easting) {
			return RefineSkipped, nil
		}
		refined = append(refined, p)
	}

	if pathLength(refined) < rules.MinLegDistanceM {
		return RefineSkipped, nil
	}

	k := 0
	for i := leg.FirstPos; i <= leg.LastPos; i++ {
		if steps[i].LocationM == nil {
			continue
		}
		p := refined[k]
		steps[i].LocationM = &p
		k++
	}
	return strategy, nil
}

// locatedKnots известные положения галса по строго возрастающему времени
func locatedKnots(steps []models.Step, leg models.Leg) []knot {
	knots := make([]knot, 0, leg.LastPos-leg.FirstPos+1)
	for i := leg.FirstPos; i <= leg.LastPos; i++ {
		loc := steps[i].LocationM
		if loc == nil {
			continue
		}
		t := float64(steps[i].SumTimeMs)
		if n := len(knots); n > 0 && t <= knots[n-1].t {
			continue
		}
		knots = append(knots, knot{t: t, p: *loc})
	}
	return knots
}

// subsample опорные точки не чаще spacingMs, первая и последняя всегда входят
func subsample(known []knot, spacingMs int) []knot {
	if spacingMs <= 0 {
		return known
	}
	last := known[len(known)-1]
	out := []knot{known[0]}
	for _, k := range known[1 : len(known)-1] {
		if k.t-out[len(out)-1].t >= float64(spacingMs) && last.t-k.t >= float64(spacingMs)/2 {
			out = append(out, k)
		}
	}
	return append(out, last)
}

// nearConstantSpeed коэффициент вариации скорости внутри галса ниже порога.
// Скорость первого шага относится к переходу в галс и не учитывается.
func nearConstantSpeed(steps []models.Step, leg models.Leg, maxCV float64) bool {
	speeds := make([]float64, 0, leg.LastPos-leg.FirstPos)
	for i := leg.FirstPos + 1; i <= leg.LastPos; i++ {
		if v, ok := steps[i].SpeedMps.Get(); ok {
			speeds = append(speeds, v)
		}
	}
	if len(speeds) < 2 {
		return true
	}
	mean, std := stat.MeanStdDev(speeds, nil)
	if mean <= 1e-9 {
		return true
	}
	return std/mean < maxCV
}

// fit строит интерполяторы northing и easting по времени.
// Если сплайн не построился, используется прямая по крайним точкам;
// возвращается фактическая стратегия.
func fit(strategy string, knots []knot) (string, interp.Predictor, interp.Predictor, error) {
	xs := make([]float64, len(knots))
	ns := make([]float64, len(knots))
	es := make([]float64, len(knots))
	for i, k := range knots {
		xs[i], ns[i], es[i] = k.t, k.p.Northing, k.p.Easting
	}

	var northing, easting interp.FittablePredictor
	if strategy == RefineSpline {
		northing, easting = &interp.NaturalCubic{}, &interp.NaturalCubic{}
	} else {
		northing, easting = &interp.PiecewiseLinear{}, &interp.PiecewiseLinear{}
	}
	if northing.Fit(xs, ns) == nil && easting.Fit(xs, es) == nil {
		return strategy, northing, easting, nil
	}

	linN, linE := &interp.PiecewiseLinear{}, &interp.PiecewiseLinear{}
	ends := []float64{xs[0], xs[len(xs)-1]}
	if err := linN.Fit(ends, []float64{ns[0], ns[len(ns)-1]}); err != nil {
		return RefineSkipped, nil, nil, fmt.Errorf("fit northing: %w", err)
	}
	if err := linE.Fit(ends, []float64{es[0], es[len(es)-1]}); err != nil {
		return RefineSkipped, nil, nil, fmt.Errorf("fit easting: %w", err)
	}
	return RefineLinear, linN, linE, nil
}

func pathLength(points []models.PlanarPoint) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += points[i-1].DistanceTo(points[i])
	}
	return total
}
