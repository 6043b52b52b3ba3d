package benchmarks

import (
	"math"
	"math/rand"

	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

var benchLogger = utils.NewLogger("error", "text")

// surveySections обследование "змейкой": legs галсов по legSteps шагов по 100 мс
func surveySections(legs, legSteps int) []models.Section {
	const (
		metersPerDeg = 111320.0
		lat0, lon0   = 46.5, 7.9
		stepM        = 0.5
	)
	rng := rand.New(rand.NewSource(42))
	lonScale := metersPerDeg * math.Cos(lat0*math.Pi/180)

	var out []models.Section
	north, east := 0.0, 0.0
	add := func(yaw, pitch float64) {
		out = append(out, models.Section{
			Index:      len(out),
			DurationMs: 100,
			Location:   &models.GeoPoint{Latitude: lat0 + north/metersPerDeg, Longitude: lon0 + east/lonScale},
			AltitudeM:  models.Known(60 + rng.NormFloat64()*0.3),
			YawDeg:     models.Known(yaw + rng.NormFloat64()*0.5),
			PitchDeg:   models.Known(pitch),
			Zoom:       models.Known(1),
		})
	}
	for leg := 0; leg < legs; leg++ {
		yaw, dir := 0.0, 1.0
		if leg%2 == 1 {
			yaw, dir = 180, -1
		}
		for i := 0; i < legSteps; i++ {
			north += dir * stepM
			add(yaw, -90)
		}
		for i := 0; i < 30; i++ {
			east += stepM
			add(yaw+dir*90, -30)
		}
	}
	return out
}

func surveyStore(legs, legSteps int) *telemetry.SampleStore {
	store := telemetry.NewSampleStore()
	for _, sec := range surveySections(legs, legSteps) {
		if err := store.Add(sec); err != nil {
			panic(err)
		}
	}
	return store
}
