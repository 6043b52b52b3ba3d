package benchmarks

// Бенчмарки геометрии
//
// Ожидаемые результаты:
// - UTM Project/Unproject: < 300 ns/op, 0 allocs/op
// - GeohashEncode: < 100 ns/op
// - QuadTreeQuery (10k пятен): < 5µs
// - ElevationCached hit: < 200 ns/op

import (
	"math/rand"
	"testing"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"

	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/models"
)

func BenchmarkUTM(b *testing.B) {
	p := models.GeoPoint{Latitude: 46.5, Longitude: 7.9}
	proj := geo.NewProjection()
	planar := proj.Project(p)

	b.Run("Project", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = proj.Project(p)
		}
	})

	b.Run("Unproject", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = proj.Unproject(planar)
		}
	})
}

func BenchmarkGeohashEncode(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = geohash.EncodeWithPrecision(46.5+float64(i%1000)*1e-5, 7.9, 7)
	}
}

func BenchmarkQuadTree(b *testing.B) {
	const n = 10000
	rng := rand.New(rand.NewSource(1))
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{5000, 5000}}

	items := make([]geo.Item, n)
	for i := range items {
		x, y := rng.Float64()*4900, rng.Float64()*4900
		items[i] = geo.Item{ID: i, Bound: orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x + 60, y + 45}}}
	}

	b.Run("Insert", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			qt := geo.NewQuadTree(bound)
			for _, item := range items {
				qt.Insert(item)
			}
		}
	})

	qt := geo.NewQuadTree(bound)
	for _, item := range items {
		qt.Insert(item)
	}

	b.Run("QueryPoint", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = qt.QueryPoint(orb.Point{float64(i % 5000), float64((i * 7) % 5000)})
		}
	})
}

func BenchmarkElevation(b *testing.B) {
	grid, err := elevation.NewGrid(5000000, 400000, 2, 500, 500)
	if err != nil {
		b.Fatal(err)
	}
	for r := 0; r < grid.Rows; r++ {
		for c := 0; c < grid.Cols; c++ {
			grid.Set(r, c, float64(r+c)*0.1)
		}
	}
	p := models.PlanarPoint{Northing: 5000400.3, Easting: 400400.7}

	b.Run("Grid", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = grid.ElevationAt(p)
		}
	})

	b.Run("CachedHit", func(b *testing.B) {
		cached := elevation.NewCached(grid, 1024, elevation.DefaultCacheCellM, time.Hour)
		cached.ElevationAt(p)
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = cached.ElevationAt(p)
		}
	})
}
