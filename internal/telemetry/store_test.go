package telemetry

import (
	"errors"
	"testing"

	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func section(index, durationMs int, alt float64) models.Section {
	return models.Section{
		Index:      index,
		DurationMs: durationMs,
		Location:   &models.GeoPoint{Latitude: 46.0 + float64(index)*1e-5, Longitude: 8.0},
		AltitudeM:  models.Known(alt),
		YawDeg:     models.Known(0),
		PitchDeg:   models.Known(-90),
	}
}

func TestSampleStore_Add(t *testing.T) {
	store := NewSampleStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Add(section(i, 100, 50)))
	}

	assert.Equal(t, 5, store.Len())
	assert.Equal(t, int64(0), store.At(0).SumTimeMs)
	assert.Equal(t, int64(400), store.At(4).SumTimeMs)
	require.NotNil(t, store.At(0).LocationM)
	assert.Equal(t, 3, store.Index(3))

	zone, fixed := store.Projection().Zone()
	assert.True(t, fixed)
	assert.Equal(t, 32, zone.Zone)

	// Сэмплы ~1.11м друг от друга по северу
	d := store.At(0).LocationM.DistanceTo(*store.At(1).LocationM)
	assert.InDelta(t, 1.11, d, 0.02)
}

func TestSampleStore_RejectsOutOfOrder(t *testing.T) {
	tests := []struct {
		name  string
		index int
	}{
		{"Lower index", 3},
		{"Duplicate index", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewSampleStore()
			require.NoError(t, store.Add(section(4, 0, 10)))
			require.NoError(t, store.Add(section(5, 30, 10)))
			before := store.Sections()

			err := store.Add(section(tt.index, 30, 99))
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrOutOfOrder))
			assert.True(t, errors.Is(err, models.ErrMalformedInput))

			var inputErr *models.InputError
			require.True(t, errors.As(err, &inputErr))
			assert.Equal(t, tt.index, inputErr.Index)

			assert.Equal(t, before, store.Sections())
		})
	}
}

func TestSampleStore_RejectsMalformed(t *testing.T) {
	store := NewSampleStore()
	require.NoError(t, store.Add(section(0, 0, 10)))

	bad := section(1, -5, 10)
	err := store.Add(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrMalformedInput))
	assert.False(t, errors.Is(err, models.ErrOutOfOrder))
	assert.Equal(t, 1, store.Len())

	// Следующий корректный сэмпл принимается
	require.NoError(t, store.Add(section(2, 30, 10)))
	assert.Equal(t, int64(30), store.At(1).SumTimeMs)
}

func TestSampleStore_Nearest(t *testing.T) {
	store := NewSampleStore()
	for _, idx := range []int{0, 1, 2, 10, 14} {
		require.NoError(t, store.Add(section(idx, 30, 10)))
	}

	tests := []struct {
		name    string
		query   int
		want    int
		wantHit bool
	}{
		{"Exact", 10, 10, true},
		{"Gap prefers nearer", 8, 10, true},
		{"Four slots back", 6, 2, true},
		{"Tie prefers earlier", 12, 10, true},
		{"Beyond window", 30, 0, false},
		{"Eight slots", 22, 14, true},
		{"Nine slots", 23, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := store.Nearest(tt.query)
			assert.Equal(t, tt.wantHit, ok)
			if tt.wantHit {
				assert.Equal(t, tt.want, got.Index)
			}
		})
	}
}

func TestSampleStore_NearestByTime(t *testing.T) {
	store := NewSampleStore()
	_, ok := store.NearestByTime(0)
	assert.False(t, ok)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Add(section(i, 100, 10)))
	}

	tests := []struct {
		ms   int64
		want int
	}{
		{0, 0},
		{149, 1},
		{151, 2},
		{150, 1},
		{-500, 0},
		{100000, 9},
	}
	for _, tt := range tests {
		got, ok := store.NearestByTime(tt.ms)
		require.True(t, ok)
		assert.Equal(t, tt.want, got.Index, "ms=%d", tt.ms)
	}
}

func TestSampleStore_StatsInvalidatedOnAdd(t *testing.T) {
	store := NewSampleStore()
	assert.False(t, store.MaxAltitude().Valid)

	require.NoError(t, store.Add(section(0, 0, 50)))
	require.NoError(t, store.Add(section(1, 1000, 60)))
	assert.Equal(t, models.Known(60), store.MaxAltitude())
	assert.Equal(t, models.Known(50), store.MinAltitude())

	require.NoError(t, store.Add(section(2, 1000, 80)))
	assert.Equal(t, models.Known(80), store.MaxAltitude())

	st := store.Stats()
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, int64(2000), st.DurationMs)
	// ~1.11м за 1с
	assert.InDelta(t, 1.11, store.MaxSpeed().Value, 0.02)
	assert.InDelta(t, 2.22, st.Lineal.Max.Value, 0.04)
}

func TestSampleStore_HasAttitude(t *testing.T) {
	store := NewSampleStore()
	s := section(0, 0, 10)
	s.YawDeg = models.Unknown()
	require.NoError(t, store.Add(s))
	assert.False(t, store.HasAttitude())

	require.NoError(t, store.Add(section(1, 30, 10)))
	assert.True(t, store.HasAttitude())
}

func TestSampleStore_UnknownLocation(t *testing.T) {
	store := NewSampleStore()
	s := section(0, 0, 10)
	s.Location = nil
	require.NoError(t, store.Add(s))
	assert.Nil(t, store.At(0).LocationM)

	_, fixed := store.Projection().Zone()
	assert.False(t, fixed)
}
