package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/flybeeper/drone-footprint/internal/models"
)

func TestLegsProtobuf(t *testing.T) {
	legs := []models.Leg{
		{ID: 1, MinIndex: 3, MaxIndex: 40, MinSumTimeMs: 99, MaxSumTimeMs: 1320, MinSumLinealM: 0.5, MaxSumLinealM: 44.25, WhyEnded: "Yaw change 25.0° exceeds 20.0°"},
		{ID: 2, MinIndex: 52, MaxIndex: 90, MinSumTimeMs: -33, MaxSumTimeMs: 2970, WhyEnded: "No more steps"},
	}

	id, decoded, err := DecodeLegs(EncodeLegs("flight-7", legs))
	require.NoError(t, err)
	assert.Equal(t, "flight-7", id)
	require.Len(t, decoded, 2)
	for i := range legs {
		assert.Equal(t, legs[i].ID, decoded[i].ID)
		assert.Equal(t, legs[i].MinIndex, decoded[i].MinIndex)
		assert.Equal(t, legs[i].MaxIndex, decoded[i].MaxIndex)
		assert.Equal(t, legs[i].MinSumTimeMs, decoded[i].MinSumTimeMs)
		assert.Equal(t, legs[i].MaxSumTimeMs, decoded[i].MaxSumTimeMs)
		assert.Equal(t, legs[i].MinSumLinealM, decoded[i].MinSumLinealM)
		assert.Equal(t, legs[i].MaxSumLinealM, decoded[i].MaxSumLinealM)
		assert.Equal(t, legs[i].WhyEnded, decoded[i].WhyEnded)
	}

	id, decoded, err = DecodeLegs(EncodeLegs("empty", nil))
	require.NoError(t, err)
	assert.Equal(t, "empty", id)
	assert.Empty(t, decoded)
}

func TestFootprintProtobuf(t *testing.T) {
	step := models.Step{Index: 12, SumTimeMs: 396, LegID: 2}
	_, ok := EncodeFootprint(step)
	assert.False(t, ok, "step without footprint")

	step.Footprint = &models.Footprint{
		Center: models.PlanarPoint{Northing: 5096000.5, Easting: 500123.25},
		SizeM:  models.Size{X: 57.7, Y: 46.2},
		Corners: [4]models.PlanarPoint{
			{Northing: 5096023, Easting: 500094},
			{Northing: 5096023, Easting: 500152},
			{Northing: 5095977, Easting: 500152},
			{Northing: 5095977, Easting: 500094},
		},
		YawDeg:              10,
		CameraToVerticalDeg: 3.5,
		TerrainCorrected:    true,
	}

	data, ok := EncodeFootprint(step)
	require.True(t, ok)

	index, sumTimeMs, fp, err := DecodeFootprint(data)
	require.NoError(t, err)
	assert.Equal(t, 12, index)
	assert.EqualValues(t, 396, sumTimeMs)
	assert.Equal(t, *step.Footprint, fp)
}

func TestDecode_Malformed(t *testing.T) {
	_, _, err := DecodeLegs([]byte{0x0a, 0x05, 0x01})
	assert.Error(t, err)

	_, _, _, err = DecodeFootprint([]byte{0xff})
	assert.Error(t, err)

	// Неизвестные поля пропускаются
	data := protowire.AppendTag(nil, 99, protowire.VarintType)
	data = protowire.AppendVarint(data, 7)
	id, legs, err := DecodeLegs(data)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, legs)
}
