package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/ingest"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

func writeFlightCSV(t *testing.T, n int) string {
	t.Helper()
	sections := make([]models.Section, 0, n)
	for i := 0; i < n; i++ {
		sections = append(sections, models.Section{
			Index:      i,
			DurationMs: 33,
			Location:   &models.GeoPoint{Latitude: 46.0 + float64(i)*1e-5, Longitude: 8.0},
			AltitudeM:  models.Known(60),
			YawDeg:     models.Known(5),
			PitchDeg:   models.Known(-90),
			Zoom:       models.Known(1),
		})
	}

	path := filepath.Join(t.TempDir(), "flight.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, ingest.WriteCSV(f, sections))
	return path
}

func TestRun_TextReport(t *testing.T) {
	path := writeFlightCSV(t, 200)

	var out bytes.Buffer
	opts := &options{Input: path, FlightID: "survey-1", DroneModel: "default"}
	require.NoError(t, run(opts, &out, utils.NewLogger("error", "text")))

	report := out.String()
	assert.Contains(t, report, "Flight survey-1")
	assert.Contains(t, report, "200 samples accepted")
	assert.Contains(t, report, "Legs")
	assert.Contains(t, report, "Timings")
}

func TestRun_JSON(t *testing.T) {
	path := writeFlightCSV(t, 200)

	var out bytes.Buffer
	opts := &options{Input: path, FlightID: "survey-2", DroneModel: "default", JSON: true}
	require.NoError(t, run(opts, &out, utils.NewLogger("error", "text")))

	var decoded struct {
		ID    string        `json:"id"`
		Steps []models.Step `json:"steps"`
		Legs  []models.Leg  `json:"legs"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "survey-2", decoded.ID)
	assert.Len(t, decoded.Steps, 200)
	assert.NotEmpty(t, decoded.Legs)
}

func TestRun_Errors(t *testing.T) {
	logger := utils.NewLogger("error", "text")
	var out bytes.Buffer

	err := run(&options{Input: filepath.Join(t.TempDir(), "missing.csv"), DroneModel: "default"}, &out, logger)
	assert.Error(t, err)

	txt := filepath.Join(t.TempDir(), "flight.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	err = run(&options{Input: txt, DroneModel: "default"}, &out, logger)
	assert.ErrorContains(t, err, "unsupported input format")

	err = run(&options{Input: writeFlightCSV(t, 20), DroneModel: "nope"}, &out, logger)
	assert.ErrorContains(t, err, "unknown drone model")

	err = run(&options{Input: writeFlightCSV(t, 20), DroneModel: "default", Zone: "99N"}, &out, logger)
	assert.ErrorContains(t, err, "invalid UTM zone")
}

func TestRun_TerrainZone(t *testing.T) {
	// Сетка 10 м в зоне 33N покрывает полет на долготе 8° (естественная зона 32N)
	// только если полет проецируется в зону сетки
	zone := geo.UTM{Zone: 33}
	origin := zone.ToPlanar(models.GeoPoint{Latitude: 46.0, Longitude: 8.0})
	asc := fmt.Sprintf("ncols 40\nnrows 40\nxllcorner %f\nyllcorner %f\ncellsize 10\nNODATA_value -9999\n",
		origin.Easting-200, origin.Northing-100)
	for r := 0; r < 40; r++ {
		asc += strings.TrimSpace(strings.Repeat("15 ", 40)) + "\n"
	}
	dem := filepath.Join(t.TempDir(), "dem.asc")
	require.NoError(t, os.WriteFile(dem, []byte(asc), 0o644))

	decode := func(opts *options) []models.Step {
		var out bytes.Buffer
		require.NoError(t, run(opts, &out, utils.NewLogger("error", "text")))
		var decoded struct {
			Steps []models.Step `json:"steps"`
		}
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		return decoded.Steps
	}

	path := writeFlightCSV(t, 50)
	steps := decode(&options{Input: path, DroneModel: "default", DEMFile: dem, Zone: "33N", JSON: true})
	require.Len(t, steps, 50)
	v, ok := steps[0].DemM.Get()
	require.True(t, ok)
	assert.InDelta(t, 15, v, 1e-9)

	// Без зоны полет проецируется в 32N, и сетка 33N к нему не относится
	steps = decode(&options{Input: path, DroneModel: "default", DEMFile: dem, JSON: true})
	require.Len(t, steps, 50)
	assert.False(t, steps[0].DemM.Valid)
}
