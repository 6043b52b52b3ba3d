// flight-report прогоняет записанный полет через конвейер и печатает отчет.
//
//	flight-report -i flight.csv [-id name] [-model mavic-3t] [-dem dem.asc] [-ground start]
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/ingest"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

type options struct {
	Input       string
	FlightID    string
	RulesFile   string
	CamerasFile string
	DroneModel  string
	DEMFile     string
	DSMFile     string
	Zone        string // зона UTM сеток, например "32N"
	Ground      models.GroundReference
	JSON        bool
	Verbose     bool
}

func parseOptions() (*options, error) {
	o := &options{}
	var ground string

	flag.StringVar(&o.Input, "i", "", "Path to the telemetry file (.csv, .json or .ndjson)")
	flag.StringVar(&o.FlightID, "id", "", "Flight ID (random UUID when empty)")
	flag.StringVar(&o.RulesFile, "rules", "", "Path to the segmentation rules YAML")
	flag.StringVar(&o.CamerasFile, "cameras", "", "Path to the camera table YAML")
	flag.StringVar(&o.DroneModel, "model", "default", "Drone model from the camera table")
	flag.StringVar(&o.DEMFile, "dem", "", "Path to the DEM in ESRI ASCII grid format")
	flag.StringVar(&o.DSMFile, "dsm", "", "Path to the DSM in ESRI ASCII grid format")
	flag.StringVar(&o.Zone, "zone", "", "UTM zone of the DEM/DSM grids, e.g. 32N; flights are projected into it")
	flag.StringVar(&ground, "ground", "neither", "Where the drone stood on the ground: start, end, both, neither")
	flag.BoolVar(&o.JSON, "json", false, "Print the flight as JSON instead of a text report")
	flag.BoolVar(&o.Verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if o.Input == "" {
		flag.Usage()
		return nil, errors.New("input file is required")
	}

	var err error
	if o.Ground, err = models.ParseGroundReference(ground); err != nil {
		return nil, err
	}
	if o.FlightID == "" {
		o.FlightID = uuid.NewString()
	}
	return o, nil
}

func main() {
	opts, err := parseOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	logger := utils.NewLogger(level, "text")

	if err := run(opts, os.Stdout, logger); err != nil {
		logger.WithError(err).Fatal("Flight report failed")
	}
}

func run(opts *options, out io.Writer, logger *utils.Logger) error {
	var zone *geo.UTM
	if opts.Zone != "" {
		z, err := geo.ParseZone(opts.Zone)
		if err != nil {
			return err
		}
		zone = &z
	}

	store, stats, size, err := loadFlight(opts.Input, zone, logger)
	if err != nil {
		return err
	}

	pipeline, err := buildPipeline(opts, zone, logger)
	if err != nil {
		return err
	}

	f, err := pipeline.Process(opts.FlightID, store)
	if err != nil {
		return fmt.Errorf("process flight: %w", err)
	}

	if opts.Ground != models.OnGroundAtNeither {
		corrected, err := f.ApplyGroundReferenceCorrection(opts.Ground)
		switch {
		case err == nil:
			f = corrected
		case errors.Is(err, models.ErrInsufficientData):
			logger.WithError(err).Warn("Ground reference correction skipped")
		default:
			return fmt.Errorf("ground reference: %w", err)
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(f)
	}
	return writeReport(out, f, reportInput{Path: opts.Input, Bytes: size, Stats: stats})
}

func loadFlight(path string, zone *geo.UTM, logger *utils.Logger) (*telemetry.SampleStore, ingest.LoadStats, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, ingest.LoadStats{}, 0, err
	}
	defer file.Close()

	var size int64
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	var src ingest.Source
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		if src, err = ingest.NewCSVSource(path, file); err != nil {
			return nil, ingest.LoadStats{}, size, err
		}
	case ".json", ".ndjson", ".jsonl":
		src = ingest.NewJSONSource(path, file)
	default:
		return nil, ingest.LoadStats{}, size, fmt.Errorf("unsupported input format %q", filepath.Ext(path))
	}

	store := telemetry.NewSampleStore()
	if zone != nil {
		store = telemetry.NewSampleStoreWithProjection(geo.NewProjectionInZone(*zone))
	}
	stats, err := ingest.Load(src, store, logger)
	if err != nil {
		return nil, stats, size, err
	}
	return store, stats, size, nil
}

func buildPipeline(opts *options, zone *geo.UTM, logger *utils.Logger) (*flight.Pipeline, error) {
	rules, err := config.LoadRules(opts.RulesFile)
	if err != nil {
		return nil, err
	}
	cameras, err := config.LoadCameras(opts.CamerasFile)
	if err != nil {
		return nil, err
	}
	camera, ok := cameras.Camera(opts.DroneModel)
	if !ok {
		return nil, fmt.Errorf("unknown drone model %q, known: %s", opts.DroneModel, strings.Join(cameras.Names(), ", "))
	}

	var dem, dsm elevation.Source
	if opts.DEMFile != "" {
		grid, err := loadGrid(opts.DEMFile)
		if err != nil {
			return nil, err
		}
		dem = grid
	}
	if opts.DSMFile != "" {
		grid, err := loadGrid(opts.DSMFile)
		if err != nil {
			return nil, err
		}
		dsm = grid
	}

	terrain := elevation.NewTerrain(dem, dsm)
	if zone != nil {
		terrain = terrain.InZone(*zone)
	}

	return flight.NewPipeline(flight.Config{
		Rules:   rules,
		Camera:  camera,
		Terrain: terrain,
	}, logger)
}

func loadGrid(path string) (*elevation.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	grid, err := elevation.LoadASCII(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return grid, nil
}
