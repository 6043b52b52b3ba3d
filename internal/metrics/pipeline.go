package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesRejected сэмплы, отклоненные хранилищем
	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_samples_rejected_total",
		Help: "Number of raw samples rejected on ingestion",
	}, []string{"reason"}) // out_of_order, malformed

	// SamplesAccepted принятые сэмплы
	SamplesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_samples_accepted_total",
		Help: "Number of raw samples accepted on ingestion",
	})

	// StageDuration длительность стадий конвейера
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "footprint_stage_duration_seconds",
		Help:    "Duration of pipeline stages in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"stage"})

	// Legs галсы по исходу
	Legs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_legs_total",
		Help: "Number of leg candidates by outcome",
	}, []string{"outcome"}) // kept, discarded, trimmed, reduced

	// Footprints результаты проекции
	Footprints = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_projections_total",
		Help: "Number of footprint projections by result",
	}, []string{"result"}) // ok, terrain_corrected, no_location, no_surface, horizon, below_surface

	// ElevationCache попадания кэша высот
	ElevationCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_elevation_cache_total",
		Help: "Elevation cache lookups by result",
	}, []string{"result"}) // hit, miss

	// TerrainZoneMismatch полеты вне зоны UTM сеток рельефа
	TerrainZoneMismatch = promauto.NewCounter(prometheus.CounterOpts{
		Name: "footprint_terrain_zone_mismatch_total",
		Help: "Number of flights processed without terrain because of a UTM zone mismatch",
	})

	// InvariantViolations нарушения инвариантов, восстановленные откатом
	InvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_invariant_violations_total",
		Help: "Number of invariant violations by stage and field",
	}, []string{"stage", "field"})

	// FlightsProcessed завершенные прогоны конвейера
	FlightsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "footprint_flights_processed_total",
		Help: "Number of pipeline runs by status",
	}, []string{"status"}) // success, error

	// QueueDepth глубина очереди обработки
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "footprint_processing_queue_depth",
		Help: "Number of flights waiting for processing",
	})
)
