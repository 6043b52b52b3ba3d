package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/ingest"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/repository"
	"github.com/flybeeper/drone-footprint/internal/service"
	"github.com/flybeeper/drone-footprint/pkg/pool"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// Ограничение тела запроса с сэмплами
var maxSamplesBody int64 = 32 << 20

// RESTHandler обработчик REST API endpoints
type RESTHandler struct {
	processor *service.Processor
	cache     repository.FlightCache // nil если Redis выключен
	logger    *utils.Logger
	timeout   time.Duration
}

// NewRESTHandler создает новый REST handler
func NewRESTHandler(processor *service.Processor, cache repository.FlightCache, logger *utils.Logger) *RESTHandler {
	return &RESTHandler{
		processor: processor,
		cache:     cache,
		logger:    logger,
		timeout:   30 * time.Second,
	}
}

// FlightResponse полет без шагов (шаги по ?steps=true)
type FlightResponse struct {
	service.FlightInfo
	Legs                        []models.Leg             `json:"legs"`
	Summary                     flight.Summary           `json:"summary"`
	Correction                  *flight.GroundCorrection `json:"ground_correction,omitempty"`
	Outcomes                    interface{}              `json:"footprint_outcomes"`
	Refined                     map[string]int           `json:"refined_legs"`
	Timings                     flight.Stopwatch         `json:"timings"`
	PercentAltitudeBelowTerrain float64                  `json:"percent_altitude_below_terrain"`
	Steps                       []models.Step            `json:"steps,omitempty"`
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}

func wantsProtobuf(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), ContentTypeProtobuf)
}

// flight полет из реестра или 404
func (h *RESTHandler) flight(c *gin.Context) (*flight.Flight, bool) {
	id := c.Param("id")
	f, ok := h.processor.Registry().Get(id)
	if !ok {
		errorJSON(c, http.StatusNotFound, "flight_not_found", "Flight "+id+" is not loaded")
		return nil, false
	}
	return f, true
}

func queryInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_"+name, name+" must be an integer number of milliseconds")
		return 0, false
	}
	return v, true
}

// ListFlights список полетов
// GET /api/v1/flights[?lat=&lon=&radius=]
func (h *RESTHandler) ListFlights(c *gin.Context) {
	if c.Query("lat") == "" {
		flights := h.processor.Registry().List()
		c.JSON(http.StatusOK, gin.H{
			"flights": flights,
			"count":   len(flights),
		})
		return
	}

	// Поиск по точке старта, только через кэш
	if h.cache == nil {
		errorJSON(c, http.StatusServiceUnavailable, "cache_disabled", "Spatial flight search requires Redis")
		return
	}

	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		errorJSON(c, http.StatusBadRequest, "invalid_latitude", "Latitude must be between -90 and 90")
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		errorJSON(c, http.StatusBadRequest, "invalid_longitude", "Longitude must be between -180 and 180")
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "10"), 64)
	if err != nil || radius <= 0 || radius > 200 {
		errorJSON(c, http.StatusBadRequest, "invalid_radius", "Radius must be between 0 and 200 km")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	ids, err := h.cache.FlightsNear(ctx, models.GeoPoint{Latitude: lat, Longitude: lon}, radius)
	if err != nil {
		h.logger.WithError(err).Error("Failed to search flights")
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to search flights")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"flight_ids": ids,
		"count":      len(ids),
	})
}

// IngestFlight принимает сэмплы полета и синхронно его обрабатывает
// POST /api/v1/flights/:id?drone_model=&ground_reference=
func (h *RESTHandler) IngestFlight(c *gin.Context) {
	id := c.Param("id")
	mode, err := models.ParseGroundReference(c.Query("ground_reference"))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_ground_reference", err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxSamplesBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorJSON(c, http.StatusRequestEntityTooLarge, "payload_too_large",
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		errorJSON(c, http.StatusBadRequest, "invalid_body", "Failed to read request body")
		return
	}
	sections, rejected, err := ingest.DecodeBatch(body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "malformed_input", err.Error())
		return
	}

	store := h.processor.Pipelines().NewStore()
	stats, err := ingest.Load(ingest.NewSliceSource(id, sections), store, h.logger)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "malformed_input", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	f, err := h.processor.Process(ctx, service.Job{
		FlightID:        id,
		Store:           store,
		DroneModel:      c.Query("drone_model"),
		GroundReference: mode,
	})
	if err != nil {
		if errors.Is(err, service.ErrUnknownDroneModel) {
			errorJSON(c, http.StatusBadRequest, "unknown_drone_model", err.Error())
			return
		}
		h.logger.WithField("flight_id", id).WithError(err).Error("Failed to process flight")
		errorJSON(c, http.StatusUnprocessableEntity, "processing_failed", err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"flight":   service.Info(f),
		"accepted": stats.Accepted,
		"rejected": stats.Rejected + len(rejected),
	})
}

// GetFlight полет из реестра, иначе запись из кэша
// GET /api/v1/flights/:id[?steps=true]
func (h *RESTHandler) GetFlight(c *gin.Context) {
	id := c.Param("id")
	f, ok := h.processor.Registry().Get(id)
	if !ok {
		h.cachedFlight(c, id)
		return
	}

	resp := FlightResponse{
		FlightInfo:                  service.Info(f),
		Legs:                        f.Legs,
		Summary:                     f.Summary,
		Correction:                  f.Correction,
		Outcomes:                    f.Outcomes,
		Refined:                     f.Refined,
		Timings:                     f.Timings,
		PercentAltitudeBelowTerrain: f.PercentAltitudeBelowTerrain(),
	}
	if c.Query("steps") == "true" {
		resp.Steps = f.Steps
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RESTHandler) cachedFlight(c *gin.Context, id string) {
	if h.cache == nil {
		errorJSON(c, http.StatusNotFound, "flight_not_found", "Flight "+id+" is not loaded")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	rec, err := h.cache.GetFlight(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		errorJSON(c, http.StatusNotFound, "flight_not_found", "Flight "+id+" not found")
	case err != nil:
		h.logger.WithField("flight_id", id).WithError(err).Error("Failed to read cached flight")
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to retrieve flight")
	default:
		c.JSON(http.StatusOK, gin.H{
			"source": "cache",
			"flight": rec,
		})
	}
}

// GetLegs галсы полета (JSON или protobuf)
// GET /api/v1/flights/:id/legs
func (h *RESTHandler) GetLegs(c *gin.Context) {
	f, ok := h.flight(c)
	if !ok {
		return
	}
	if wantsProtobuf(c) {
		buf := AppendLegs(pool.Global.GetBytes(), f.ID, f.Legs)
		c.Data(http.StatusOK, ContentTypeProtobuf, buf)
		pool.Global.PutBytes(buf)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"legs":  f.Legs,
		"count": len(f.Legs),
	})
}

// LegsOverlapping первый и последний галс, пересекающие интервал
// GET /api/v1/flights/:id/legs/overlapping?from=&to=
func (h *RESTHandler) LegsOverlapping(c *gin.Context) {
	f, ok := h.flight(c)
	if !ok {
		return
	}
	from, ok := queryInt64(c, "from")
	if !ok {
		return
	}
	to, ok := queryInt64(c, "to")
	if !ok {
		return
	}

	first, last, found := f.LegsOverlapping(from, to)
	c.JSON(http.StatusOK, gin.H{
		"found":        found,
		"first_leg_id": first,
		"last_leg_id":  last,
	})
}

// NearestStep шаг с ближайшим временем
// GET /api/v1/flights/:id/steps/nearest?ms=
func (h *RESTHandler) NearestStep(c *gin.Context) {
	h.stepQuery(c, (*flight.Flight).NearestStepByTime)
}

// StepAtOrBefore последний шаг не позже ms
// GET /api/v1/flights/:id/steps/at-or-before?ms=
func (h *RESTHandler) StepAtOrBefore(c *gin.Context) {
	h.stepQuery(c, (*flight.Flight).StepAtOrBefore)
}

func (h *RESTHandler) stepQuery(c *gin.Context, query func(*flight.Flight, int64) (models.Step, bool)) {
	f, ok := h.flight(c)
	if !ok {
		return
	}
	ms, ok := queryInt64(c, "ms")
	if !ok {
		return
	}
	step, found := query(f, ms)
	if !found {
		errorJSON(c, http.StatusNotFound, "step_not_found", "No step for the given time")
		return
	}
	c.JSON(http.StatusOK, step)
}

// GetFootprint пятно шага, покрывающего кадр видео
// GET /api/v1/flights/:id/footprint?ms=
func (h *RESTHandler) GetFootprint(c *gin.Context) {
	f, ok := h.flight(c)
	if !ok {
		return
	}
	ms, ok := queryInt64(c, "ms")
	if !ok {
		return
	}

	step, found := f.FrameStep(ms)
	if !found {
		errorJSON(c, http.StatusNotFound, "step_not_found", "Frame time is after the last step")
		return
	}
	if wantsProtobuf(c) {
		buf, ok := AppendFootprint(pool.Global.GetBytes(), step)
		if !ok {
			pool.Global.PutBytes(buf)
			errorJSON(c, http.StatusNotFound, "no_footprint", "Step has no footprint")
			return
		}
		c.Data(http.StatusOK, ContentTypeProtobuf, buf)
		pool.Global.PutBytes(buf)
		return
	}

	center := step.FootprintCenter()
	if center == nil {
		errorJSON(c, http.StatusNotFound, "no_footprint", "Step has no footprint")
		return
	}

	resp := gin.H{
		"index":       step.Index,
		"sum_time_ms": step.SumTimeMs,
		"leg_id":      step.LegID,
		"footprint":   step.Footprint,
	}
	if proj := f.Projection(); proj != nil {
		if g, ok := proj.Unproject(*center); ok {
			resp["center_geo"] = g
		}
	}
	c.JSON(http.StatusOK, resp)
}

// LocateRequest точка кадра: доли ширины h и высоты v в [0, 1]
type LocateRequest struct {
	Ms          *int64             `json:"ms"`
	Position    *int               `json:"position"`
	H           float64            `json:"h"`
	V           float64            `json:"v"`
	BlockOffset models.PlanarPoint `json:"block_offset"`
}

// Locate положение точки кадра на земле
// POST /api/v1/flights/:id/locate
func (h *RESTHandler) Locate(c *gin.Context) {
	f, ok := h.flight(c)
	if !ok {
		return
	}

	var req LocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if math.IsNaN(req.H) || math.IsNaN(req.V) || req.H < 0 || req.H > 1 || req.V < 0 || req.V > 1 {
		errorJSON(c, http.StatusBadRequest, "invalid_frame_point", "h and v must be within [0, 1]")
		return
	}

	var pos int
	switch {
	case req.Position != nil:
		pos = *req.Position
	case req.Ms != nil:
		step, found := f.FrameStep(*req.Ms)
		if !found {
			errorJSON(c, http.StatusNotFound, "step_not_found", "Frame time is after the last step")
			return
		}
		pos = step.Position
	default:
		errorJSON(c, http.StatusBadRequest, "missing_step", "Either ms or position is required")
		return
	}

	loc, found := f.Locate(pos, req.H, req.V, req.BlockOffset)
	if !found {
		errorJSON(c, http.StatusNotFound, "not_locatable", "Step has no footprint or the ray misses the ground")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"position": pos,
		"location": loc,
	})
}

// GroundReferenceRequest режим коррекции опорной высоты
type GroundReferenceRequest struct {
	Mode models.GroundReference `json:"mode"`
}

// SetGroundReference пересчитывает полет с коррекцией опорной высоты
// POST /api/v1/flights/:id/ground-reference
func (h *RESTHandler) SetGroundReference(c *gin.Context) {
	var req GroundReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_ground_reference", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	f, err := h.processor.ApplyGroundReference(ctx, c.Param("id"), req.Mode)
	switch {
	case errors.Is(err, service.ErrFlightNotFound):
		errorJSON(c, http.StatusNotFound, "flight_not_found", err.Error())
		return
	case errors.Is(err, models.ErrInsufficientData):
		errorJSON(c, http.StatusUnprocessableEntity, "insufficient_data", err.Error())
		return
	case err != nil:
		h.logger.WithField("flight_id", c.Param("id")).WithError(err).Error("Failed to apply ground reference")
		errorJSON(c, http.StatusInternalServerError, "internal_error", "Failed to reprocess flight")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"flight":                         service.Info(f),
		"mode":                           req.Mode,
		"ground_correction":              f.Correction,
		"percent_altitude_below_terrain": f.PercentAltitudeBelowTerrain(),
	})
}

// GetSummary сводка по интервалу; без параметров весь полет
// GET /api/v1/flights/:id/summary?from=&to=
func (h *RESTHandler) GetSummary(c *gin.Context) {
	f, ok := h.flight(c)
	if !ok {
		return
	}

	var from, to int64
	if n := len(f.Steps); n > 0 {
		from, to = f.Steps[0].SumTimeMs, f.Steps[n-1].SumTimeMs
	}
	if c.Query("from") != "" {
		if from, ok = queryInt64(c, "from"); !ok {
			return
		}
	}
	if c.Query("to") != "" {
		if to, ok = queryInt64(c, "to"); !ok {
			return
		}
	}
	c.JSON(http.StatusOK, f.Summarize(from, to))
}
