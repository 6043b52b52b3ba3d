package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/flight"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/service"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// Типы сообщений воспроизведения
const (
	FrameStart = "start"
	FrameStep  = "step"
	FrameEnd   = "end"
	FramePing  = "ping"
	FrameError = "error"
)

const writeWait = 10 * time.Second

// ReplayFrame сообщение сервера
type ReplayFrame struct {
	Type     string      `json:"type"`
	FlightID string      `json:"flight_id,omitempty"`
	Steps    int         `json:"steps,omitempty"`
	Legs     int         `json:"legs,omitempty"`
	Speed    float64     `json:"speed,omitempty"`
	Step     *ReplayStep `json:"step,omitempty"`
	Message  string      `json:"message,omitempty"`
	Time     int64       `json:"time,omitempty"`
}

// ReplayStep шаг в потоке воспроизведения
type ReplayStep struct {
	Index     int                 `json:"index"`
	SumTimeMs int64               `json:"sum_time_ms"`
	LegID     int                 `json:"leg_id"`
	LocationM *models.PlanarPoint `json:"location_m,omitempty"`
	Location  *models.GeoPoint    `json:"location,omitempty"`
	AltitudeM models.OptFloat     `json:"altitude_m"`
	YawDeg    models.OptFloat     `json:"yaw_deg"`
	Footprint *models.Footprint   `json:"footprint,omitempty"`

	FootprintCenter *models.GeoPoint `json:"footprint_center,omitempty"`
}

// ReplayControl сообщение клиента: pause, resume, seek (ms), speed (speed)
type ReplayControl struct {
	Type  string  `json:"type"`
	Ms    int64   `json:"ms"`
	Speed float64 `json:"speed"`
}

// ReplayHandler воспроизводит шаги полета в темпе записи через WebSocket
type ReplayHandler struct {
	upgrader websocket.Upgrader
	registry *service.Registry
	config   *config.WebSocketConfig
	logger   *utils.Logger
}

// NewReplayHandler создает обработчик воспроизведения
func NewReplayHandler(registry *service.Registry, cfg *config.WebSocketConfig, logger *utils.Logger) *ReplayHandler {
	return &ReplayHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		registry: registry,
		config:   cfg,
		logger:   logger,
	}
}

// HandleReplay GET /ws/v1/flights/:id/replay?speed=&from=
func (h *ReplayHandler) HandleReplay(c *gin.Context) {
	id := c.Param("id")
	f, ok := h.registry.Get(id)
	if !ok {
		errorJSON(c, http.StatusNotFound, "flight_not_found", "Flight "+id+" is not loaded")
		return
	}

	speed := 1.0
	if v := c.Query("speed"); v != "" {
		s, err := strconv.ParseFloat(v, 64)
		if err != nil || s <= 0 || s > h.config.MaxReplaySpeed {
			errorJSON(c, http.StatusBadRequest, "invalid_speed", "speed must be in (0, "+strconv.FormatFloat(h.config.MaxReplaySpeed, 'g', -1, 64)+"]")
			return
		}
		speed = s
	}

	var fromMs int64
	if v := c.Query("from"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errorJSON(c, http.StatusBadRequest, "invalid_from", "from must be an integer number of milliseconds")
			return
		}
		fromMs = ms
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	h.logger.WithFields(map[string]interface{}{
		"flight_id": id,
		"client_ip": c.ClientIP(),
		"speed":     speed,
	}).Info("Replay client connected")

	s := &replaySession{
		conn:     conn,
		flight:   f,
		speed:    speed,
		handler:  h,
		controls: make(chan ReplayControl, 8),
		done:     make(chan struct{}),
	}
	go s.readPump()
	s.run(fromMs)

	h.logger.WithField("flight_id", id).Debug("Replay client disconnected")
}

type replaySession struct {
	conn     *websocket.Conn
	flight   *flight.Flight
	speed    float64
	handler  *ReplayHandler
	controls chan ReplayControl
	done     chan struct{} // закрывается readPump при отключении клиента
}

// readPump читает управляющие сообщения клиента
func (s *replaySession) readPump() {
	defer close(s.done)

	pongWait := s.handler.config.PongTimeout
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.handler.logger.WithError(err).Warn("WebSocket read error")
				metrics.WebSocketErrors.Inc()
			}
			return
		}

		var ctl ReplayControl
		if err := json.Unmarshal(message, &ctl); err != nil {
			continue
		}
		select {
		case s.controls <- ctl:
		default:
		}
	}
}

// run единственный писатель соединения
func (s *replaySession) run(fromMs int64) {
	defer s.conn.Close()

	steps := s.flight.Steps
	next := firstStepAt(steps, fromMs)

	if !s.send(ReplayFrame{Type: FrameStart, FlightID: s.flight.ID, Steps: len(steps), Legs: len(s.flight.Legs), Speed: s.speed}) {
		return
	}

	ping := time.NewTicker(s.handler.config.PingInterval)
	defer ping.Stop()

	timer := time.NewTimer(0)
	defer timer.Stop()

	paused := false
	for next < len(steps) {
		select {
		case <-s.done:
			return

		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.WebSocketErrors.Inc()
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues(FramePing).Inc()

		case ctl := <-s.controls:
			switch ctl.Type {
			case "pause":
				paused = true
				timer.Stop()
			case "resume":
				if paused {
					paused = false
					timer.Reset(0)
				}
			case "seek":
				next = firstStepAt(steps, ctl.Ms)
				if !paused {
					timer.Reset(0)
				}
			case "speed":
				if ctl.Speed > 0 && ctl.Speed <= s.handler.config.MaxReplaySpeed {
					s.speed = ctl.Speed
				} else if !s.send(ReplayFrame{Type: FrameError, Message: "invalid speed"}) {
					return
				}
			}

		case <-timer.C:
			if paused {
				continue
			}
			if !s.send(ReplayFrame{Type: FrameStep, Step: s.replayStep(&steps[next])}) {
				return
			}
			next++
			if next < len(steps) {
				gap := time.Duration(steps[next].SumTimeMs-steps[next-1].SumTimeMs) * time.Millisecond
				timer.Reset(time.Duration(float64(gap) / s.speed))
			}
		}
	}

	s.send(ReplayFrame{Type: FrameEnd, FlightID: s.flight.ID})
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replay finished"))
}

func (s *replaySession) send(frame ReplayFrame) bool {
	frame.Time = time.Now().UnixMilli()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(frame); err != nil {
		s.handler.logger.WithError(err).Debug("WebSocket write error")
		metrics.WebSocketErrors.Inc()
		return false
	}
	metrics.WebSocketMessagesOut.WithLabelValues(frame.Type).Inc()
	return true
}

func (s *replaySession) replayStep(step *models.Step) *ReplayStep {
	out := &ReplayStep{
		Index:     step.Index,
		SumTimeMs: step.SumTimeMs,
		LegID:     step.LegID,
		LocationM: step.LocationM,
		AltitudeM: step.AltitudeM,
		YawDeg:    step.YawDeg,
		Footprint: step.Footprint,
	}
	proj := s.flight.Projection()
	if proj == nil {
		return out
	}
	if step.LocationM != nil {
		if g, ok := proj.Unproject(*step.LocationM); ok {
			out.Location = &g
		}
	}
	if center := step.FootprintCenter(); center != nil {
		if g, ok := proj.Unproject(*center); ok {
			out.FootprintCenter = &g
		}
	}
	return out
}

// firstStepAt позиция первого шага со временем не раньше ms
func firstStepAt(steps []models.Step, ms int64) int {
	for i := range steps {
		if steps[i].SumTimeMs >= ms {
			return i
		}
	}
	return len(steps)
}
