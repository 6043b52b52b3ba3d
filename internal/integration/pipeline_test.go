package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/elevation"
	"github.com/flybeeper/drone-footprint/internal/handler"
	"github.com/flybeeper/drone-footprint/internal/ingest"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/mqtt"
	"github.com/flybeeper/drone-footprint/internal/service"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

const (
	prefix   = "footprint/flights"
	apiKey   = "s3cret-key"
	samples  = 300
	batch    = 50
	flightID = "survey-1"
)

// PipelineTestSuite MQTT сообщения -> сессии -> обработка -> REST
type PipelineTestSuite struct {
	suite.Suite
	parser    *mqtt.Parser
	sessions  *mqtt.SessionManager
	processor *service.Processor
	server    *handler.Server
}

func (s *PipelineTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := utils.NewLogger("error", "text")

	pipelines, err := service.NewPipelines(models.DefaultRuleConfig(), config.DefaultCameraTable(), elevation.FlatTerrain(20), "default", logger)
	s.Require().NoError(err)

	pcfg := service.DefaultProcessorConfig()
	pcfg.RetryDelay = time.Millisecond
	s.processor, err = service.NewProcessor(pipelines, service.NewRegistry(), pcfg, logger)
	s.Require().NoError(err)

	s.parser = mqtt.NewParser(prefix, logger)
	s.sessions = mqtt.NewSessionManager(time.Minute, func(sess *mqtt.Session) {
		err := s.processor.Submit(service.Job{
			FlightID:        sess.FlightID,
			Store:           sess.Store,
			DroneModel:      sess.End.DroneModel,
			GroundReference: sess.End.GroundReference,
		})
		s.NoError(err)
	}, logger)

	cfg := &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Address:   ":0",
			RateLimit: 10000,
			RateBurst: 10000,
			APIKeys:   []string{"ci:" + apiKey},
		},
		WebSocket: config.WebSocketConfig{
			PingInterval:   time.Minute,
			PongTimeout:    time.Minute,
			MaxReplaySpeed: 100,
		},
	}
	s.server = handler.NewServer(cfg, s.processor, nil, logger)
}

func (s *PipelineTestSuite) TearDownTest() {
	s.processor.Stop()
}

// survey прямой пролет на север на высоте 50 м, камера вниз
func survey(from, to int) []models.Section {
	out := make([]models.Section, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, models.Section{
			Index:      i,
			DurationMs: 33,
			Location:   &models.GeoPoint{Latitude: 46.0 + float64(i)*1e-5, Longitude: 8.0},
			AltitudeM:  models.Known(50),
			YawDeg:     models.Known(10),
			PitchDeg:   models.Known(-90),
			Zoom:       models.Known(1),
		})
	}
	return out
}

func (s *PipelineTestSuite) publish(kind mqtt.Kind, payload []byte) {
	msg, err := s.parser.Parse(s.parser.Topic(flightID, kind), payload)
	s.Require().NoError(err)
	s.Require().NoError(s.sessions.Handle(msg))
}

func (s *PipelineTestSuite) request(method, target string, body []byte, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.server.Router().ServeHTTP(w, req)
	return w
}

func (s *PipelineTestSuite) waitProcessed() {
	s.Require().Eventually(func() bool {
		_, ok := s.processor.Registry().Get(flightID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func (s *PipelineTestSuite) TestMQTTSessionToREST() {
	for from := 0; from < samples; from += batch {
		payload, err := ingest.EncodeBatch(survey(from, from+batch))
		s.Require().NoError(err)
		s.publish(mqtt.KindSamples, payload)
	}
	s.Equal(1, s.sessions.Open())

	s.publish(mqtt.KindEnd, []byte(`{"ground_reference":"start"}`))
	s.Zero(s.sessions.Open())
	s.waitProcessed()

	w := s.request(http.MethodGet, "/api/v1/flights/"+flightID, nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var resp handler.FlightResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(samples, resp.FlightInfo.Steps)
	s.Len(resp.Legs, 1)
	s.Require().NotNil(resp.Correction)
	s.Equal(models.OnGroundAtStart, resp.Correction.Mode)
	s.InDelta(-30, resp.Correction.StartDeltaM, 1e-6)

	w = s.request(http.MethodGet, "/api/v1/flights/"+flightID+"/legs", nil, "Accept", handler.ContentTypeProtobuf)
	s.Require().Equal(http.StatusOK, w.Code)
	id, legs, err := handler.DecodeLegs(w.Body.Bytes())
	s.Require().NoError(err)
	s.Equal(flightID, id)
	s.Len(legs, 1)

	w = s.request(http.MethodGet, "/api/v1/flights", nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *PipelineTestSuite) TestMalformedSamplesAreRejected() {
	payload, err := ingest.EncodeBatch(survey(0, 10))
	s.Require().NoError(err)
	s.publish(mqtt.KindSamples, payload)

	_, err = s.parser.Parse(s.parser.Topic(flightID, mqtt.KindSamples), []byte("{not json"))
	s.Error(err)

	_, err = s.parser.Parse(prefix+"/bad id!/samples", payload)
	s.Error(err)
	s.Equal(1, s.sessions.Open())
}

func (s *PipelineTestSuite) TestWriteEndpointsRequireAPIKey() {
	body, err := ingest.EncodeBatch(survey(0, samples))
	s.Require().NoError(err)
	target := "/api/v1/flights/" + flightID

	w := s.request(http.MethodPost, target, body)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.request(http.MethodPost, target, body, "X-API-Key", "wrong")
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.request(http.MethodPost, target, body, "Authorization", "Bearer "+apiKey)
	s.Require().Equal(http.StatusCreated, w.Code)

	w = s.request(http.MethodPost, target+"/ground-reference", []byte(`{"mode":"start"}`))
	s.Equal(http.StatusUnauthorized, w.Code)

	// Чтение доступно без ключа
	w = s.request(http.MethodGet, target+"/summary", nil)
	s.Equal(http.StatusOK, w.Code)
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func TestSessionTimeoutSubmitsFlight(t *testing.T) {
	logger := utils.NewLogger("error", "text")
	pipelines, err := service.NewPipelines(models.DefaultRuleConfig(), config.DefaultCameraTable(), elevation.Terrain{}, "default", logger)
	require.NoError(t, err)
	processor, err := service.NewProcessor(pipelines, service.NewRegistry(), service.DefaultProcessorConfig(), logger)
	require.NoError(t, err)
	defer processor.Stop()

	var timedOut bool
	sessions := mqtt.NewSessionManager(time.Nanosecond, func(sess *mqtt.Session) {
		timedOut = sess.TimedOut
		assert.NoError(t, processor.Submit(service.Job{FlightID: sess.FlightID, Store: sess.Store}))
	}, logger)

	require.NoError(t, sessions.Handle(&mqtt.Message{FlightID: flightID, Kind: mqtt.KindSamples, Samples: survey(0, samples)}))
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, sessions.Sweep())
	assert.True(t, timedOut)

	require.Eventually(t, func() bool {
		_, ok := processor.Registry().Get(flightID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}
