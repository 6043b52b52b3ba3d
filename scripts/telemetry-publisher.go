package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/flybeeper/drone-footprint/internal/ingest"
	"github.com/flybeeper/drone-footprint/internal/models"
	footprintmqtt "github.com/flybeeper/drone-footprint/internal/mqtt"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
)

// PublisherConfig параметры публикации
type PublisherConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	FlightID    string
	InputFile   string
	BatchSize   int
	Realtime    bool
	DroneModel  string
	Ground      string

	// Симуляция "змейкой", если файл не задан
	Legs       int
	LegSteps   int
	StartLat   float64
	StartLon   float64
	AltitudeM  float64
	SpeedMps   float64
	RandomSeed int64
}

// Publisher отправляет полет в MQTT пакетами сэмплов
type Publisher struct {
	client mqtt.Client
	config *PublisherConfig
	parser *footprintmqtt.Parser
	stop   chan struct{}
}

func main() {
	cfg := &PublisherConfig{}
	flag.StringVar(&cfg.BrokerURL, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.ClientID, "client", "footprint-test-publisher", "MQTT client ID")
	flag.StringVar(&cfg.TopicPrefix, "prefix", "footprint/flights", "Topic prefix")
	flag.StringVar(&cfg.FlightID, "flight", "", "Flight ID (random UUID when empty)")
	flag.StringVar(&cfg.InputFile, "i", "", "CSV telemetry file (simulated flight when empty)")
	flag.IntVar(&cfg.BatchSize, "batch", 50, "Samples per MQTT message")
	flag.BoolVar(&cfg.Realtime, "realtime", false, "Pace batches by sample durations")
	flag.StringVar(&cfg.DroneModel, "model", "", "Drone model sent with the end message")
	flag.StringVar(&cfg.Ground, "ground", "neither", "Ground reference sent with the end message")
	flag.IntVar(&cfg.Legs, "legs", 4, "Simulated legs")
	flag.IntVar(&cfg.LegSteps, "leg-steps", 300, "Simulated steps per leg")
	flag.Float64Var(&cfg.StartLat, "lat", 46.0, "Simulated start latitude")
	flag.Float64Var(&cfg.StartLon, "lon", 8.0, "Simulated start longitude")
	flag.Float64Var(&cfg.AltitudeM, "alt", 60, "Simulated altitude, m")
	flag.Float64Var(&cfg.SpeedMps, "speed", 5, "Simulated ground speed, m/s")
	flag.Int64Var(&cfg.RandomSeed, "seed", time.Now().UnixNano(), "Random seed for simulated noise")
	flag.Parse()

	if cfg.FlightID == "" {
		cfg.FlightID = uuid.NewString()
	}
	ground, err := models.ParseGroundReference(cfg.Ground)
	if err != nil {
		log.Fatalf("Invalid ground reference: %v", err)
	}

	sections, err := loadSections(cfg)
	if err != nil {
		log.Fatalf("Failed to prepare samples: %v", err)
	}

	publisher, err := NewPublisher(cfg)
	if err != nil {
		log.Fatalf("Failed to create publisher: %v", err)
	}
	defer publisher.client.Disconnect(250)

	fmt.Printf("Broker:  %s\n", cfg.BrokerURL)
	fmt.Printf("Flight:  %s (%d samples)\n", cfg.FlightID, len(sections))
	fmt.Printf("Topic:   %s\n", publisher.parser.Topic(cfg.FlightID, footprintmqtt.KindSamples))

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted, flight stays open on the server until its session times out")
		close(publisher.stop)
	}()

	sent, err := publisher.Publish(sections)
	if err != nil {
		log.Fatalf("Publish failed after %d samples: %v", sent, err)
	}

	if err := publisher.End(footprintmqtt.EndPayload{DroneModel: cfg.DroneModel, GroundReference: ground}); err != nil {
		log.Fatalf("Failed to publish end: %v", err)
	}
	fmt.Printf("Published %d samples and end of flight\n", sent)
}

// NewPublisher подключается к брокеру
func NewPublisher(cfg *PublisherConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client: client,
		config: cfg,
		parser: footprintmqtt.NewParser(cfg.TopicPrefix, nil),
		stop:   make(chan struct{}),
	}, nil
}

// Publish отправляет сэмплы пакетами; возвращает число отправленных
func (p *Publisher) Publish(sections []models.Section) (int, error) {
	topic := p.parser.Topic(p.config.FlightID, footprintmqtt.KindSamples)
	sent := 0

	for start := 0; start < len(sections); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(sections) {
			end = len(sections)
		}
		batch := sections[start:end]

		payload, err := ingest.EncodeBatch(batch)
		if err != nil {
			return sent, err
		}
		token := p.client.Publish(topic, 1, false, payload)
		token.Wait()
		if token.Error() != nil {
			return sent, token.Error()
		}
		sent += len(batch)

		if !p.config.Realtime {
			continue
		}
		var pause time.Duration
		for _, sec := range batch {
			pause += time.Duration(sec.DurationMs) * time.Millisecond
		}
		select {
		case <-p.stop:
			return sent, fmt.Errorf("interrupted")
		case <-time.After(pause):
		}
	}
	return sent, nil
}

// End сообщает, что полет закончен
func (p *Publisher) End(end footprintmqtt.EndPayload) error {
	payload, err := json.Marshal(end)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.parser.Topic(p.config.FlightID, footprintmqtt.KindEnd), 1, false, payload)
	token.Wait()
	return token.Error()
}

func loadSections(cfg *PublisherConfig) ([]models.Section, error) {
	if cfg.InputFile == "" {
		return simulate(cfg), nil
	}

	f, err := os.Open(cfg.InputFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, err := ingest.NewCSVSource(cfg.InputFile, f)
	if err != nil {
		return nil, err
	}
	store := telemetry.NewSampleStore()
	stats, err := ingest.Load(src, store, nil)
	if err != nil {
		return nil, err
	}
	if stats.Rejected > 0 {
		fmt.Printf("Skipped %d invalid samples\n", stats.Rejected)
	}
	return store.Sections(), nil
}

// simulate обследование "змейкой": галсы на север и юг со сдвигом на восток
// и короткими разворотами между ними; шаг 100 мс
func simulate(cfg *PublisherConfig) []models.Section {
	const (
		stepMs     = 100
		turnSteps  = 30
		metersPerD = 111320.0
	)
	rng := rand.New(rand.NewSource(cfg.RandomSeed))
	lonScale := metersPerD * math.Cos(cfg.StartLat*math.Pi/180)
	stepM := cfg.SpeedMps * stepMs / 1000

	var out []models.Section
	north, east := 0.0, 0.0
	add := func(yaw, pitch float64) {
		out = append(out, models.Section{
			Index:      len(out),
			DurationMs: stepMs,
			Location: &models.GeoPoint{
				Latitude:  cfg.StartLat + north/metersPerD,
				Longitude: cfg.StartLon + east/lonScale,
			},
			AltitudeM: models.Known(cfg.AltitudeM + rng.NormFloat64()*0.3),
			YawDeg:    models.Known(yaw + rng.NormFloat64()*0.5),
			PitchDeg:  models.Known(pitch),
			Zoom:      models.Known(1),
		})
	}

	for leg := 0; leg < cfg.Legs; leg++ {
		yaw, dir := 0.0, 1.0
		if leg%2 == 1 {
			yaw, dir = 180, -1
		}
		for i := 0; i < cfg.LegSteps; i++ {
			north += dir * stepM
			add(yaw, -90)
		}
		// Разворот: камера поднята, курс меняется
		for i := 0; i < turnSteps && leg < cfg.Legs-1; i++ {
			east += stepM
			add(yaw+dir*90, -30)
		}
	}
	return out
}
