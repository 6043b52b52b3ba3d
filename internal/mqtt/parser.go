package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/flybeeper/drone-footprint/internal/ingest"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// Kind тип сообщения по последнему сегменту топика
type Kind string

const (
	KindSamples Kind = "samples" // <prefix>/<flight>/samples: пакет сэмплов JSON
	KindEnd     Kind = "end"     // <prefix>/<flight>/end: полет закончен, можно обрабатывать
)

var flightIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// EndPayload необязательные параметры обработки из сообщения end
type EndPayload struct {
	DroneModel      string                 `json:"drone_model,omitempty"`
	GroundReference models.GroundReference `json:"ground_reference,omitempty"`
}

// Message разобранное MQTT сообщение
type Message struct {
	FlightID string
	Kind     Kind
	Samples  []models.Section
	Rejected []error // сэмплы пакета с неверными полями
	End      EndPayload
	Received time.Time
}

// Parser парсер сообщений телеметрии
type Parser struct {
	prefix string
	logger *utils.Logger
}

// NewParser создает парсер для топиков под prefix
func NewParser(prefix string, logger *utils.Logger) *Parser {
	if logger == nil {
		logger = utils.Default()
	}
	return &Parser{
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Subscription фильтр подписки на все топики парсера
func (p *Parser) Subscription() string {
	return p.prefix + "/+/+"
}

// Topic топик сообщения для полета
func (p *Parser) Topic(flightID string, kind Kind) string {
	return p.prefix + "/" + flightID + "/" + string(kind)
}

// Parse парсит MQTT сообщение: <prefix>/<flight_id>/<kind>
func (p *Parser) Parse(topic string, payload []byte) (*Message, error) {
	rest, ok := strings.CutPrefix(topic, p.prefix+"/")
	if !ok {
		return nil, fmt.Errorf("invalid topic format: %s", topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid topic format: %s", topic)
	}

	flightID, kind := parts[0], Kind(parts[1])
	if !flightIDPattern.MatchString(flightID) {
		return nil, fmt.Errorf("invalid flight id in topic: %q", flightID)
	}

	msg := &Message{FlightID: flightID, Kind: kind, Received: time.Now()}

	switch kind {
	case KindSamples:
		samples, rejected, err := ingest.DecodeBatch(payload)
		if err != nil {
			return nil, fmt.Errorf("flight %s: %w", flightID, err)
		}
		msg.Samples = samples
		msg.Rejected = rejected
	case KindEnd:
		if len(bytes.TrimSpace(payload)) > 0 {
			if err := json.Unmarshal(payload, &msg.End); err != nil {
				return nil, fmt.Errorf("flight %s: bad end payload: %w", flightID, err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported message kind %q", kind)
	}

	return msg, nil
}
