package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/flybeeper/drone-footprint/internal/config"
	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

const (
	subscribeQoS    = 1
	disconnectQuiet = 1000 // мс на досылку при отключении
)

// ErrNotConnected брокер недоступен
var ErrNotConnected = errors.New("mqtt broker is not connected")

// MessageHandler получает разобранное сообщение телеметрии
type MessageHandler func(msg *Message) error

// ClientStats счетчики клиента
type ClientStats struct {
	Connected     bool   `json:"connected"`
	Subscription  string `json:"subscription"`
	Received      uint64 `json:"received"`
	ParseErrors   uint64 `json:"parse_errors"`
	HandlerErrors uint64 `json:"handler_errors"`
}

// Client подписчик на телеметрию полетов.
// Сэмплы одного полета должны попадать в сессию по порядку,
// поэтому сообщения обрабатываются последовательно (OrderMatters).
type Client struct {
	conn    paho.Client
	broker  string
	parser  *Parser
	handler MessageHandler
	logger  *utils.Logger

	connected     atomic.Bool
	received      atomic.Uint64
	parseErrors   atomic.Uint64
	handlerErrors atomic.Uint64
}

// NewClient создает клиента; подключение выполняет Connect
func NewClient(cfg *config.MQTTConfig, logger *utils.Logger, handler MessageHandler) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("mqtt message handler is required")
	}
	if logger == nil {
		logger = utils.Default()
	}

	c := &Client{
		broker:  cfg.URL,
		parser:  NewParser(cfg.TopicPrefix, logger),
		handler: handler,
		logger:  logger.WithField("component", "mqtt"),
	}
	routePahoLogs(c.logger)
	c.conn = paho.NewClient(c.options(cfg))
	return c, nil
}

func (c *Client) options(cfg *config.MQTTConfig) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetCleanSession(cfg.CleanSession).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// Подписка восстанавливается при каждом переподключении
func (c *Client) onConnect(conn paho.Client) {
	c.setConnected(true)

	filter := c.parser.Subscription()
	token := conn.Subscribe(filter, subscribeQoS, func(_ paho.Client, msg paho.Message) {
		c.handle(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.WithField("topic", filter).WithError(err).Error("Failed to subscribe to telemetry topics")
		return
	}
	c.logger.WithFields(map[string]interface{}{
		"broker": c.broker,
		"topic":  filter,
	}).Info("Subscribed to telemetry topics")
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.setConnected(false)
	c.logger.WithError(err).Warn("Lost connection to MQTT broker")
}

func (c *Client) setConnected(v bool) {
	c.connected.Store(v)
	if v {
		metrics.MQTTConnectionStatus.Set(1)
	} else {
		metrics.MQTTConnectionStatus.Set(0)
	}
}

// Connect подключается к брокеру и ждет первой подписки или отмены ctx
func (c *Client) Connect(ctx context.Context) error {
	c.logger.WithField("broker", c.broker).Info("Connecting to MQTT broker")

	token := c.conn.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		// Останавливаем повторные попытки подключения
		c.conn.Disconnect(0)
		return fmt.Errorf("connect to %s: %w", c.broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", c.broker, err)
	}

	// onConnect вызывается асинхронно после завершения токена
	for !c.connected.Load() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect to %s: %w", c.broker, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// Disconnect отключается от брокера
func (c *Client) Disconnect() {
	if c.conn.IsConnected() {
		c.conn.Disconnect(disconnectQuiet)
	}
	c.setConnected(false)
	c.logger.Info("MQTT client disconnected")
}

// Ping проверка для /health
func (c *Client) Ping(context.Context) error {
	if !c.connected.Load() || !c.conn.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

// Stats снимок счетчиков
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Connected:     c.connected.Load(),
		Subscription:  c.parser.Subscription(),
		Received:      c.received.Load(),
		ParseErrors:   c.parseErrors.Load(),
		HandlerErrors: c.handlerErrors.Load(),
	}
}

func (c *Client) handle(topic string, payload []byte) {
	c.received.Add(1)

	msg, err := c.parser.Parse(topic, payload)
	if err != nil {
		c.parseErrors.Add(1)
		metrics.MQTTParseErrors.Inc()
		c.logger.WithFields(map[string]interface{}{
			"topic":        topic,
			"payload_size": len(payload),
		}).WithError(err).Warn("Dropping malformed telemetry message")
		return
	}
	metrics.MQTTMessagesReceived.WithLabelValues(string(msg.Kind)).Inc()

	if err := c.handler(msg); err != nil {
		c.handlerErrors.Add(1)
		c.logger.WithFields(map[string]interface{}{
			"flight_id": msg.FlightID,
			"kind":      msg.Kind,
		}).WithError(err).Error("Telemetry message rejected")
	}
}
