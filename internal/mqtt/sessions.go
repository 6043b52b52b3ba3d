package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flybeeper/drone-footprint/internal/metrics"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

// ErrUnknownSession сообщение end для полета без принятых сэмплов
var ErrUnknownSession = errors.New("unknown ingest session")

// Session сэмплы одного полета, собираемые до сообщения end
type Session struct {
	FlightID string
	Store    *telemetry.SampleStore
	End      EndPayload
	Started  time.Time
	LastSeen time.Time
	Rejected int
	TimedOut bool // закрыта по тайм-ауту, а не по end
}

// CompleteFunc получает закрытую сессию
type CompleteFunc func(s *Session)

// SessionManager собирает сэмплы по полетам
type SessionManager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	timeout    time.Duration
	onComplete CompleteFunc
	newStore   func() *telemetry.SampleStore
	logger     *utils.Logger
	now        func() time.Time
}

// NewSessionManager создает менеджер сессий
func NewSessionManager(timeout time.Duration, onComplete CompleteFunc, logger *utils.Logger) *SessionManager {
	if logger == nil {
		logger = utils.Default()
	}
	return &SessionManager{
		sessions:   make(map[string]*Session),
		timeout:    timeout,
		onComplete: onComplete,
		newStore:   telemetry.NewSampleStore,
		logger:     logger,
		now:        time.Now,
	}
}

// SetStoreFactory задает создание хранилищ новых сессий (проекция в зоне рельефа)
func (m *SessionManager) SetStoreFactory(newStore func() *telemetry.SampleStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newStore != nil {
		m.newStore = newStore
	}
}

// Handle MessageHandler для клиента
func (m *SessionManager) Handle(msg *Message) error {
	switch msg.Kind {
	case KindSamples:
		return m.addSamples(msg)
	case KindEnd:
		return m.finish(msg)
	}
	return fmt.Errorf("unsupported message kind %q", msg.Kind)
}

func (m *SessionManager) addSamples(msg *Message) error {
	m.mu.Lock()
	s, ok := m.sessions[msg.FlightID]
	if !ok {
		s = &Session{
			FlightID: msg.FlightID,
			Store:    m.newStore(),
			Started:  m.now(),
		}
		m.sessions[msg.FlightID] = s
		metrics.OpenSessions.Set(float64(len(m.sessions)))
		m.logger.WithField("flight_id", msg.FlightID).Info("Ingest session opened")
	}
	s.LastSeen = m.now()
	s.Rejected += len(msg.Rejected)

	accepted := 0
	for _, sec := range msg.Samples {
		if err := s.Store.Add(sec); err != nil {
			s.Rejected++
			m.logger.WithField("flight_id", msg.FlightID).WithError(err).Debug("Sample rejected")
			continue
		}
		accepted++
	}
	m.mu.Unlock()

	if accepted < len(msg.Samples) || len(msg.Rejected) > 0 {
		m.logger.WithFields(map[string]interface{}{
			"flight_id": msg.FlightID,
			"accepted":  accepted,
			"rejected":  len(msg.Samples) - accepted + len(msg.Rejected),
		}).Warn("Samples rejected from batch")
	}
	return nil
}

func (m *SessionManager) finish(msg *Message) error {
	m.mu.Lock()
	s, ok := m.sessions[msg.FlightID]
	if ok {
		delete(m.sessions, msg.FlightID)
		metrics.OpenSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, msg.FlightID)
	}

	s.End = msg.End
	m.logger.WithFields(map[string]interface{}{
		"flight_id": s.FlightID,
		"samples":   s.Store.Len(),
		"rejected":  s.Rejected,
	}).Info("Ingest session completed")

	if m.onComplete != nil {
		m.onComplete(s)
	}
	return nil
}

// Sweep закрывает сессии без сэмплов дольше тайм-аута.
// Возвращает число закрытых сессий.
func (m *SessionManager) Sweep() int {
	if m.timeout <= 0 {
		return 0
	}

	m.mu.Lock()
	now := m.now()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastSeen) > m.timeout {
			s.TimedOut = true
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	metrics.OpenSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	for _, s := range expired {
		m.logger.WithFields(map[string]interface{}{
			"flight_id": s.FlightID,
			"samples":   s.Store.Len(),
		}).Warn("Ingest session timed out, processing what was received")
		if m.onComplete != nil {
			m.onComplete(s)
		}
	}
	return len(expired)
}

// Run периодически вызывает Sweep до отмены контекста
func (m *SessionManager) Run(ctx context.Context) {
	if m.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(m.timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Open число открытых сессий
func (m *SessionManager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
