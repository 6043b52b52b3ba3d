package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/drone-footprint/internal/geo"
	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/internal/telemetry"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

type completed struct {
	sessions []*Session
}

func (c *completed) record(s *Session) {
	c.sessions = append(c.sessions, s)
}

func newManager(timeout time.Duration) (*SessionManager, *completed, *time.Time) {
	done := &completed{}
	m := NewSessionManager(timeout, done.record, utils.NewLogger("error", "text"))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, done, &now
}

func samples(indices ...int) *Message {
	msg := &Message{FlightID: "f1", Kind: KindSamples}
	for _, i := range indices {
		msg.Samples = append(msg.Samples, models.Section{Index: i, DurationMs: 33})
	}
	return msg
}

func TestSessionManager_CollectsUntilEnd(t *testing.T) {
	m, done, _ := newManager(time.Minute)

	require.NoError(t, m.Handle(samples(0, 1, 2)))
	require.NoError(t, m.Handle(samples(3, 2, 4))) // 2 повторно: отклоняется
	assert.Equal(t, 1, m.Open())
	assert.Empty(t, done.sessions)

	require.NoError(t, m.Handle(&Message{FlightID: "f1", Kind: KindEnd, End: EndPayload{DroneModel: "m3t"}}))
	assert.Zero(t, m.Open())

	require.Len(t, done.sessions, 1)
	s := done.sessions[0]
	assert.Equal(t, "f1", s.FlightID)
	assert.Equal(t, 5, s.Store.Len())
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, "m3t", s.End.DroneModel)
	assert.False(t, s.TimedOut)
}

func TestSessionManager_EndWithoutSamples(t *testing.T) {
	m, done, _ := newManager(time.Minute)
	err := m.Handle(&Message{FlightID: "nope", Kind: KindEnd})
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Empty(t, done.sessions)
}

func TestSessionManager_CountsBatchRejections(t *testing.T) {
	m, done, _ := newManager(time.Minute)
	msg := samples(0)
	msg.Rejected = []error{assert.AnError, assert.AnError}
	require.NoError(t, m.Handle(msg))
	require.NoError(t, m.Handle(&Message{FlightID: "f1", Kind: KindEnd}))
	require.Len(t, done.sessions, 1)
	assert.Equal(t, 2, done.sessions[0].Rejected)
}

func TestSessionManager_SweepTimesOutIdleSessions(t *testing.T) {
	m, done, now := newManager(time.Minute)

	require.NoError(t, m.Handle(samples(0, 1)))
	other := samples(0)
	other.FlightID = "f2"

	*now = now.Add(45 * time.Second)
	require.NoError(t, m.Handle(other))

	*now = now.Add(30 * time.Second)
	assert.Equal(t, 1, m.Sweep())
	require.Len(t, done.sessions, 1)
	assert.Equal(t, "f1", done.sessions[0].FlightID)
	assert.True(t, done.sessions[0].TimedOut)
	assert.Equal(t, 1, m.Open())

	noTimeout, _, _ := newManager(0)
	require.NoError(t, noTimeout.Handle(samples(0)))
	assert.Zero(t, noTimeout.Sweep())
}

func TestSessionManager_StoreFactory(t *testing.T) {
	m, done, _ := newManager(time.Minute)
	zone := geo.UTM{Zone: 33}
	m.SetStoreFactory(func() *telemetry.SampleStore {
		return telemetry.NewSampleStoreWithProjection(geo.NewProjectionInZone(zone))
	})

	msg := &Message{FlightID: "f1", Kind: KindSamples, Samples: []models.Section{{
		Index:    0,
		Location: &models.GeoPoint{Latitude: 46.0, Longitude: 8.0},
	}}}
	require.NoError(t, m.Handle(msg))
	require.NoError(t, m.Handle(&Message{FlightID: "f1", Kind: KindEnd}))

	require.Len(t, done.sessions, 1)
	got, fixed := done.sessions[0].Store.Projection().Zone()
	require.True(t, fixed)
	assert.Equal(t, zone, got)
}
