package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/drone-footprint/internal/models"
	"github.com/flybeeper/drone-footprint/pkg/utils"
)

func TestParser_Parse_ValidTopic(t *testing.T) {
	logger := utils.NewLogger("info", "text")
	parser := NewParser("footprint/flights/", logger)

	tests := []struct {
		name        string
		topic       string
		expectError bool
	}{
		{
			name:  "Valid samples topic",
			topic: "footprint/flights/F-001/samples",
		},
		{
			name:  "Valid end topic",
			topic: "footprint/flights/F-001/end",
		},
		{
			name:        "Invalid topic - wrong prefix",
			topic:       "fb/b/F-001/samples",
			expectError: true,
		},
		{
			name:        "Invalid topic - missing kind",
			topic:       "footprint/flights/F-001",
			expectError: true,
		},
		{
			name:        "Invalid topic - extra level",
			topic:       "footprint/flights/F-001/samples/x",
			expectError: true,
		},
		{
			name:        "Invalid topic - unknown kind",
			topic:       "footprint/flights/F-001/status",
			expectError: true,
		},
		{
			name:        "Invalid topic - bad flight id",
			topic:       "footprint/flights/F 001/samples",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := parser.Parse(tt.topic, []byte(`[{"index":1}]`))

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, msg)
			} else {
				assert.NoError(t, err)
				require.NotNil(t, msg)
				assert.Equal(t, "F-001", msg.FlightID)
				assert.False(t, msg.Received.IsZero())
			}
		})
	}
}

func TestParser_Parse_Samples(t *testing.T) {
	parser := NewParser("footprint/flights", nil)

	payload := []byte(`{"samples":[
		{"index":0,"lat":46.0,"lon":8.0,"altitude_m":50,"yaw_deg":10,"pitch_deg":-90,"duration_ms":33},
		{"index":1,"lat":46.00001,"duration_ms":33},
		{"index":2,"altitude_m":null,"duration_ms":33}
	]}`)

	msg, err := parser.Parse("footprint/flights/abc/samples", payload)
	require.NoError(t, err)
	assert.Equal(t, KindSamples, msg.Kind)
	require.Len(t, msg.Samples, 2)
	assert.Len(t, msg.Rejected, 1)

	first := msg.Samples[0]
	require.NotNil(t, first.Location)
	assert.Equal(t, 46.0, first.Location.Latitude)
	assert.Equal(t, models.Known(-90), first.PitchDeg)
	assert.False(t, msg.Samples[1].AltitudeM.Valid)
}

func TestParser_Parse_BadPayload(t *testing.T) {
	parser := NewParser("footprint/flights", nil)

	for _, payload := range []string{"", "not json", "[{"} {
		_, err := parser.Parse("footprint/flights/abc/samples", []byte(payload))
		assert.ErrorIs(t, err, models.ErrMalformedInput, "payload %q", payload)
	}

	_, err := parser.Parse("footprint/flights/abc/end", []byte("{bad"))
	assert.Error(t, err)
}

func TestParser_Parse_End(t *testing.T) {
	parser := NewParser("footprint/flights", nil)

	msg, err := parser.Parse("footprint/flights/abc/end", nil)
	require.NoError(t, err)
	assert.Equal(t, KindEnd, msg.Kind)
	assert.Equal(t, EndPayload{}, msg.End)

	msg, err = parser.Parse("footprint/flights/abc/end", []byte(`{"drone_model":"mavic-3t","ground_reference":"start"}`))
	require.NoError(t, err)
	assert.Equal(t, "mavic-3t", msg.End.DroneModel)
	assert.Equal(t, models.OnGroundAtStart, msg.End.GroundReference)

	_, err = parser.Parse("footprint/flights/abc/end", []byte(`{"ground_reference":"sometimes"}`))
	assert.Error(t, err)
}

func TestParser_Topics(t *testing.T) {
	parser := NewParser("/footprint/flights/", nil)
	assert.Equal(t, "footprint/flights/+/+", parser.Subscription())
	assert.Equal(t, "footprint/flights/F1/end", parser.Topic("F1", KindEnd))

	msg, err := parser.Parse(parser.Topic("F1", KindSamples), []byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, msg.Samples)
}
