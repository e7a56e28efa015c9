package locate

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisher(t *testing.T) {
	p := NewPublisher(nil, "")
	assert.Equal(t, "skyfix", p.publishPrefix)
	assert.Equal(t, byte(1), p.qos)

	p.SetQoS(2)
	assert.Equal(t, byte(2), p.qos)
	p.SetQoS(7)
	assert.Equal(t, byte(2), p.qos, "invalid QoS is ignored")
}

func TestPublishFix(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	p := NewPublisher(mock, "drone").WithMetrics(metrics)

	fix := Fix{
		Location:  GeoPoint{Lat: 47.1, Lon: 8.2},
		Height:    140,
		Quality:   0.8,
		Rotation:  12,
		Scale:     0.3,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishFix("img.jpg", fix))

	msgs := mock.PublishedTo("drone/fix")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Retain)
	assert.Equal(t, byte(1), msgs[0].QoS)

	var got FixMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, "img.jpg", got.ImagePath)
	assert.Equal(t, fix, got.Fix)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &raw))
	assert.Contains(t, raw, "location", "fix fields are inlined")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MQTTMessages.WithLabelValues("fix")))
}

func TestPublishError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	p := NewPublisher(mock, "drone")

	require.NoError(t, p.PublishError("img.jpg", errors.New("no convergent solution")))

	msgs := mock.PublishedTo("drone/error")
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Retain)

	var got ErrorMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, "no convergent solution", got.Error)
	assert.Positive(t, got.Timestamp)
}

func TestPublishDisconnected(t *testing.T) {
	assert.Error(t, NewPublisher(nil, "x").PublishFix("a", Fix{}))

	mock := NewMockClient()
	p := NewPublisher(mock, "x")
	assert.Error(t, p.PublishFix("a", Fix{}))
	assert.Empty(t, mock.Published())
}

func TestPublishBrokerError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetPublishError(errors.New("quota"))
	err := NewPublisher(mock, "x").PublishError("a", errors.New("boom"))
	assert.Error(t, err)
}
