package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/kwv/skyfix/locate"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connectedService wires app to a mock broker the way RunService does
func connectedService(t *testing.T, app *App) (*locate.MockClient, *locate.MQTTClient) {
	t.Helper()
	mock := locate.NewMockClient()
	client := locate.NewMQTTClient(mock, locate.MQTTConfig{PublishPrefix: "skyfix-test"}, app.mqttRequestHandler(context.Background()))
	require.NoError(t, mock.Connect().Error())
	require.NoError(t, client.Subscribe())

	app.MQTTClient = client
	app.Publisher = locate.NewPublisher(client.GetClient(), client.Prefix()).WithMetrics(app.Metrics)
	return mock, client
}

func TestMQTTRequestPublishesFix(t *testing.T) {
	s := newScene(t)
	app := newSceneApp(t, s)
	mock, _ := connectedService(t, app)

	payload, err := json.Marshal(locate.LocateRequest{ImagePath: s.imagePath, Corners: s.corners})
	require.NoError(t, err)
	mock.SimulateMessage("skyfix-test/request", payload)

	fixes := mock.PublishedTo("skyfix-test/fix")
	require.Len(t, fixes, 1)
	assert.True(t, fixes[0].Retain)

	var msg locate.FixMessage
	require.NoError(t, json.Unmarshal(fixes[0].Payload, &msg))
	assert.Equal(t, s.imagePath, msg.ImagePath)
	assertNear(t, s.want, msg.Location, 5)
	assert.Empty(t, mock.PublishedTo("skyfix-test/error"))

	assert.True(t, app.Tracker.HasFix())
	assert.Equal(t, 1.0, testutil.ToFloat64(app.Metrics.MQTTMessages.WithLabelValues("request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(app.Metrics.MQTTMessages.WithLabelValues("fix")))
	assert.Equal(t, 1.0, testutil.ToFloat64(app.Metrics.Requests.WithLabelValues("mqtt", "ok")))
}

func TestMQTTRequestRejectsBadPayload(t *testing.T) {
	app := newSceneApp(t, newScene(t))
	mock, _ := connectedService(t, app)

	mock.SimulateMessage("skyfix-test/request", []byte(`{"corners":"1,1,0,2"}`))

	errs := mock.PublishedTo("skyfix-test/error")
	require.Len(t, errs, 1)
	assert.False(t, errs[0].Retain)

	var msg locate.ErrorMessage
	require.NoError(t, json.Unmarshal(errs[0].Payload, &msg))
	assert.Contains(t, msg.Error, "imagePath is required")
	assert.Empty(t, mock.PublishedTo("skyfix-test/fix"))

	_, ok := app.Tracker.LastError()
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(app.Metrics.Requests.WithLabelValues("mqtt", "error")))
}

func TestMQTTRequestResolverFailure(t *testing.T) {
	s := newScene(t)
	app := newSceneApp(t, s)
	mock, _ := connectedService(t, app)

	payload, err := json.Marshal(locate.LocateRequest{ImagePath: s.imagePath, Corners: "not,a,valid,area"})
	require.NoError(t, err)
	mock.SimulateMessage("skyfix-test/request", payload)

	errs := mock.PublishedTo("skyfix-test/error")
	require.Len(t, errs, 1)
	var msg locate.ErrorMessage
	require.NoError(t, json.Unmarshal(errs[0].Payload, &msg))
	assert.Equal(t, s.imagePath, msg.ImagePath)
	assert.Contains(t, msg.Error, "invalid request")
}

func TestMQTTHandlerWithoutPublisher(t *testing.T) {
	s := newScene(t)
	app := newSceneApp(t, s)

	handler := app.mqttRequestHandler(context.Background())
	handler(locate.LocateRequest{}, errors.New("imagePath is required"))
	handler(locate.LocateRequest{ImagePath: s.imagePath, Corners: s.corners}, nil)

	rec, ok := app.Tracker.Last()
	require.True(t, ok)
	assert.Equal(t, s.imagePath, rec.ImagePath)
}

func TestMQTTPublishWhileDisconnected(t *testing.T) {
	s := newScene(t)
	app := newSceneApp(t, s)
	mock, _ := connectedService(t, app)
	mock.SetConnected(false)

	// the fix is still tracked when the broker is gone
	_, err := app.locate(context.Background(), locate.LocateRequest{ImagePath: s.imagePath, Corners: s.corners}, "mqtt")
	require.NoError(t, err)
	assert.True(t, app.Tracker.HasFix())
	assert.Empty(t, mock.Published())
}
