package locate

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// FixMessage is the payload published on the fix topic
type FixMessage struct {
	ImagePath string `json:"imagePath"`
	Fix
}

// ErrorMessage is the payload published on the error topic
type ErrorMessage struct {
	ImagePath string `json:"imagePath,omitempty"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher publishes fixes and request failures to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	metrics       *Metrics
}

// NewPublisher creates a publisher. If client is nil, publishing is disabled.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "skyfix"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
	}
}

// WithMetrics attaches a metrics collector
func (p *Publisher) WithMetrics(m *Metrics) *Publisher {
	p.metrics = m
	return p
}

// PublishFix publishes fix as the retained latest fix
func (p *Publisher) PublishFix(imagePath string, fix Fix) error {
	if err := p.publish(FixTopic(p.publishPrefix), true, FixMessage{ImagePath: imagePath, Fix: fix}); err != nil {
		return err
	}
	p.metrics.RecordMQTT("fix")
	log.Printf("[MQTT] Published fix for %s: %.6f,%.6f height=%dm",
		imagePath, fix.Location.Lat, fix.Location.Lon, fix.Height)
	return nil
}

// PublishError reports a failed request. Errors are not retained.
func (p *Publisher) PublishError(imagePath string, cause error) error {
	msg := ErrorMessage{
		ImagePath: imagePath,
		Error:     cause.Error(),
		Timestamp: time.Now().Unix(),
	}
	if err := p.publish(ErrorTopic(p.publishPrefix), false, msg); err != nil {
		return err
	}
	p.metrics.RecordMQTT("error")
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

func (p *Publisher) publish(topic string, retain bool, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}
