package locate

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RequestHandler is called for every message on the request topic.
// err is set when the payload could not be decoded.
type RequestHandler func(req LocateRequest, err error)

// MQTTClient manages the broker connection and the request subscription
type MQTTClient struct {
	client      mqtt.Client
	config      MQTTConfig
	handler     RequestHandler
	isConnected bool
	mu          sync.RWMutex
}

// RequestTopic returns the topic location requests arrive on
func RequestTopic(prefix string) string { return prefix + "/request" }

// FixTopic returns the topic fixes are published on
func FixTopic(prefix string) string { return prefix + "/fix" }

// ErrorTopic returns the topic failed requests are reported on
func ErrorTopic(prefix string) string { return prefix + "/error" }

// InitMQTT connects to the configured broker and subscribes to the request
// topic. An empty broker disables MQTT and returns nil.
func InitMQTT(config MQTTConfig, handler RequestHandler) (*MQTTClient, error) {
	if config.Broker == "" {
		log.Println("MQTT disabled: no broker configured")
		return nil, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no request handler provided")
	}
	if config.PublishPrefix == "" {
		config.PublishPrefix = "skyfix"
	}
	if config.ClientID == "" {
		config.ClientID = "skyfix"
	}

	client := &MQTTClient{config: config, handler: handler}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Requests are long-running; let them proceed concurrently
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)
	go client.connectWithRetry()

	return client, nil
}

// NewMQTTClient wraps an already configured client, such as MockClient.
// The caller connects it and calls Subscribe.
func NewMQTTClient(client mqtt.Client, config MQTTConfig, handler RequestHandler) *MQTTClient {
	if config.PublishPrefix == "" {
		config.PublishPrefix = "skyfix"
	}
	return &MQTTClient{client: client, config: config, handler: handler}
}

// connectWithRetry connects with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if err := c.Subscribe(); err != nil {
		log.Printf("[MQTT] %v", err)
	}
}

// Subscribe registers the request handler on the request topic
func (c *MQTTClient) Subscribe() error {
	topic := RequestTopic(c.config.PublishPrefix)
	log.Printf("[MQTT] Subscribing to %s", topic)
	token := c.client.Subscribe(topic, 1, c.handleRequest)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}
	return nil
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

func (c *MQTTClient) handleRequest(client mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	log.Printf("[MQTT] Request on %s (%d bytes)", msg.Topic(), len(payload))
	req, err := ParseLocateRequest(payload)
	c.handler(req, err)
}

// IsConnected reports the connection state
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect closes the connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Prefix returns the topic prefix in use
func (c *MQTTClient) Prefix() string { return c.config.PublishPrefix }

// GetClient returns the underlying client for publishing
func (c *MQTTClient) GetClient() mqtt.Client { return c.client }
