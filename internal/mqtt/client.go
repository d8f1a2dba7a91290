package mqtt

import (
	"context"
	"fmt"
	"maps"
	"net"
	"net/url"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

// client implements Client on top of paho.
type client struct {
	config  Config
	metrics Metrics
	log     logger.Logger

	mu            sync.Mutex
	internal      paho.Client
	subscriptions map[string]func([]byte)
}

// NewClient creates an MQTT client. metrics may be nil. A random suffix is
// added to the client id so several workers can share one configured id.
func NewClient(config Config, metrics Metrics) Client {
	if config.ClientID == "" {
		config.ClientID = "voterimport"
	}
	config.ClientID = fmt.Sprintf("%s-%s", config.ClientID, uuid.NewString()[:8])
	return &client{
		config:        config,
		metrics:       metrics,
		log:           GetLogger().With(logger.String("broker", config.Broker)),
		subscriptions: make(map[string]func([]byte)),
	}
}

// Connect resolves the broker host first so DNS failures surface as such,
// then connects with automatic reconnects enabled.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return mqttError(err, "parse_broker_url")
	}
	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return mqttError(fmt.Errorf("failed to resolve hostname %s: %w", host, err), "resolve_broker")
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internal = paho.NewClient(opts)
	token := c.internal.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return mqttError(errors.NewStd("connection timeout"), "connect")
	}
	if err := token.Error(); err != nil {
		c.recordConnected(false)
		return mqttError(err, "connect")
	}
	return nil
}

// Publish sends payload with the configured QoS.
func (c *client) Publish(_ context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	internal := c.internal
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		err := mqttError(errors.NewStd("not connected to MQTT broker"), "publish")
		c.recordPublish(err)
		return err
	}

	token := internal.Publish(topic, c.config.QoS, false, payload)
	var err error
	switch {
	case !token.WaitTimeout(c.config.PublishTimeout):
		err = mqttError(errors.NewStd("publish timeout"), "publish")
	case token.Error() != nil:
		err = mqttError(token.Error(), "publish")
	}
	c.recordPublish(err)
	return err
}

// Subscribe records the handler and subscribes now when connected.
func (c *client) Subscribe(topic string, handler func([]byte)) error {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	internal := c.internal
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		return nil
	}
	return c.subscribe(internal, topic, handler)
}

func (c *client) subscribe(internal paho.Client, topic string, handler func([]byte)) error {
	token := internal.Subscribe(topic, c.config.QoS, func(_ paho.Client, msg paho.Message) {
		if c.metrics != nil {
			c.metrics.RecordReceived()
		}
		handler(msg.Payload())
	})
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return mqttError(errors.NewStd("subscribe timeout"), "subscribe")
	}
	if err := token.Error(); err != nil {
		return mqttError(err, "subscribe")
	}
	return nil
}

// IsConnected returns true if the client is currently connected.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internal != nil && c.internal.IsConnected() {
		c.internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.recordConnected(false)
	}
}

// onConnect restores subscriptions; the session is clean on every connect.
func (c *client) onConnect(internal paho.Client) {
	c.log.Info("connected to MQTT broker")
	c.recordConnected(true)

	c.mu.Lock()
	subs := maps.Clone(c.subscriptions)
	c.mu.Unlock()

	for topic, h := range subs {
		go func() {
			if err := c.subscribe(internal, topic, h); err != nil {
				c.log.Error("resubscribe failed", logger.String("topic", topic), logger.Error(err))
			}
		}()
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.Error(err))
	c.recordConnected(false)
}

func (c *client) recordConnected(connected bool) {
	if c.metrics != nil {
		c.metrics.SetConnected(connected)
	}
}

func (c *client) recordPublish(err error) {
	if c.metrics != nil {
		c.metrics.RecordPublish(err)
	}
}

func mqttError(err error, operation string) error {
	return errors.New(err).
		Component("mqtt").
		Category(errors.CategoryMQTT).
		Context("operation", operation).
		Build()
}
