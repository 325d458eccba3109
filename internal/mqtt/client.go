package mqtt

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"path"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/logging"
	"github.com/tphakala/audiopolicy/internal/observability/metrics"
)

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	internalClient  pahomqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	metrics         *metrics.MQTTMetrics
	logger          *slog.Logger
}

// NewClient creates a new MQTT client with the provided configuration.
// Reconnection after a lost connection is left to paho.
func NewClient(config Config, m *metrics.MQTTMetrics) Client {
	return &client{
		config:  config,
		metrics: m,
		logger:  logging.ForService("mqtt").With("broker", config.Broker),
	}
}

func mqttError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component(ComponentMQTT).
		Category(errors.CategoryNetwork).
		Context("operation", operation)
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component(ComponentMQTT).
			Category(errors.CategoryState).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Hostname() == "" {
		if err == nil {
			err = errors.NewStd("broker URL has no host")
		}
		return errors.New(err).
			Component(ComponentMQTT).
			Category(errors.CategoryConfiguration).
			Context("broker", c.config.Broker).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			c.metrics.ConnectFailed(metrics.StageResolve)
			return mqttError(err, "resolve").Context("host", host).Build()
		}
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.config.MaxReconnectDelay)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = pahomqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		c.metrics.ConnectFailed(metrics.StageConnect)
		return mqttError(errors.NewStd("connection timeout"), "connect").
			Timing("connect", c.config.ConnectTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.ConnectFailed(metrics.StageConnect)
		return mqttError(err, "connect").Build()
	}

	c.metrics.SetConnected(true)
	return nil
}

// waitToken waits for a paho token until timeout or context cancellation.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Publish sends a message to the specified topic on the MQTT broker. The last
// topic level names the notification kind in the delivery metrics.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kind := path.Base(topic)
	if !c.isConnected() {
		c.metrics.NotificationUndelivered(kind, metrics.DeliveryNotConnected)
		return errors.Newf("not connected to MQTT broker").
			Component(ComponentMQTT).
			Category(errors.CategoryState).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, c.config.QoS, c.config.Retain, payload)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		c.metrics.NotificationUndelivered(kind, metrics.DeliveryTimeout)
		c.logger.Warn("publish timeout", "topic", topic)
		return mqttError(errors.NewStd("publish timeout"), "publish").
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.NotificationUndelivered(kind, metrics.DeliveryRejected)
		return mqttError(err, "publish").Context("topic", topic).Build()
	}

	c.metrics.NotificationDelivered(kind, len(payload), time.Since(start))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected()
}

func (c *client) isConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient == nil {
		return
	}
	c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	c.internalClient = nil
	c.metrics.SetConnected(false)
}

func (c *client) onConnect(pahomqtt.Client) {
	c.logger.Info("connected to MQTT broker")
	c.metrics.SetConnected(true)
}

func (c *client) onConnectionLost(_ pahomqtt.Client, err error) {
	c.logger.Warn("connection to MQTT broker lost", "error", err)
	c.metrics.SetConnected(false)
	c.metrics.ConnectFailed(metrics.StageLost)
}

func (c *client) onReconnecting(pahomqtt.Client, *pahomqtt.ClientOptions) {
	c.logger.Debug("reconnecting to MQTT broker")
	c.metrics.Reconnecting()
}
