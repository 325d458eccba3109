// Package mqtt publishes routing notifications to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/audiopolicy/internal/conf"
)

// ComponentMQTT identifies errors of this package.
const ComponentMQTT = "mqtt"

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	Topic             string // base topic, notifications go to <Topic>/<kind>
	QoS               byte
	Retain            bool // true to retain messages at the broker
	ReconnectCooldown time.Duration
	MaxReconnectDelay time.Duration
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "audiopolicy",
		Topic:             "audiopolicy",
		ReconnectCooldown: 5 * time.Second,
		MaxReconnectDelay: 5 * time.Minute,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings fills the defaults with the configured broker settings.
func ConfigFromSettings(settings *conf.MQTTSettings) Config {
	config := DefaultConfig()
	config.Broker = settings.Broker
	if settings.ClientID != "" {
		config.ClientID = settings.ClientID
	}
	if settings.Topic != "" {
		config.Topic = settings.Topic
	}
	config.Username = settings.Username
	config.Password = settings.Password
	config.QoS = settings.QoS
	config.Retain = settings.Retain
	return config
}
