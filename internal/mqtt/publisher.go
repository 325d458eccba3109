package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tphakala/audiopolicy/internal/errors"
	"github.com/tphakala/audiopolicy/internal/events"
)

// Publisher forwards bus events to the broker, one topic per event kind.
type Publisher struct {
	client Client
	config Config
}

var _ events.EventConsumer = (*Publisher)(nil)

// NewPublisher returns a bus consumer publishing through client.
func NewPublisher(client Client, config Config) *Publisher {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Publisher{client: client, config: config}
}

// Name implements events.EventConsumer.
func (p *Publisher) Name() string { return "mqtt" }

// Topic returns the topic events of kind are published to.
func (p *Publisher) Topic(kind events.Kind) string {
	return strings.TrimSuffix(p.config.Topic, "/") + "/" + string(kind)
}

// ProcessEvent implements events.EventConsumer. Events are dropped with an
// error while the broker is unreachable.
func (p *Publisher) ProcessEvent(event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.New(err).
			Component(ComponentMQTT).
			Category(errors.CategoryValidation).
			Context("kind", string(event.Kind)).
			Build()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()
	return p.client.Publish(ctx, p.Topic(event.Kind), payload)
}
