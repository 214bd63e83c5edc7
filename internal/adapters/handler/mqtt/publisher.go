package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/ports"
)

const publishTimeout = 5 * time.Second

// publisher is the part of mqtt.Client the Publisher needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Publisher republishes fleet events onto MQTT topics:
//
//	{prefix}/events/{type}
//	{prefix}/agents/{agentId}/events
type Publisher struct {
	client publisher
	events ports.EventSubscriber
	prefix string
}

// NewPublisher connects to brokerURL.
func NewPublisher(events ports.EventSubscriber, brokerURL, prefix string) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("c2-server-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", brokerURL, token.Error())
	}

	logger.Info("Connected to MQTT broker", "broker", brokerURL)
	return newPublisher(client, events, prefix), nil
}

func newPublisher(client publisher, events ports.EventSubscriber, prefix string) *Publisher {
	if prefix == "" {
		prefix = "c2"
	}
	return &Publisher{client: client, events: events, prefix: prefix}
}

// Start consumes fleet events in the background until ctx is done.
func (p *Publisher) Start(ctx context.Context) error {
	ch, err := p.events.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to fleet events: %w", err)
	}
	go p.consume(ctx, ch)
	return nil
}

func (p *Publisher) consume(ctx context.Context, ch <-chan domain.FleetEvent) {
	logger.Info("MQTT: started fleet event consumer")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := p.publish(event); err != nil {
				logger.Warn("MQTT: failed to publish fleet event", "event_id", event.ID, "type", event.Type, "error", err)
			}
		}
	}
}

func (p *Publisher) topics(event domain.FleetEvent) []string {
	topics := []string{fmt.Sprintf("%s/events/%s", p.prefix, event.Type)}
	if event.AgentID != "" {
		topics = append(topics, fmt.Sprintf("%s/agents/%s/events", p.prefix, event.AgentID))
	}
	return topics
}

func (p *Publisher) publish(event domain.FleetEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, topic := range p.topics(event) {
		token := p.client.Publish(topic, 0, false, data)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish to %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
	}
	return nil
}
