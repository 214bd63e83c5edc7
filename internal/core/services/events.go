package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/ports"
)

type noopPublisher struct{}

func (noopPublisher) PublishEvent(context.Context, *domain.FleetEvent) error { return nil }

func publisherOrNoop(p ports.EventPublisher) ports.EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

func newEvent(level domain.EventLevel, eventType, agentID, deviceID, message string) *domain.FleetEvent {
	return &domain.FleetEvent{
		ID:       uuid.NewString(),
		Level:    level,
		Type:     eventType,
		AgentID:  agentID,
		DeviceID: deviceID,
		Message:  message,
		Created:  time.Now(),
	}
}
