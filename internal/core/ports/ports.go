package ports

import (
	"context"

	"edgefleet.c2/internal/core/domain"
)

// Get methods return domain.ErrNotFound when the entity does not exist and
// Create methods return domain.ErrAlreadyExists on a duplicate key.

type DeviceRepository interface {
	GetDevice(ctx context.Context, id string) (*domain.Device, error)
	CreateDevice(ctx context.Context, device *domain.Device) error
	UpdateDevice(ctx context.Context, device *domain.Device) error
}

type AgentRepository interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	CreateAgent(ctx context.Context, agent *domain.Agent) error
	UpdateAgent(ctx context.Context, agent *domain.Agent) error
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
}

type AgentManifestRepository interface {
	GetManifest(ctx context.Context, id string) (*domain.AgentManifest, error)
	ManifestExists(ctx context.Context, id string) (bool, error)
	CreateManifest(ctx context.Context, manifest *domain.AgentManifest) error
}

type AgentClassRepository interface {
	GetClass(ctx context.Context, name string) (*domain.AgentClass, error)
	CreateClass(ctx context.Context, class *domain.AgentClass) error
	UpdateClass(ctx context.Context, class *domain.AgentClass) error
}

type FlowMappingRepository interface {
	GetFlowMapping(ctx context.Context, agentClass string) (*domain.FlowMapping, error)
	SaveFlowMapping(ctx context.Context, mapping *domain.FlowMapping) error
}

type OperationRepository interface {
	GetOperation(ctx context.Context, id string) (*domain.Operation, error)
	CreateOperation(ctx context.Context, op *domain.Operation) error
	UpdateOperation(ctx context.Context, op *domain.Operation) error
	// ListOperationsByAgent returns the agent's operations in the given
	// state, in the store's natural order. An empty state matches all.
	ListOperationsByAgent(ctx context.Context, agentID string, state domain.OperationState) ([]*domain.Operation, error)
}

// HeartbeatStore keeps received heartbeats. Callers treat it as best-effort.
type HeartbeatStore interface {
	SaveHeartbeat(ctx context.Context, hb *domain.Heartbeat) error
	RecentHeartbeats(ctx context.Context, agentID string, limit int) ([]*domain.Heartbeat, error)
}

// EventPublisher is the best-effort fleet event sink.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *domain.FleetEvent) error
}

type EventSubscriber interface {
	SubscribeEvents(ctx context.Context) (<-chan domain.FleetEvent, error)
}

// FlowLocationResolver turns a flow id into the URI agents fetch it from.
type FlowLocationResolver interface {
	FlowLocation(flowID string) string
}

// RejectedDatagramStore keeps the most recent undecodable payloads.
type RejectedDatagramStore interface {
	RecordRejected(ctx context.Context, d *domain.RejectedDatagram) error
	ListRejected(ctx context.Context, offset, limit int64) ([]*domain.RejectedDatagram, error)
}
