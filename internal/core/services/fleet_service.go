package services

import (
	"context"
	"fmt"
	"time"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/ports"
)

// APIOperator is recorded as the creator of operations queued through the
// management API.
const APIOperator = "api"

// AgentView is an agent with its computed connectivity.
type AgentView struct {
	*domain.Agent
	Connectivity domain.AgentStatusLevel `json:"connectivity"`
}

type FleetService struct {
	agents         ports.AgentRepository
	flowMappings   ports.FlowMappingRepository
	heartbeats     ports.HeartbeatStore
	operations     *OperationService
	offlineTimeout time.Duration
}

func NewFleetService(
	agents ports.AgentRepository,
	flowMappings ports.FlowMappingRepository,
	heartbeats ports.HeartbeatStore,
	operations *OperationService,
	offlineTimeout time.Duration,
) *FleetService {
	return &FleetService{
		agents:         agents,
		flowMappings:   flowMappings,
		heartbeats:     heartbeats,
		operations:     operations,
		offlineTimeout: offlineTimeout,
	}
}

func (s *FleetService) ListAgents(ctx context.Context) ([]AgentView, error) {
	agents, err := s.agents.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	now := time.Now()
	views := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, s.view(a, now))
	}
	return views, nil
}

func (s *FleetService) GetAgent(ctx context.Context, id string) (*AgentView, error) {
	agent, err := s.agents.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	v := s.view(agent, time.Now())
	return &v, nil
}

func (s *FleetService) view(a *domain.Agent, now time.Time) AgentView {
	return AgentView{Agent: a, Connectivity: Connectivity(a, now, s.offlineTimeout)}
}

// Connectivity reports whether the agent checked in within timeout.
func Connectivity(a *domain.Agent, now time.Time, timeout time.Duration) domain.AgentStatusLevel {
	if now.Sub(a.LastSeen) > timeout {
		return domain.AgentStatusOffline
	}
	return domain.AgentStatusOnline
}

// SetFlowMapping assigns flowID to an agent class. Agents of the class
// converge on their next heartbeat.
func (s *FleetService) SetFlowMapping(ctx context.Context, agentClass, flowID string) (*domain.FlowMapping, error) {
	if agentClass == "" || flowID == "" {
		return nil, fmt.Errorf("agent class and flow id are required")
	}
	mapping := &domain.FlowMapping{
		AgentClass: agentClass,
		FlowID:     flowID,
		UpdatedAt:  time.Now(),
	}
	if err := s.flowMappings.SaveFlowMapping(ctx, mapping); err != nil {
		return nil, fmt.Errorf("failed to save flow mapping: %w", err)
	}
	return mapping, nil
}

func (s *FleetService) GetFlowMapping(ctx context.Context, agentClass string) (*domain.FlowMapping, error) {
	return s.flowMappings.GetFlowMapping(ctx, agentClass)
}

// QueueOperation queues an operator-requested operation for a known agent.
func (s *FleetService) QueueOperation(ctx context.Context, agentID string, opType domain.OperationType, operand string, args map[string]string) (*domain.Operation, error) {
	if _, err := s.agents.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return s.operations.Queue(ctx, agentID, opType, operand, args, APIOperator)
}

func (s *FleetService) ListOperations(ctx context.Context, agentID string, state domain.OperationState) ([]*domain.Operation, error) {
	return s.operations.ListForAgent(ctx, agentID, state)
}

func (s *FleetService) RecentHeartbeats(ctx context.Context, agentID string, limit int) ([]*domain.Heartbeat, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.heartbeats.RecentHeartbeats(ctx, agentID, limit)
}
