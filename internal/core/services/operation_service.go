package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/metrics"
	"edgefleet.c2/internal/core/ports"
)

// OperationService owns the operation lifecycle. QUEUED -> DEPLOYED happens
// only through Deploy, DEPLOYED -> DONE only through Acknowledge.
type OperationService struct {
	operations ports.OperationRepository
	events     ports.EventPublisher
}

func NewOperationService(operations ports.OperationRepository, events ports.EventPublisher) *OperationService {
	return &OperationService{
		operations: operations,
		events:     publisherOrNoop(events),
	}
}

// Queue creates a new QUEUED operation targeted at agentID.
func (s *OperationService) Queue(ctx context.Context, agentID string, opType domain.OperationType, operand string, args map[string]string, createdBy string) (*domain.Operation, error) {
	if agentID == "" {
		return nil, fmt.Errorf("queue operation: target agent is required")
	}
	if !opType.Valid() {
		return nil, fmt.Errorf("queue operation: unknown operation type %q", string(opType))
	}

	now := time.Now()
	op := &domain.Operation{
		ID:            uuid.NewString(),
		Operation:     opType,
		Operand:       operand,
		Args:          args,
		TargetAgentID: agentID,
		State:         domain.OperationStateQueued,
		CreatedBy:     createdBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.operations.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to create operation: %w", err)
	}
	metrics.RecordOperationQueued(string(opType))

	msg := fmt.Sprintf("%s %s queued by %s", opType, operand, createdBy)
	if err := s.events.PublishEvent(ctx, newEvent(domain.EventLevelInfo, domain.EventOperationQueued, agentID, "", msg)); err != nil {
		logger.WarnContext(ctx, "Failed to publish operation event", "operation_id", op.ID, "error", err)
	}
	return op, nil
}

// Pending returns the agent's QUEUED operations in store order.
func (s *OperationService) Pending(ctx context.Context, agentID string) ([]*domain.Operation, error) {
	return s.operations.ListOperationsByAgent(ctx, agentID, domain.OperationStateQueued)
}

func (s *OperationService) ListForAgent(ctx context.Context, agentID string, state domain.OperationState) ([]*domain.Operation, error) {
	return s.operations.ListOperationsByAgent(ctx, agentID, state)
}

// Deploy marks an operation as delivered in a heartbeat response. op is
// left unchanged when the new state cannot be stored.
func (s *OperationService) Deploy(ctx context.Context, op *domain.Operation) error {
	prevState, prevUpdated := op.State, op.UpdatedAt
	if err := op.Transition(domain.OperationStateDeployed); err != nil {
		return err
	}
	if err := s.operations.UpdateOperation(ctx, op); err != nil {
		op.State, op.UpdatedAt = prevState, prevUpdated
		return fmt.Errorf("failed to mark operation %s deployed: %w", op.ID, err)
	}
	metrics.RecordOperationDeployed()
	return nil
}

// Acknowledge completes a DEPLOYED operation. Every reported update state
// currently leads to DONE; the state itself is kept on the operation.
func (s *OperationService) Acknowledge(ctx context.Context, ack *domain.Acknowledgement) (*domain.Operation, error) {
	op, err := s.operations.GetOperation(ctx, ack.OperationID)
	if err != nil {
		return nil, fmt.Errorf("acknowledge operation %s: %w", ack.OperationID, err)
	}
	if err := op.Transition(domain.OperationStateDone); err != nil {
		return nil, err
	}
	op.AckState = domain.ParseUpdateState(string(ack.State))
	op.AckDetails = ack.Details

	if err := s.operations.UpdateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to complete operation %s: %w", op.ID, err)
	}
	metrics.RecordOperationAcknowledged(string(op.AckState))

	level := domain.EventLevelInfo
	if op.AckState != domain.UpdateStateFullyApplied {
		level = domain.EventLevelWarn
	}
	msg := fmt.Sprintf("%s %s acknowledged as %s", op.Operation, op.Operand, op.AckState)
	if err := s.events.PublishEvent(ctx, newEvent(level, domain.EventOperationCompleted, op.TargetAgentID, "", msg)); err != nil {
		logger.WarnContext(ctx, "Failed to publish operation event", "operation_id", op.ID, "error", err)
	}
	return op, nil
}
