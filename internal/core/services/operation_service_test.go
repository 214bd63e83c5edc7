package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgefleet.c2/internal/adapters/repository/memory"
	"edgefleet.c2/internal/core/domain"
)

func TestOperationService_Queue(t *testing.T) {
	ctx := context.Background()
	events := &recordingPublisher{}
	svc := NewOperationService(memory.NewRepository(), events)

	op, err := svc.Queue(ctx, "agent-1", domain.OperationClear, "repositories", map[string]string{"k": "v"}, "ops")
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, domain.OperationStateQueued, op.State)
	assert.Equal(t, "ops", op.CreatedBy)
	assert.Len(t, events.ofType(domain.EventOperationQueued), 1)

	_, err = svc.Queue(ctx, "", domain.OperationClear, "", nil, "ops")
	assert.Error(t, err)
	_, err = svc.Queue(ctx, "agent-1", domain.OperationType("REBOOT"), "", nil, "ops")
	assert.Error(t, err)
}

func TestOperationService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	events := &recordingPublisher{}
	svc := NewOperationService(repo, events)

	op, err := svc.Queue(ctx, "agent-1", domain.OperationUpdate, domain.OperandConfiguration, nil, "ops")
	require.NoError(t, err)

	// Acknowledging before delivery is rejected.
	_, err = svc.Acknowledge(ctx, &domain.Acknowledgement{OperationID: op.ID, State: domain.UpdateStateFullyApplied})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, svc.Deploy(ctx, op))
	assert.ErrorIs(t, svc.Deploy(ctx, op), domain.ErrInvalidTransition)

	done, err := svc.Acknowledge(ctx, &domain.Acknowledgement{
		OperationID: op.ID,
		State:       domain.UpdateStatePartiallyApplied,
		Details:     "processor X not found",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStateDone, done.State)
	assert.Equal(t, domain.UpdateStatePartiallyApplied, done.AckState)

	stored, err := repo.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStateDone, stored.State)
	assert.Equal(t, "processor X not found", stored.AckDetails)

	completed := events.ofType(domain.EventOperationCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, domain.EventLevelWarn, completed[0].Level)

	// DONE is terminal.
	_, err = svc.Acknowledge(ctx, &domain.Acknowledgement{OperationID: op.ID, State: domain.UpdateStateFullyApplied})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestOperationService_DeployFailureKeepsQueued(t *testing.T) {
	ctx := context.Background()
	repo := &mockOperationRepo{Repository: memory.NewRepository()}
	svc := NewOperationService(repo, nil)

	op, err := svc.Queue(ctx, "agent-1", domain.OperationRestart, "", nil, "ops")
	require.NoError(t, err)
	updated := op.UpdatedAt

	repo.UpdateOperationFunc = func(ctx context.Context, op *domain.Operation) error {
		return errors.New("connection reset")
	}
	require.Error(t, svc.Deploy(ctx, op))
	assert.Equal(t, domain.OperationStateQueued, op.State)
	assert.Equal(t, updated, op.UpdatedAt)

	stored, err := repo.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStateQueued, stored.State)

	// Delivery succeeds once the store recovers.
	repo.UpdateOperationFunc = nil
	require.NoError(t, svc.Deploy(ctx, op))
	assert.Equal(t, domain.OperationStateDeployed, op.State)
}

func TestOperationService_AcknowledgeOutcomes(t *testing.T) {
	tests := []struct {
		reported domain.UpdateState
		want     domain.UpdateState
	}{
		{domain.UpdateStateFullyApplied, domain.UpdateStateFullyApplied},
		{domain.UpdateStateOperationNotUnderstood, domain.UpdateStateOperationNotUnderstood},
		{domain.UpdateStateNotApplied, domain.UpdateStateNotApplied},
		{domain.UpdateState("SOMETHING_ELSE"), domain.UpdateStateNotApplied},
	}

	for _, tt := range tests {
		t.Run(string(tt.reported), func(t *testing.T) {
			ctx := context.Background()
			svc := NewOperationService(memory.NewRepository(), nil)
			op, err := svc.Queue(ctx, "agent-1", domain.OperationStart, "flow", nil, "ops")
			require.NoError(t, err)
			require.NoError(t, svc.Deploy(ctx, op))

			done, err := svc.Acknowledge(ctx, &domain.Acknowledgement{OperationID: op.ID, State: tt.reported})
			require.NoError(t, err)
			assert.Equal(t, domain.OperationStateDone, done.State)
			assert.Equal(t, tt.want, done.AckState)
		})
	}
}

func TestOperationService_AcknowledgeUnknown(t *testing.T) {
	svc := NewOperationService(memory.NewRepository(), nil)
	_, err := svc.Acknowledge(context.Background(), &domain.Acknowledgement{OperationID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
