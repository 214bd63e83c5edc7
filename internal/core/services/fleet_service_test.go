package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgefleet.c2/internal/adapters/repository/memory"
	"edgefleet.c2/internal/core/domain"
)

func newTestFleet(t *testing.T) (*FleetService, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	ops := NewOperationService(repo, nil)
	return NewFleetService(repo, repo, memory.NewHeartbeatStore(5), ops, time.Minute), repo
}

func TestFleetService_AgentConnectivity(t *testing.T) {
	ctx := context.Background()
	fleet, repo := newTestFleet(t)

	require.NoError(t, repo.CreateAgent(ctx, &domain.Agent{ID: "a1", LastSeen: time.Now()}))
	require.NoError(t, repo.CreateAgent(ctx, &domain.Agent{ID: "a2", LastSeen: time.Now().Add(-time.Hour)}))

	agents, err := fleet.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, domain.AgentStatusOnline, agents[0].Connectivity)
	assert.Equal(t, domain.AgentStatusOffline, agents[1].Connectivity)

	_, err = fleet.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFleetService_FlowMapping(t *testing.T) {
	ctx := context.Background()
	fleet, _ := newTestFleet(t)

	_, err := fleet.SetFlowMapping(ctx, "class-a", "")
	assert.Error(t, err)

	_, err = fleet.SetFlowMapping(ctx, "class-a", "flow-1")
	require.NoError(t, err)
	_, err = fleet.SetFlowMapping(ctx, "class-a", "flow-2")
	require.NoError(t, err)

	m, err := fleet.GetFlowMapping(ctx, "class-a")
	require.NoError(t, err)
	assert.Equal(t, "flow-2", m.FlowID)
}

func TestFleetService_QueueOperationRequiresKnownAgent(t *testing.T) {
	ctx := context.Background()
	fleet, repo := newTestFleet(t)

	_, err := fleet.QueueOperation(ctx, "a1", domain.OperationRestart, "", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.CreateAgent(ctx, &domain.Agent{ID: "a1"}))
	op, err := fleet.QueueOperation(ctx, "a1", domain.OperationRestart, "", nil)
	require.NoError(t, err)
	assert.Equal(t, APIOperator, op.CreatedBy)

	ops, err := fleet.ListOperations(ctx, "a1", "")
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}
