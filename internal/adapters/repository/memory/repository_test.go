package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgefleet.c2/internal/core/domain"
)

func TestRepository_NotFoundAndDuplicate(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()

	_, err := r.GetAgent(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, r.UpdateAgent(ctx, &domain.Agent{ID: "a1"}), domain.ErrNotFound)

	require.NoError(t, r.CreateAgent(ctx, &domain.Agent{ID: "a1"}))
	assert.ErrorIs(t, r.CreateAgent(ctx, &domain.Agent{ID: "a1"}), domain.ErrAlreadyExists)

	require.NoError(t, r.CreateManifest(ctx, &domain.AgentManifest{ID: "m1"}))
	assert.ErrorIs(t, r.CreateManifest(ctx, &domain.AgentManifest{ID: "m1"}), domain.ErrAlreadyExists)
	ok, err := r.ManifestExists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, r.ManifestCount())

	_, err = r.GetFlowMapping(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()

	require.NoError(t, r.CreateClass(ctx, &domain.AgentClass{Name: "c1", AgentManifests: []string{"m1"}}))
	c, err := r.GetClass(ctx, "c1")
	require.NoError(t, err)
	c.AgentManifests[0] = "changed"

	c, err = r.GetClass(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, c.AgentManifests)
}

func TestRepository_OperationsInCreationOrder(t *testing.T) {
	ctx := context.Background()
	r := NewRepository()

	for _, id := range []string{"op-c", "op-a", "op-b"} {
		require.NoError(t, r.CreateOperation(ctx, &domain.Operation{
			ID:            id,
			TargetAgentID: "a1",
			State:         domain.OperationStateQueued,
		}))
	}
	require.NoError(t, r.CreateOperation(ctx, &domain.Operation{ID: "other", TargetAgentID: "a2", State: domain.OperationStateQueued}))

	op, err := r.GetOperation(ctx, "op-a")
	require.NoError(t, err)
	op.State = domain.OperationStateDeployed
	require.NoError(t, r.UpdateOperation(ctx, op))

	queued, err := r.ListOperationsByAgent(ctx, "a1", domain.OperationStateQueued)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "op-c", queued[0].ID)
	assert.Equal(t, "op-b", queued[1].ID)

	all, err := r.ListOperationsByAgent(ctx, "a1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestHeartbeatStore_KeepsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewHeartbeatStore(2)

	for _, id := range []string{"h1", "h2", "h3"} {
		require.NoError(t, s.SaveHeartbeat(ctx, &domain.Heartbeat{
			Identifier: id,
			AgentInfo:  domain.AgentInfo{Identifier: "a1"},
		}))
	}

	got, err := s.RecentHeartbeats(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "h3", got[0].Identifier)
	assert.Equal(t, "h2", got[1].Identifier)
}

func TestEventBus_DeliversUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewEventBus()

	ch, err := bus.SubscribeEvents(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.PublishEvent(context.Background(), &domain.FleetEvent{ID: "e1", Type: domain.EventAgentOffline}))
	select {
	case ev := <-ch:
		assert.Equal(t, "e1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestRejectedStore_Bounded(t *testing.T) {
	ctx := context.Background()
	s := NewRejectedStore(2)
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.RecordRejected(ctx, &domain.RejectedDatagram{ID: id}))
	}

	got, err := s.ListRejected(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r3", got[0].ID)

	got, err = s.ListRejected(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
