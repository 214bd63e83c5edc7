package agent

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"edgefleet.c2/internal/adapters/flowlocation"
	grpc_handler "edgefleet.c2/internal/adapters/handler/grpc"
	"edgefleet.c2/internal/adapters/repository/memory"
	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/services"
)

func newTestAgent(t *testing.T, cfg Config) (*Agent, *memory.Repository) {
	t.Helper()

	repo := memory.NewRepository()
	resolver, err := flowlocation.NewResolver("http://c2.local:8080")
	require.NoError(t, err)
	ops := services.NewOperationService(repo, nil)
	hb := services.NewHeartbeatService(services.HeartbeatDeps{
		Heartbeats:    memory.NewHeartbeatStore(5),
		Devices:       repo,
		Agents:        repo,
		Manifests:     repo,
		Classes:       repo,
		FlowMappings:  repo,
		Operations:    ops,
		FlowLocations: resolver,
	})

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.UnaryInterceptor(grpc_handler.UnaryInterceptor))
	grpc_handler.RegisterC2Server(s, grpc_handler.NewServer(services.NewC2Endpoint(hb, ops)))
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewWithConn(conn, cfg), repo
}

func TestAgent_AdoptsAssignedFlow(t *testing.T) {
	ctx := context.Background()
	a, repo := newTestAgent(t, Config{
		AgentID:    "agent-1",
		AgentClass: "sensors",
		ManifestID: "manifest-1",
		FlowID:     "flow-1",
	})
	require.NoError(t, repo.SaveFlowMapping(ctx, &domain.FlowMapping{AgentClass: "sensors", FlowID: "flow-2"}))

	ops, err := a.Heartbeat(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, domain.OperationUpdate, ops[0].Operation)
	assert.Equal(t, "flow-2", a.FlowID())

	op, err := repo.GetOperation(ctx, ops[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStateDone, op.State)
	assert.Equal(t, domain.UpdateStateFullyApplied, op.AckState)

	// In sync now, nothing more to do.
	ops, err = a.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)

	agent, err := repo.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "manifest-1", agent.AgentManifestID)
	assert.Equal(t, "sensors", agent.AgentClass)
}

func TestAgent_AcknowledgesQueuedOperations(t *testing.T) {
	ctx := context.Background()
	a, repo := newTestAgent(t, Config{AgentID: "agent-1"})
	require.NoError(t, repo.CreateOperation(ctx, &domain.Operation{
		ID:            "op-1",
		Operation:     domain.OperationRestart,
		TargetAgentID: "agent-1",
		State:         domain.OperationStateQueued,
	}))

	ops, err := a.Heartbeat(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	op, err := repo.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStateDone, op.State)
}

func TestFlowIDFromLocation(t *testing.T) {
	tests := []struct {
		location string
		want     string
		wantErr  bool
	}{
		{location: "https://c2.example.com/c2/api/flows/flow-9/content", want: "flow-9"},
		{location: "/c2/api/flows/abc/content", want: "abc"},
		{location: "", wantErr: true},
		{location: "https://c2.example.com/c2/api/flows/abc", wantErr: true},
		{location: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			got, err := flowIDFromLocation(tt.location)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAgent_UnknownOperand(t *testing.T) {
	a := NewWithConn(nil, Config{AgentID: "agent-1", FlowID: "flow-1"})

	state, _ := a.apply(&domain.Operation{Operation: domain.OperationUpdate, Operand: "properties"})
	assert.Equal(t, domain.UpdateStateOperationNotUnderstood, state)
	assert.Equal(t, "flow-1", a.FlowID())
}
