package grpc

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"edgefleet.c2/internal/adapters/flowlocation"
	"edgefleet.c2/internal/adapters/repository/memory"
	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/services"
	"edgefleet.c2/internal/protocol"
)

type testServer struct {
	conn *grpc.ClientConn
	repo *memory.Repository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := memory.NewRepository()
	resolver, err := flowlocation.NewResolver("")
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
	s := grpc.NewServer(grpc.UnaryInterceptor(UnaryInterceptor))
	RegisterC2Server(s, NewServer(services.NewC2Endpoint(hb, ops)))
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

	return &testServer{conn: conn, repo: repo}
}

func (ts *testServer) heartbeat(ctx context.Context, payload []byte) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	err := ts.conn.Invoke(ctx, HeartbeatMethod, wrapperspb.Bytes(payload), out)
	return out.GetValue(), err
}

func TestServer_HeartbeatRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)

	payload, err := protocol.EncodeHeartbeat(protocol.Version0, &domain.Heartbeat{
		DeviceInfo: domain.DeviceInfo{Identifier: "dev-1"},
		AgentInfo:  domain.AgentInfo{Identifier: "agent-1"},
	})
	require.NoError(t, err)

	resp, err := ts.heartbeat(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, resp)

	agent, err := ts.repo.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.ID)
}

func TestServer_MalformedHeartbeatIsInvalidArgument(t *testing.T) {
	ts := newTestServer(t)

	_, err := ts.heartbeat(context.Background(), []byte{0x00, 0x01})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_HeartbeatDocumentCarriesClassAndManifest(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	require.NoError(t, ts.repo.SaveFlowMapping(ctx, &domain.FlowMapping{AgentClass: "sensors", FlowID: "flow-2"}))

	doc, err := json.Marshal(&domain.Heartbeat{
		Identifier: "client-chosen",
		DeviceInfo: domain.DeviceInfo{Identifier: "dev-1"},
		AgentInfo: domain.AgentInfo{
			Identifier:    "agent-1",
			AgentClass:    "sensors",
			AgentManifest: &domain.AgentManifest{ID: "manifest-1"},
		},
		FlowInfo: &domain.FlowInfo{FlowID: "flow-1"},
	})
	require.NoError(t, err)

	out := new(wrapperspb.BytesValue)
	require.NoError(t, ts.conn.Invoke(ctx, HeartbeatDocumentMethod, wrapperspb.Bytes(doc), out))

	var resp domain.HeartbeatResponse
	require.NoError(t, json.Unmarshal(out.GetValue(), &resp))
	require.Len(t, resp.RequestedOperations, 1)
	op := resp.RequestedOperations[0]
	assert.Equal(t, domain.OperationUpdate, op.Operation)
	assert.Equal(t, domain.OperandConfiguration, op.Operand)
	assert.Equal(t, domain.OperationStateDeployed, op.State)

	agent, err := ts.repo.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "sensors", agent.AgentClass)
	assert.Equal(t, "manifest-1", agent.AgentManifestID)

	exists, err := ts.repo.ManifestExists(ctx, "manifest-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestServer_MalformedHeartbeatDocumentIsInvalidArgument(t *testing.T) {
	ts := newTestServer(t)

	err := ts.conn.Invoke(context.Background(), HeartbeatDocumentMethod, wrapperspb.Bytes([]byte("{not json")), new(wrapperspb.BytesValue))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_AcknowledgeCompletesOperation(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)

	require.NoError(t, ts.repo.CreateOperation(ctx, &domain.Operation{
		ID:            "op-1",
		Operation:     domain.OperationRestart,
		TargetAgentID: "agent-1",
		State:         domain.OperationStateDeployed,
	}))

	ack, err := protocol.EncodeAcknowledgement(protocol.Version0, &domain.Acknowledgement{
		OperationID: "op-1",
		State:       domain.UpdateStateFullyApplied,
	})
	require.NoError(t, err)

	err = ts.conn.Invoke(ctx, AcknowledgeMethod, wrapperspb.Bytes(ack), new(emptypb.Empty))
	require.NoError(t, err)

	op, err := ts.repo.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OperationStateDone, op.State)

	// A second acknowledgement violates the lifecycle.
	err = ts.conn.Invoke(ctx, AcknowledgeMethod, wrapperspb.Bytes(ack), new(emptypb.Empty))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestServer_AcknowledgeUnknownOperation(t *testing.T) {
	ts := newTestServer(t)

	ack, err := protocol.EncodeAcknowledgement(protocol.Version0, &domain.Acknowledgement{OperationID: "missing"})
	require.NoError(t, err)

	err = ts.conn.Invoke(context.Background(), AcknowledgeMethod, wrapperspb.Bytes(ack), new(emptypb.Empty))
	assert.Equal(t, codes.NotFound, status.Code(err))
}
