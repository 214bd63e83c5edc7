package services

import (
	"context"
	"sync"
	"testing"

	"edgefleet.c2/internal/adapters/flowlocation"
	"edgefleet.c2/internal/adapters/repository/memory"
	"edgefleet.c2/internal/core/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.FleetEvent
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, event *domain.FleetEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []domain.FleetEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.FleetEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type mockHeartbeatStore struct {
	SaveFunc func(ctx context.Context, hb *domain.Heartbeat) error
}

func (m *mockHeartbeatStore) SaveHeartbeat(ctx context.Context, hb *domain.Heartbeat) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, hb)
	}
	return nil
}

func (m *mockHeartbeatStore) RecentHeartbeats(ctx context.Context, agentID string, limit int) ([]*domain.Heartbeat, error) {
	return nil, nil
}

// mockAgentRepo wraps a real store and lets a test override single calls.
type mockAgentRepo struct {
	*memory.Repository
	GetAgentFunc func(ctx context.Context, id string) (*domain.Agent, error)
}

func (m *mockAgentRepo) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	if m.GetAgentFunc != nil {
		return m.GetAgentFunc(ctx, id)
	}
	return m.Repository.GetAgent(ctx, id)
}

// mockManifestRepo counts creates that reached the store.
type mockManifestRepo struct {
	*memory.Repository
	mu      sync.Mutex
	creates int
}

func (m *mockManifestRepo) CreateManifest(ctx context.Context, manifest *domain.AgentManifest) error {
	m.mu.Lock()
	m.creates++
	m.mu.Unlock()
	return m.Repository.CreateManifest(ctx, manifest)
}

// mockOperationRepo wraps a real store and lets a test fail updates.
type mockOperationRepo struct {
	*memory.Repository
	UpdateOperationFunc func(ctx context.Context, op *domain.Operation) error
}

func (m *mockOperationRepo) UpdateOperation(ctx context.Context, op *domain.Operation) error {
	if m.UpdateOperationFunc != nil {
		return m.UpdateOperationFunc(ctx, op)
	}
	return m.Repository.UpdateOperation(ctx, op)
}

type testEngine struct {
	repo       *memory.Repository
	events     *recordingPublisher
	operations *OperationService
	service    *HeartbeatService
	endpoint   *C2Endpoint
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	return newTestEngineWith(t, func(*HeartbeatDeps) {})
}

func newTestEngineWith(t *testing.T, override func(*HeartbeatDeps)) *testEngine {
	t.Helper()
	repo := memory.NewRepository()
	events := &recordingPublisher{}
	resolver, err := flowlocation.NewResolver("")
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	ops := NewOperationService(repo, events)

	deps := HeartbeatDeps{
		Heartbeats:    memory.NewHeartbeatStore(10),
		Events:        events,
		Devices:       repo,
		Agents:        repo,
		Manifests:     repo,
		Classes:       repo,
		FlowMappings:  repo,
		Operations:    ops,
		FlowLocations: resolver,
	}
	override(&deps)

	svc := NewHeartbeatService(deps)
	return &testEngine{
		repo:       repo,
		events:     events,
		operations: ops,
		service:    svc,
		endpoint:   NewC2Endpoint(svc, ops),
	}
}

func heartbeat(agentID, class, manifestID, flowID string) *domain.Heartbeat {
	hb := &domain.Heartbeat{
		Identifier: "hb-" + agentID,
		DeviceInfo: domain.DeviceInfo{Identifier: "dev-" + agentID},
		AgentInfo:  domain.AgentInfo{Identifier: agentID, AgentClass: class},
	}
	if manifestID != "" {
		hb.AgentInfo.AgentManifest = &domain.AgentManifest{ID: manifestID, AgentType: "minifi-go"}
	}
	if flowID != "" {
		hb.FlowInfo = &domain.FlowInfo{FlowID: flowID}
	}
	return hb
}
