package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/metrics"
	"edgefleet.c2/internal/core/ports"
	"edgefleet.c2/internal/core/tracing"
)

const (
	stepPersist    = "persist_heartbeat"
	stepEvent      = "heartbeat_event"
	stepDevice     = "device"
	stepManifest   = "agent_manifest"
	stepClass      = "agent_class"
	stepAgent      = "agent"
	stepFlow       = "flow_assignment"
	stepOperations = "select_operations"
)

// ReconcilerName is recorded as the creator of operations the engine queues.
const ReconcilerName = "c2-reconciler"

type HeartbeatDeps struct {
	Heartbeats    ports.HeartbeatStore
	Events        ports.EventPublisher
	Devices       ports.DeviceRepository
	Agents        ports.AgentRepository
	Manifests     ports.AgentManifestRepository
	Classes       ports.AgentClassRepository
	FlowMappings  ports.FlowMappingRepository
	Operations    *OperationService
	FlowLocations ports.FlowLocationResolver
}

// HeartbeatService reconciles the fleet model against agent heartbeats.
// Every step is isolated: a failing step is logged and the rest still run.
type HeartbeatService struct {
	deps HeartbeatDeps
	now  func() time.Time

	// manifestMu serializes check-then-create of unknown manifests only.
	manifestMu sync.Mutex
}

func NewHeartbeatService(deps HeartbeatDeps) *HeartbeatService {
	deps.Events = publisherOrNoop(deps.Events)
	return &HeartbeatService{
		deps: deps,
		now:  time.Now,
	}
}

// WithClock replaces the server clock, for tests.
func (s *HeartbeatService) WithClock(now func() time.Time) *HeartbeatService {
	s.now = now
	return s
}

// ProcessHeartbeat updates fleet state from hb and returns the operations
// the agent must execute. It does not fail on reconciliation errors.
func (s *HeartbeatService) ProcessHeartbeat(ctx context.Context, hb *domain.Heartbeat) (*domain.HeartbeatResponse, error) {
	if hb == nil {
		return nil, errors.New("nil heartbeat")
	}

	ts := hb.EffectiveTime(s.now())
	record := *hb
	record.Created = &ts
	hb = &record

	agentID := hb.AgentInfo.Identifier
	ctx = logger.WithAgentID(ctx, agentID)
	ctx, span := tracing.StartHeartbeatSpan(ctx, hb.Identifier, agentID, hb.DeviceInfo.Identifier)
	defer span.End()

	s.step(ctx, hb, stepPersist, func() error {
		return s.deps.Heartbeats.SaveHeartbeat(ctx, hb)
	})
	s.step(ctx, hb, stepEvent, func() error {
		event := newEvent(domain.EventLevelDebug, domain.EventHeartbeatReceived, agentID, hb.DeviceInfo.Identifier, "heartbeat received")
		return s.deps.Events.PublishEvent(ctx, event)
	})
	s.step(ctx, hb, stepDevice, func() error {
		return s.reconcileDevice(ctx, hb, ts)
	})
	s.step(ctx, hb, stepManifest, func() error {
		return s.reconcileManifest(ctx, hb)
	})
	s.step(ctx, hb, stepClass, func() error {
		return s.reconcileClass(ctx, hb)
	})

	resp := &domain.HeartbeatResponse{RequestedOperations: []*domain.Operation{}}
	if agentID == "" {
		logger.WarnContext(ctx, "Heartbeat without agent identifier, skipping agent reconciliation", "heartbeat_id", hb.Identifier)
		return resp, nil
	}

	var agent *domain.Agent
	s.step(ctx, hb, stepAgent, func() error {
		var err error
		agent, err = s.reconcileAgent(ctx, hb, ts)
		return err
	})
	s.step(ctx, hb, stepFlow, func() error {
		return s.reconcileFlow(ctx, hb, agent)
	})
	s.step(ctx, hb, stepOperations, func() error {
		var err error
		resp.RequestedOperations, err = s.selectOperations(ctx, agentID)
		return err
	})

	return resp, nil
}

// step runs fn and contains its failure, panics included.
func (s *HeartbeatService) step(ctx context.Context, hb *domain.Heartbeat, name string, fn func() error) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn()
	}()
	if err == nil {
		return
	}

	metrics.RecordStepFailure(name)
	tracing.RecordStepError(ctx, name, err)
	logger.ErrorContext(ctx, "Reconciliation step failed",
		"step", name,
		"heartbeat_id", hb.Identifier,
		"device_id", hb.DeviceInfo.Identifier,
		"error", err,
	)
}

func (s *HeartbeatService) reconcileDevice(ctx context.Context, hb *domain.Heartbeat, ts time.Time) error {
	info := hb.DeviceInfo
	if info.Identifier == "" {
		return nil
	}

	device, err := s.deps.Devices.GetDevice(ctx, info.Identifier)
	created := false
	switch {
	case errors.Is(err, domain.ErrNotFound):
		device = &domain.Device{ID: info.Identifier, FirstSeen: ts}
		created = true
	case err != nil:
		return fmt.Errorf("failed to get device %s: %w", info.Identifier, err)
	}

	applyDeviceInfo(device, info, ts)
	if !created {
		return s.deps.Devices.UpdateDevice(ctx, device)
	}

	err = s.deps.Devices.CreateDevice(ctx, device)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	// Another heartbeat from this device created it first; keep its FirstSeen.
	if device, err = s.deps.Devices.GetDevice(ctx, info.Identifier); err != nil {
		return fmt.Errorf("failed to reload device %s: %w", info.Identifier, err)
	}
	applyDeviceInfo(device, info, ts)
	return s.deps.Devices.UpdateDevice(ctx, device)
}

func applyDeviceInfo(device *domain.Device, info domain.DeviceInfo, ts time.Time) {
	device.LastSeen = ts
	if info.Name != "" {
		device.Name = info.Name
	}
	device.SystemInfo.Merge(info.SystemInfo)
	device.NetworkInfo.Merge(info.NetworkInfo)
}

// reconcileManifest creates a manifest the first time its identifier is seen.
// Manifests are never updated.
func (s *HeartbeatService) reconcileManifest(ctx context.Context, hb *domain.Heartbeat) error {
	m := hb.AgentInfo.AgentManifest
	if m == nil || m.ID == "" {
		return nil
	}

	exists, err := s.deps.Manifests.ManifestExists(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("failed to check manifest %s: %w", m.ID, err)
	}
	if exists {
		return nil
	}

	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	exists, err = s.deps.Manifests.ManifestExists(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("failed to check manifest %s: %w", m.ID, err)
	}
	if exists {
		return nil
	}

	manifest := *m
	manifest.CreatedAt = s.now()
	err = s.deps.Manifests.CreateManifest(ctx, &manifest)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create manifest %s: %w", m.ID, err)
	}
	logger.InfoContext(ctx, "Registered agent manifest", "manifest_id", m.ID, "agent_type", m.AgentType)
	return nil
}

// reconcileClass keeps a class bound to at most one manifest. A heartbeat
// reporting a different manifest than the bound one is flagged, not applied.
func (s *HeartbeatService) reconcileClass(ctx context.Context, hb *domain.Heartbeat) error {
	name := hb.AgentInfo.AgentClass
	if name == "" {
		return nil
	}
	manifestID := hb.AgentInfo.ManifestID()

	class, err := s.deps.Classes.GetClass(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		now := s.now()
		class = &domain.AgentClass{Name: name, CreatedAt: now, UpdatedAt: now}
		if manifestID != "" {
			class.AgentManifests = []string{manifestID}
		}
		err = s.deps.Classes.CreateClass(ctx, class)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return err
		}
		class, err = s.deps.Classes.GetClass(ctx, name)
	}
	if err != nil {
		return fmt.Errorf("failed to get agent class %s: %w", name, err)
	}

	current := class.ManifestID()
	switch {
	case manifestID == "" || current == manifestID:
		return nil
	case current != "":
		logger.WarnContext(ctx, "Agent class is bound to a different manifest, leaving it unchanged",
			"agent_class", name,
			"class_manifest_id", current,
			"reported_manifest_id", manifestID,
		)
		msg := fmt.Sprintf("agent class %s is bound to manifest %s but agent reported %s", name, current, manifestID)
		event := newEvent(domain.EventLevelWarn, domain.EventManifestConflict, hb.AgentInfo.Identifier, hb.DeviceInfo.Identifier, msg)
		if err := s.deps.Events.PublishEvent(ctx, event); err != nil {
			logger.WarnContext(ctx, "Failed to publish manifest conflict event", "error", err)
		}
		return nil
	}

	class.AgentManifests = []string{manifestID}
	class.UpdatedAt = s.now()
	return s.deps.Classes.UpdateClass(ctx, class)
}

func (s *HeartbeatService) reconcileAgent(ctx context.Context, hb *domain.Heartbeat, ts time.Time) (*domain.Agent, error) {
	info := hb.AgentInfo

	agent, err := s.deps.Agents.GetAgent(ctx, info.Identifier)
	created := false
	switch {
	case errors.Is(err, domain.ErrNotFound):
		agent = &domain.Agent{ID: info.Identifier, FirstSeen: ts}
		created = true
	case err != nil:
		return nil, fmt.Errorf("failed to get agent %s: %w", info.Identifier, err)
	}

	applyAgentInfo(agent, info, ts)
	if !created {
		return agent, s.deps.Agents.UpdateAgent(ctx, agent)
	}

	err = s.deps.Agents.CreateAgent(ctx, agent)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		return agent, err
	}
	if agent, err = s.deps.Agents.GetAgent(ctx, info.Identifier); err != nil {
		return nil, fmt.Errorf("failed to reload agent %s: %w", info.Identifier, err)
	}
	applyAgentInfo(agent, info, ts)
	return agent, s.deps.Agents.UpdateAgent(ctx, agent)
}

func applyAgentInfo(agent *domain.Agent, info domain.AgentInfo, ts time.Time) {
	agent.LastSeen = ts
	if info.AgentClass != "" {
		agent.AgentClass = info.AgentClass
	}
	if id := info.ManifestID(); id != "" {
		agent.AgentManifestID = id
	}
	if info.Status != nil {
		agent.Status = info.Status
	}
}

// reconcileFlow queues an UPDATE/configuration operation when the flow the
// agent runs differs from the one mapped to its class.
func (s *HeartbeatService) reconcileFlow(ctx context.Context, hb *domain.Heartbeat, agent *domain.Agent) error {
	class := hb.AgentInfo.AgentClass
	if class == "" && agent != nil {
		class = agent.AgentClass
	}
	if class == "" {
		return nil
	}

	mapping, err := s.deps.FlowMappings.GetFlowMapping(ctx, class)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get flow mapping for class %s: %w", class, err)
	}

	reported := hb.ReportedFlowID()
	if mapping.FlowID == reported {
		return nil
	}

	args := map[string]string{
		domain.ArgLocation: s.deps.FlowLocations.FlowLocation(mapping.FlowID),
		domain.ArgPersist:  "true",
	}
	op, err := s.deps.Operations.Queue(ctx, hb.AgentInfo.Identifier, domain.OperationUpdate, domain.OperandConfiguration, args, ReconcilerName)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Queued flow update",
		"operation_id", op.ID,
		"agent_class", class,
		"reported_flow_id", reported,
		"mapped_flow_id", mapping.FlowID,
	)
	return nil
}

// selectOperations returns every queued operation for the agent, marking
// each DEPLOYED. A failed transition is logged and the operation is still
// returned.
func (s *HeartbeatService) selectOperations(ctx context.Context, agentID string) ([]*domain.Operation, error) {
	queued, err := s.deps.Operations.Pending(ctx, agentID)
	if err != nil {
		return []*domain.Operation{}, fmt.Errorf("failed to list queued operations: %w", err)
	}

	ops := make([]*domain.Operation, 0, len(queued))
	for _, op := range queued {
		if err := s.deps.Operations.Deploy(ctx, op); err != nil {
			metrics.RecordStepFailure(stepOperations)
			logger.ErrorContext(ctx, "Failed to mark operation deployed", "operation_id", op.ID, "error", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
