// Package memory holds in-process implementations of the store ports, used
// with DB_DRIVER=memory and in tests. Entities are copied on the way in and
// out so callers never share state with the store.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"edgefleet.c2/internal/core/domain"
)

type Repository struct {
	mu         sync.RWMutex
	devices    map[string]domain.Device
	agents     map[string]domain.Agent
	manifests  map[string]domain.AgentManifest
	classes    map[string]domain.AgentClass
	mappings   map[string]domain.FlowMapping
	operations map[string]domain.Operation
	// opOrder keeps operation ids in creation order.
	opOrder []string
}

func NewRepository() *Repository {
	return &Repository{
		devices:    make(map[string]domain.Device),
		agents:     make(map[string]domain.Agent),
		manifests:  make(map[string]domain.AgentManifest),
		classes:    make(map[string]domain.AgentClass),
		mappings:   make(map[string]domain.FlowMapping),
		operations: make(map[string]domain.Operation),
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
}

func exists(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrAlreadyExists)
}

// Devices

func (r *Repository) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, notFound("device", id)
	}
	return &d, nil
}

func (r *Repository) CreateDevice(ctx context.Context, device *domain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[device.ID]; ok {
		return exists("device", device.ID)
	}
	r.devices[device.ID] = *device
	return nil
}

func (r *Repository) UpdateDevice(ctx context.Context, device *domain.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[device.ID]; !ok {
		return notFound("device", device.ID)
	}
	r.devices[device.ID] = *device
	return nil
}

// Agents

func (r *Repository) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, notFound("agent", id)
	}
	return cloneAgent(a), nil
}

func (r *Repository) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agent.ID]; ok {
		return exists("agent", agent.ID)
	}
	r.agents[agent.ID] = *cloneAgent(*agent)
	return nil
}

func (r *Repository) UpdateAgent(ctx context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agent.ID]; !ok {
		return notFound("agent", agent.ID)
	}
	r.agents[agent.ID] = *cloneAgent(*agent)
	return nil
}

func (r *Repository) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(r.agents))
	agents := make([]*domain.Agent, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, cloneAgent(r.agents[id]))
	}
	return agents, nil
}

func cloneAgent(a domain.Agent) *domain.Agent {
	if a.Status != nil {
		s := *a.Status
		s.Repositories = maps.Clone(s.Repositories)
		s.Components = maps.Clone(s.Components)
		a.Status = &s
	}
	return &a
}

// Manifests

func (r *Repository) GetManifest(ctx context.Context, id string) (*domain.AgentManifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[id]
	if !ok {
		return nil, notFound("agent manifest", id)
	}
	m.SupportedOperations = slices.Clone(m.SupportedOperations)
	return &m, nil
}

func (r *Repository) ManifestExists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.manifests[id]
	return ok, nil
}

func (r *Repository) CreateManifest(ctx context.Context, manifest *domain.AgentManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.manifests[manifest.ID]; ok {
		return exists("agent manifest", manifest.ID)
	}
	m := *manifest
	m.SupportedOperations = slices.Clone(m.SupportedOperations)
	r.manifests[m.ID] = m
	return nil
}

// ManifestCount is the number of stored manifests.
func (r *Repository) ManifestCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.manifests)
}

// Classes

func (r *Repository) GetClass(ctx context.Context, name string) (*domain.AgentClass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	if !ok {
		return nil, notFound("agent class", name)
	}
	c.AgentManifests = slices.Clone(c.AgentManifests)
	return &c, nil
}

func (r *Repository) CreateClass(ctx context.Context, class *domain.AgentClass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[class.Name]; ok {
		return exists("agent class", class.Name)
	}
	c := *class
	c.AgentManifests = slices.Clone(c.AgentManifests)
	r.classes[c.Name] = c
	return nil
}

func (r *Repository) UpdateClass(ctx context.Context, class *domain.AgentClass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[class.Name]; !ok {
		return notFound("agent class", class.Name)
	}
	c := *class
	c.AgentManifests = slices.Clone(c.AgentManifests)
	r.classes[c.Name] = c
	return nil
}

// Flow mappings

func (r *Repository) GetFlowMapping(ctx context.Context, agentClass string) (*domain.FlowMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[agentClass]
	if !ok {
		return nil, notFound("flow mapping", agentClass)
	}
	return &m, nil
}

func (r *Repository) SaveFlowMapping(ctx context.Context, mapping *domain.FlowMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[mapping.AgentClass] = *mapping
	return nil
}

// Operations

func (r *Repository) GetOperation(ctx context.Context, id string) (*domain.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.operations[id]
	if !ok {
		return nil, notFound("operation", id)
	}
	return cloneOperation(op), nil
}

func (r *Repository) CreateOperation(ctx context.Context, op *domain.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.operations[op.ID]; ok {
		return exists("operation", op.ID)
	}
	r.operations[op.ID] = *cloneOperation(*op)
	r.opOrder = append(r.opOrder, op.ID)
	return nil
}

func (r *Repository) UpdateOperation(ctx context.Context, op *domain.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.operations[op.ID]; !ok {
		return notFound("operation", op.ID)
	}
	r.operations[op.ID] = *cloneOperation(*op)
	return nil
}

func (r *Repository) ListOperationsByAgent(ctx context.Context, agentID string, state domain.OperationState) ([]*domain.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ops []*domain.Operation
	for _, id := range r.opOrder {
		op := r.operations[id]
		if op.TargetAgentID != agentID || (state != "" && op.State != state) {
			continue
		}
		ops = append(ops, cloneOperation(op))
	}
	return ops, nil
}

func cloneOperation(op domain.Operation) *domain.Operation {
	op.Args = maps.Clone(op.Args)
	return &op
}
