package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/metrics"
	"edgefleet.c2/internal/core/ports"
)

const monitorInterval = 30 * time.Second

// AgentMonitor watches agent last-seen times and raises an agent_offline
// event once per outage.
type AgentMonitor struct {
	agents  ports.AgentRepository
	events  ports.EventPublisher
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	offline map[string]bool
}

func NewAgentMonitor(agents ports.AgentRepository, events ports.EventPublisher, timeout time.Duration) *AgentMonitor {
	return &AgentMonitor{
		agents:  agents,
		events:  publisherOrNoop(events),
		timeout: timeout,
		now:     time.Now,
		offline: make(map[string]bool),
	}
}

// Start begins monitoring agents
func (am *AgentMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckAgents(ctx)
		}
	}
}

// CheckAgents runs one monitoring pass and returns the number of online agents.
func (am *AgentMonitor) CheckAgents(ctx context.Context) int {
	agents, err := am.agents.ListAgents(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list agents for monitoring", "error", err)
		return 0
	}

	now := am.now()
	active := 0

	am.mu.Lock()
	defer am.mu.Unlock()

	for _, agent := range agents {
		if Connectivity(agent, now, am.timeout) == domain.AgentStatusOnline {
			active++
			delete(am.offline, agent.ID)
			continue
		}
		if am.offline[agent.ID] {
			continue
		}
		am.offline[agent.ID] = true

		msg := fmt.Sprintf("agent %s last seen %s ago", agent.ID, now.Sub(agent.LastSeen).Truncate(time.Second))
		if err := am.events.PublishEvent(ctx, newEvent(domain.EventLevelWarn, domain.EventAgentOffline, agent.ID, "", msg)); err != nil {
			logger.WarnContext(ctx, "Failed to publish agent offline event", "agent_id", agent.ID, "error", err)
		}
	}

	metrics.SetActiveAgents(active)
	return active
}
