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

func TestAgentMonitor_PublishesOfflineOncePerOutage(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	events := &recordingPublisher{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.CreateAgent(ctx, &domain.Agent{ID: "fresh", LastSeen: now.Add(-10 * time.Second)}))
	require.NoError(t, repo.CreateAgent(ctx, &domain.Agent{ID: "stale", LastSeen: now.Add(-5 * time.Minute)}))

	am := NewAgentMonitor(repo, events, 90*time.Second)
	am.now = func() time.Time { return now }

	assert.Equal(t, 1, am.CheckAgents(ctx))
	assert.Equal(t, 1, am.CheckAgents(ctx))

	offline := events.ofType(domain.EventAgentOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, "stale", offline[0].AgentID)

	// Coming back online re-arms the alert.
	stale, err := repo.GetAgent(ctx, "stale")
	require.NoError(t, err)
	stale.LastSeen = now
	require.NoError(t, repo.UpdateAgent(ctx, stale))
	assert.Equal(t, 2, am.CheckAgents(ctx))

	am.now = func() time.Time { return now.Add(time.Hour) }
	assert.Equal(t, 0, am.CheckAgents(ctx))
	assert.Len(t, events.ofType(domain.EventAgentOffline), 3)
}
