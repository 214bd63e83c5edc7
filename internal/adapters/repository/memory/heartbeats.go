package memory

import (
	"context"
	"sync"

	"edgefleet.c2/internal/core/domain"
)

// HeartbeatStore keeps the last N heartbeats per agent.
type HeartbeatStore struct {
	mu      sync.RWMutex
	limit   int
	history map[string][]*domain.Heartbeat
}

func NewHeartbeatStore(limit int) *HeartbeatStore {
	if limit <= 0 {
		limit = 1
	}
	return &HeartbeatStore{
		limit:   limit,
		history: make(map[string][]*domain.Heartbeat),
	}
}

func (s *HeartbeatStore) SaveHeartbeat(ctx context.Context, hb *domain.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := hb.AgentInfo.Identifier
	h := append([]*domain.Heartbeat{hb}, s.history[id]...)
	if len(h) > s.limit {
		h = h[:s.limit]
	}
	s.history[id] = h
	return nil
}

// RecentHeartbeats returns up to limit heartbeats, newest first.
func (s *HeartbeatStore) RecentHeartbeats(ctx context.Context, agentID string, limit int) ([]*domain.Heartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[agentID]
	if limit > 0 && len(h) > limit {
		h = h[:limit]
	}
	return append([]*domain.Heartbeat(nil), h...), nil
}

// EventBus fans fleet events out to in-process subscribers. Slow
// subscribers miss events rather than block publishers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan domain.FleetEvent]struct{}
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan domain.FleetEvent]struct{})}
}

func (b *EventBus) PublishEvent(ctx context.Context, event *domain.FleetEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- *event:
		default:
		}
	}
	return nil
}

// SubscribeEvents returns a channel that is closed when ctx is done.
func (b *EventBus) SubscribeEvents(ctx context.Context) (<-chan domain.FleetEvent, error) {
	ch := make(chan domain.FleetEvent, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// RejectedStore keeps the newest max rejected datagrams.
type RejectedStore struct {
	mu      sync.Mutex
	max     int
	entries []*domain.RejectedDatagram
}

func NewRejectedStore(max int) *RejectedStore {
	if max <= 0 {
		max = 1000
	}
	return &RejectedStore{max: max}
}

func (s *RejectedStore) RecordRejected(ctx context.Context, d *domain.RejectedDatagram) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append([]*domain.RejectedDatagram{d}, s.entries...)
	if len(s.entries) > s.max {
		s.entries = s.entries[:s.max]
	}
	return nil
}

// ListRejected returns rejected datagrams newest first.
func (s *RejectedStore) ListRejected(ctx context.Context, offset, limit int64) ([]*domain.RejectedDatagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.entries))
	if offset < 0 {
		offset = 0
	}
	if offset >= n || limit <= 0 {
		return []*domain.RejectedDatagram{}, nil
	}
	end := min(offset+limit, n)
	return append([]*domain.RejectedDatagram(nil), s.entries[offset:end]...), nil
}
