package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"edgefleet.c2/internal/core/circuitbreaker"
	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
)

const (
	EventChannel = "c2:events"

	latestKeyPrefix  = "c2:heartbeat:latest:"
	historyKeyPrefix = "c2:heartbeat:history:"
)

func latestKey(agentID string) string  { return latestKeyPrefix + agentID }
func historyKey(agentID string) string { return historyKeyPrefix + agentID }

// RedisAdapter is the best-effort side of the C2 server: heartbeat history
// and fleet event pub/sub. Every call goes through a circuit breaker so an
// unavailable redis fails fast.
type RedisAdapter struct {
	client  *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	history int64
	ttl     time.Duration
}

// NewRedisAdapter keeps the last history heartbeats per agent for ttl.
func NewRedisAdapter(url string, history int, ttl time.Duration) (*RedisAdapter, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisAdapterWithClient(client, history, ttl), client, nil
}

func NewRedisAdapterWithClient(client *redis.Client, history int, ttl time.Duration) *RedisAdapter {
	if history <= 0 {
		history = 1
	}
	return &RedisAdapter{
		client:  client,
		breaker: newBreaker(),
		history: int64(history),
		ttl:     ttl,
	}
}

// newBreaker treats redis.Nil as an answer, not an outage.
func newBreaker() *circuitbreaker.CircuitBreaker {
	settings := circuitbreaker.DefaultSettings
	settings.Benign = func(err error) bool { return errors.Is(err, redis.Nil) }
	return circuitbreaker.NewWithSettings("redis", settings)
}

// SaveHeartbeat stores hb as the agent's latest heartbeat and prepends it
// to the bounded history list.
func (r *RedisAdapter) SaveHeartbeat(ctx context.Context, hb *domain.Heartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}
	agentID := hb.AgentInfo.Identifier

	return r.breaker.Execute(ctx, func() error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, latestKey(agentID), data, r.ttl)
			pipe.LPush(ctx, historyKey(agentID), data)
			pipe.LTrim(ctx, historyKey(agentID), 0, r.history-1)
			if r.ttl > 0 {
				pipe.Expire(ctx, historyKey(agentID), r.ttl)
			}
			return nil
		})
		return err
	})
}

// RecentHeartbeats returns up to limit heartbeats, newest first.
func (r *RedisAdapter) RecentHeartbeats(ctx context.Context, agentID string, limit int) ([]*domain.Heartbeat, error) {
	var raw []string
	err := r.breaker.Execute(ctx, func() error {
		var err error
		raw, err = r.client.LRange(ctx, historyKey(agentID), 0, int64(limit)-1).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeat history: %w", err)
	}

	heartbeats := make([]*domain.Heartbeat, 0, len(raw))
	for _, item := range raw {
		var hb domain.Heartbeat
		if err := json.Unmarshal([]byte(item), &hb); err != nil {
			logger.WarnContext(ctx, "Skipping unreadable heartbeat history entry", "agent_id", agentID, "error", err)
			continue
		}
		heartbeats = append(heartbeats, &hb)
	}
	return heartbeats, nil
}

// PublishEvent implements ports.EventPublisher
func (r *RedisAdapter) PublishEvent(ctx context.Context, event *domain.FleetEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.breaker.Execute(ctx, func() error {
		return r.client.Publish(ctx, EventChannel, data).Err()
	})
}

// SubscribeEvents implements ports.EventSubscriber. The channel closes when
// ctx is done.
func (r *RedisAdapter) SubscribeEvents(ctx context.Context) (<-chan domain.FleetEvent, error) {
	pubsub := r.client.Subscribe(ctx, EventChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", EventChannel, err)
	}
	ch := make(chan domain.FleetEvent, 64)

	go func() {
		defer pubsub.Close()
		defer close(ch)

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.FleetEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Warn("Dropping malformed fleet event", "error", err)
					continue
				}
				select {
				case ch <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
