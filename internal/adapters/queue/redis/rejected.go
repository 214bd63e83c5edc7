package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"edgefleet.c2/internal/core/domain"
)

const (
	rejectedKey        = "c2:rejected"
	rejectedMetaPrefix = "c2:rejected:meta:"

	rejectedRetention = 24 * time.Hour
)

// RejectedStore keeps the newest undecodable datagrams in a sorted set
// scored by receive time, with each payload stored under its own key.
type RejectedStore struct {
	client *redis.Client
	max    int64
}

func NewRejectedStore(client *redis.Client, max int) *RejectedStore {
	if max <= 0 {
		max = 1000
	}
	return &RejectedStore{client: client, max: int64(max)}
}

func (s *RejectedStore) RecordRejected(ctx context.Context, d *domain.RejectedDatagram) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal rejected datagram: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, rejectedKey, redis.Z{
			Score:  float64(d.Received.UnixNano()),
			Member: d.ID,
		})
		pipe.Set(ctx, rejectedMetaPrefix+d.ID, data, rejectedRetention)
		// Keep only the newest max entries.
		pipe.ZRemRangeByRank(ctx, rejectedKey, 0, -s.max-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record rejected datagram: %w", err)
	}
	return nil
}

// ListRejected returns rejected datagrams newest first.
func (s *RejectedStore) ListRejected(ctx context.Context, offset, limit int64) ([]*domain.RejectedDatagram, error) {
	ids, err := s.client.ZRevRange(ctx, rejectedKey, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rejected datagrams: %w", err)
	}

	entries := make([]*domain.RejectedDatagram, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, rejectedMetaPrefix+id).Bytes()
		if err != nil {
			// Expired payloads are skipped.
			continue
		}
		var d domain.RejectedDatagram
		if err := json.Unmarshal(data, &d); err != nil {
			continue
		}
		entries = append(entries, &d)
	}
	return entries, nil
}
