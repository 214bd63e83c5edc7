package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/metrics"
	"edgefleet.c2/internal/core/ports"
	"edgefleet.c2/internal/protocol"
)

type transportKey struct{}

// WithTransport tags ctx with the transport a payload arrived on.
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey{}, transport)
}

func transportFrom(ctx context.Context) string {
	if t, ok := ctx.Value(transportKey{}).(string); ok {
		return t
	}
	return "unknown"
}

// C2Endpoint is the transport-independent entry point for agents. It takes
// raw protocol payloads and returns raw protocol payloads.
type C2Endpoint struct {
	heartbeats *HeartbeatService
	operations *OperationService
	rejected   ports.RejectedDatagramStore
}

func NewC2Endpoint(heartbeats *HeartbeatService, operations *OperationService) *C2Endpoint {
	return &C2Endpoint{
		heartbeats: heartbeats,
		operations: operations,
	}
}

// WithRejectedStore keeps undecodable payloads in store.
func (e *C2Endpoint) WithRejectedStore(store ports.RejectedDatagramStore) *C2Endpoint {
	e.rejected = store
	return e
}

func (e *C2Endpoint) reject(ctx context.Context, kind string, payload []byte, err error) {
	metrics.RecordDecodeError(kind)
	logger.WarnContext(ctx, "Rejected malformed datagram", "payload", kind, "size", len(payload), "error", err)
	if e.rejected == nil {
		return
	}
	d := &domain.RejectedDatagram{
		ID:        uuid.NewString(),
		Transport: transportFrom(ctx),
		Payload:   append([]byte(nil), payload...),
		Reason:    err.Error(),
		Received:  time.Now(),
	}
	if rerr := e.rejected.RecordRejected(ctx, d); rerr != nil {
		logger.WarnContext(ctx, "Failed to record rejected datagram", "error", rerr)
	}
}

// HandleHeartbeat decodes a heartbeat payload, reconciles it and encodes the
// response with the same protocol version. Decode failures are returned as
// protocol errors; reconciliation failures never are.
func (e *C2Endpoint) HandleHeartbeat(ctx context.Context, payload []byte) ([]byte, error) {
	p, err := protocol.NewHeartbeatPayload(payload)
	if err != nil {
		e.reject(ctx, "heartbeat", payload, err)
		return nil, err
	}
	hb, err := p.Heartbeat()
	if err != nil {
		e.reject(ctx, "heartbeat", payload, err)
		return nil, err
	}

	resp, err := e.ProcessHeartbeat(ctx, hb)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeResponse(p.Version(), resp.RequestedOperations)
}

// HandleHeartbeatDocument accepts the JSON form of a heartbeat, which unlike
// the v0 datagram carries the agent class and manifest. The identifier is
// always assigned here.
func (e *C2Endpoint) HandleHeartbeatDocument(ctx context.Context, doc []byte) (*domain.HeartbeatResponse, error) {
	var hb domain.Heartbeat
	if err := json.Unmarshal(doc, &hb); err != nil {
		derr := &protocol.DecodeError{Field: "heartbeat document", Err: err}
		e.reject(ctx, "heartbeat", doc, derr)
		return nil, derr
	}
	hb.Identifier = uuid.NewString()
	return e.ProcessHeartbeat(ctx, &hb)
}

// ProcessHeartbeat is HandleHeartbeat for an already decoded heartbeat.
func (e *C2Endpoint) ProcessHeartbeat(ctx context.Context, hb *domain.Heartbeat) (*domain.HeartbeatResponse, error) {
	metrics.RecordHeartbeat(transportFrom(ctx))
	resp, err := e.heartbeats.ProcessHeartbeat(ctx, hb)
	if err != nil {
		return nil, fmt.Errorf("process heartbeat: %w", err)
	}
	logger.DebugContext(ctx, "Heartbeat processed",
		"heartbeat_id", hb.Identifier,
		"operations", len(resp.RequestedOperations),
	)
	return resp, nil
}

// HandleAcknowledge decodes an acknowledgement payload and completes the
// referenced operation.
func (e *C2Endpoint) HandleAcknowledge(ctx context.Context, payload []byte) (*domain.Operation, error) {
	ack, err := protocol.DecodeAcknowledgement(payload)
	if err != nil {
		e.reject(ctx, "acknowledge", payload, err)
		return nil, err
	}
	return e.Acknowledge(ctx, ack)
}

func (e *C2Endpoint) Acknowledge(ctx context.Context, ack *domain.Acknowledgement) (*domain.Operation, error) {
	op, err := e.operations.Acknowledge(ctx, ack)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(logger.WithAgentID(ctx, op.TargetAgentID), "Operation acknowledged",
		"operation_id", op.ID,
		"state", op.AckState,
	)
	return op, nil
}
