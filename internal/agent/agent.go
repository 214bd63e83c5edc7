package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	grpc_handler "edgefleet.c2/internal/adapters/handler/grpc"
	"edgefleet.c2/internal/core/domain"
	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/protocol"
)

type Config struct {
	AgentID    string
	DeviceID   string
	AgentClass string
	ManifestID string
	FlowID     string
	Interval   time.Duration
}

// Agent is a simulated edge agent. It heartbeats over gRPC and acknowledges
// every operation it is handed after applying it.
type Agent struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	cfg     Config
	started time.Time

	deviceOnce sync.Once
	device     domain.DeviceInfo

	mu     sync.Mutex
	flowID string
}

func New(serverAddr string, cfg Config) (*Agent, error) {
	conn, err := grpc.NewClient(serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	a := NewWithConn(conn, cfg)
	a.closer = conn.Close
	return a, nil
}

func NewWithConn(conn grpc.ClientConnInterface, cfg Config) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = cfg.AgentID
	}
	return &Agent{
		conn:    conn,
		cfg:     cfg,
		started: time.Now(),
		flowID:  cfg.FlowID,
	}
}

// FlowID is the flow the agent currently runs.
func (a *Agent) FlowID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flowID
}

func (a *Agent) Run(ctx context.Context) error {
	if a.closer != nil {
		defer a.closer()
	}

	logger.Info("Agent started", "agent_id", a.cfg.AgentID, "class", a.cfg.AgentClass, "interval", a.cfg.Interval)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := a.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Heartbeat failed", "agent_id", a.cfg.AgentID, "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("Agent stopped", "agent_id", a.cfg.AgentID)
			return nil
		case <-ticker.C:
		}
	}
}

// Heartbeat sends one heartbeat, then applies and acknowledges every
// operation in the response. It returns the operations received.
func (a *Agent) Heartbeat(ctx context.Context) ([]*domain.Operation, error) {
	a.deviceOnce.Do(func() { a.device = collectDeviceInfo(ctx, a.cfg.DeviceID) })

	// The v0 datagram has no room for class or manifest, so the full
	// document is sent.
	payload, err := json.Marshal(a.heartbeat())
	if err != nil {
		return nil, err
	}

	out := new(wrapperspb.BytesValue)
	if err := a.conn.Invoke(ctx, grpc_handler.HeartbeatDocumentMethod, wrapperspb.Bytes(payload), out); err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}

	var resp domain.HeartbeatResponse
	if err := json.Unmarshal(out.GetValue(), &resp); err != nil {
		return nil, fmt.Errorf("heartbeat response: %w", err)
	}
	ops := resp.RequestedOperations

	for _, op := range ops {
		state, details := a.apply(op)
		logger.Info("Applied operation", "operation_id", op.ID, "operation", op.Operation, "state", state)
		if err := a.acknowledge(ctx, op.ID, state, details); err != nil {
			logger.Warn("Acknowledge failed", "operation_id", op.ID, "error", err)
		}
	}
	return ops, nil
}

func (a *Agent) heartbeat() *domain.Heartbeat {
	now := time.Now()
	hb := &domain.Heartbeat{
		Created:    &now,
		DeviceInfo: a.device,
		AgentInfo: domain.AgentInfo{
			Identifier: a.cfg.AgentID,
			AgentClass: a.cfg.AgentClass,
			Status: &domain.AgentStatus{
				UptimeMillis: time.Since(a.started).Milliseconds(),
			},
		},
	}
	if a.cfg.ManifestID != "" {
		hb.AgentInfo.AgentManifest = &domain.AgentManifest{
			ID:                  a.cfg.ManifestID,
			AgentType:           "simulator",
			SupportedOperations: []string{string(domain.OperationUpdate), string(domain.OperationRestart)},
		}
	}
	if flowID := a.FlowID(); flowID != "" {
		hb.FlowInfo = &domain.FlowInfo{FlowID: flowID}
	}
	return hb
}

func (a *Agent) apply(op *domain.Operation) (domain.UpdateState, string) {
	switch op.Operation {
	case domain.OperationUpdate:
		if op.Operand != domain.OperandConfiguration {
			return domain.UpdateStateOperationNotUnderstood, "unsupported operand " + op.Operand
		}
		flowID, err := flowIDFromLocation(op.Args[domain.ArgLocation])
		if err != nil {
			return domain.UpdateStateNotApplied, err.Error()
		}
		a.mu.Lock()
		a.flowID = flowID
		a.mu.Unlock()
		return domain.UpdateStateFullyApplied, ""
	case domain.OperationRestart, domain.OperationStart, domain.OperationStop,
		domain.OperationClear, domain.OperationDescribe:
		return domain.UpdateStateFullyApplied, ""
	default:
		return domain.UpdateStateOperationNotUnderstood, ""
	}
}

func (a *Agent) acknowledge(ctx context.Context, opID string, state domain.UpdateState, details string) error {
	payload, err := protocol.EncodeAcknowledgement(protocol.Version0, &domain.Acknowledgement{
		OperationID: opID,
		State:       state,
		Details:     details,
	})
	if err != nil {
		return err
	}
	return a.conn.Invoke(ctx, grpc_handler.AcknowledgeMethod, wrapperspb.Bytes(payload), new(emptypb.Empty))
}

// flowIDFromLocation extracts the flow id from a .../flows/{id}/content URI.
func flowIDFromLocation(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("missing %s argument", domain.ArgLocation)
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid flow location: %w", err)
	}
	if path.Base(u.Path) != "content" || path.Base(path.Dir(path.Dir(u.Path))) != "flows" {
		return "", fmt.Errorf("unexpected flow location %q", location)
	}
	return path.Base(path.Dir(u.Path)), nil
}
