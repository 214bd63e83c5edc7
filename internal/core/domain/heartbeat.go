package domain

import "time"

// Heartbeat is one agent check-in. It is immutable once created.
type Heartbeat struct {
	Identifier string     `json:"identifier"`
	Created    *time.Time `json:"created,omitempty"`
	DeviceInfo DeviceInfo `json:"deviceInfo"`
	AgentInfo  AgentInfo  `json:"agentInfo"`
	FlowInfo   *FlowInfo  `json:"flowInfo,omitempty"`
}

type DeviceInfo struct {
	Identifier  string       `json:"identifier"`
	Name        string       `json:"name,omitempty"`
	SystemInfo  *SystemInfo  `json:"systemInfo,omitempty"`
	NetworkInfo *NetworkInfo `json:"networkInfo,omitempty"`
}

type AgentInfo struct {
	Identifier    string         `json:"identifier"`
	AgentClass    string         `json:"agentClass,omitempty"`
	AgentManifest *AgentManifest `json:"agentManifest,omitempty"`
	Status        *AgentStatus   `json:"status,omitempty"`
}

// ManifestID returns the identifier of the carried manifest, or "".
func (a AgentInfo) ManifestID() string {
	if a.AgentManifest == nil {
		return ""
	}
	return a.AgentManifest.ID
}

// FlowInfo is what the agent reports about the flow it currently runs.
type FlowInfo struct {
	BucketID   string                     `json:"bucketId,omitempty"`
	FlowID     string                     `json:"flowId,omitempty"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	Queues     map[string]QueueStatus     `json:"queues,omitempty"`
}

type ComponentStatus struct {
	Running bool `json:"running"`
}

type QueueStatus struct {
	DataSize    int64 `json:"dataSize"`
	DataSizeMax int64 `json:"dataSizeMax"`
	Size        int64 `json:"size"`
	SizeMax     int64 `json:"sizeMax"`
}

// ReportedFlowID returns the flow id from FlowInfo, or "" when absent.
func (h *Heartbeat) ReportedFlowID() string {
	if h.FlowInfo == nil {
		return ""
	}
	return h.FlowInfo.FlowID
}

// EffectiveTime returns the agent supplied creation time unless it is
// missing or later than now.
func (h *Heartbeat) EffectiveTime(now time.Time) time.Time {
	if h.Created != nil && !h.Created.IsZero() && !h.Created.After(now) {
		return *h.Created
	}
	return now
}

// HeartbeatResponse carries the operations an agent must execute.
type HeartbeatResponse struct {
	RequestedOperations []*Operation `json:"requestedOperations"`
}

// Acknowledgement reports the outcome of a delivered operation.
type Acknowledgement struct {
	OperationID string      `json:"operationId"`
	State       UpdateState `json:"state"`
	Details     string      `json:"details,omitempty"`
}
