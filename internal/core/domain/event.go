package domain

import "time"

type EventLevel string

const (
	EventLevelDebug EventLevel = "DEBUG"
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
)

const (
	EventHeartbeatReceived  = "heartbeat_received"
	EventManifestConflict   = "agent_class_manifest_conflict"
	EventOperationQueued    = "operation_queued"
	EventAgentOffline       = "agent_offline"
	EventOperationCompleted = "operation_completed"
)

// FleetEvent is a low-volume notification about fleet activity.
type FleetEvent struct {
	ID       string     `json:"id"`
	Level    EventLevel `json:"level"`
	Type     string     `json:"type"`
	AgentID  string     `json:"agent_id,omitempty"`
	DeviceID string     `json:"device_id,omitempty"`
	Message  string     `json:"message"`
	Created  time.Time  `json:"created"`
}

// RejectedDatagram is a payload that failed to decode, kept for operators.
type RejectedDatagram struct {
	ID        string    `json:"id"`
	Transport string    `json:"transport"`
	Payload   []byte    `json:"payload"`
	Reason    string    `json:"reason"`
	Received  time.Time `json:"received"`
}
