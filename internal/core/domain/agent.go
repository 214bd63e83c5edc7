package domain

import "time"

type AgentStatusLevel string

const (
	AgentStatusOnline  AgentStatusLevel = "online"
	AgentStatusOffline AgentStatusLevel = "offline"
)

// Agent is a running edge data-collection process. FirstSeen is set once
// when the agent is created and never rewritten.
type Agent struct {
	ID              string       `json:"identifier" gorm:"primaryKey"`
	Name            string       `json:"name,omitempty"`
	AgentClass      string       `json:"agentClass,omitempty" gorm:"index"`
	AgentManifestID string       `json:"agentManifestId,omitempty"`
	Status          *AgentStatus `json:"status,omitempty" gorm:"serializer:json"`
	FirstSeen       time.Time    `json:"firstSeen"`
	LastSeen        time.Time    `json:"lastSeen" gorm:"index"`
}

func (Agent) TableName() string {
	return "agents"
}

// AgentStatus is the status blob an agent reports about itself.
type AgentStatus struct {
	UptimeMillis int64                       `json:"uptime,omitempty"`
	Repositories map[string]RepositoryStatus `json:"repositories,omitempty"`
	Components   map[string]ComponentStatus  `json:"components,omitempty"`
}

type RepositoryStatus struct {
	Size        int64 `json:"size"`
	SizeMax     int64 `json:"sizeMax"`
	DataSize    int64 `json:"dataSize"`
	DataSizeMax int64 `json:"dataSizeMax"`
}

// AgentClass groups agents that share a manifest and a flow assignment.
// Reconciliation keeps at most one manifest identifier in AgentManifests.
type AgentClass struct {
	Name           string    `json:"name" gorm:"primaryKey"`
	Description    string    `json:"description,omitempty"`
	AgentManifests []string  `json:"agentManifests,omitempty" gorm:"serializer:json"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (AgentClass) TableName() string {
	return "agent_classes"
}

// ManifestID returns the class's associated manifest, or "" when none.
func (c *AgentClass) ManifestID() string {
	if len(c.AgentManifests) == 0 {
		return ""
	}
	return c.AgentManifests[0]
}

// AgentManifest describes the capabilities of one agent build. The
// identifier is chosen by the agent; manifests are write-once.
type AgentManifest struct {
	ID                  string    `json:"identifier" gorm:"primaryKey"`
	AgentType           string    `json:"agentType,omitempty"`
	Version             string    `json:"version,omitempty"`
	BuildInfo           BuildInfo `json:"buildInfo" gorm:"embedded;embeddedPrefix:build_"`
	SupportedOperations []string  `json:"supportedOperations,omitempty" gorm:"serializer:json"`
	CreatedAt           time.Time `json:"createdAt"`
}

func (AgentManifest) TableName() string {
	return "agent_manifests"
}

type BuildInfo struct {
	Version   string `json:"version,omitempty"`
	Revision  string `json:"revision,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Compiler  string `json:"compiler,omitempty"`
}

// FlowMapping assigns the flow an agent class should run.
type FlowMapping struct {
	AgentClass string    `json:"agentClass" gorm:"primaryKey"`
	FlowID     string    `json:"flowId"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (FlowMapping) TableName() string {
	return "flow_mappings"
}
