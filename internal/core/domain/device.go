package domain

import "time"

// Device is the host an agent runs on, keyed by the identifier the host
// reports. Devices are created on first sighting and never deleted here.
type Device struct {
	ID          string      `json:"identifier" gorm:"primaryKey"`
	Name        string      `json:"name,omitempty"`
	FirstSeen   time.Time   `json:"firstSeen"`
	LastSeen    time.Time   `json:"lastSeen"`
	SystemInfo  SystemInfo  `json:"systemInfo" gorm:"embedded;embeddedPrefix:system_"`
	NetworkInfo NetworkInfo `json:"networkInfo" gorm:"embedded;embeddedPrefix:network_"`
}

func (Device) TableName() string {
	return "devices"
}

type SystemInfo struct {
	MachineArch string `json:"machineArch,omitempty"`
	PhysicalMem int64  `json:"physicalMem,omitempty"`
	VCores      int32  `json:"vCores,omitempty"`
}

type NetworkInfo struct {
	DeviceID  string `json:"deviceId,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
}

// Merge copies the non-empty fields of other into s.
func (s *SystemInfo) Merge(other *SystemInfo) {
	if other == nil {
		return
	}
	if other.MachineArch != "" {
		s.MachineArch = other.MachineArch
	}
	if other.PhysicalMem != 0 {
		s.PhysicalMem = other.PhysicalMem
	}
	if other.VCores != 0 {
		s.VCores = other.VCores
	}
}

// Merge copies the non-empty fields of other into n.
func (n *NetworkInfo) Merge(other *NetworkInfo) {
	if other == nil {
		return
	}
	if other.DeviceID != "" {
		n.DeviceID = other.DeviceID
	}
	if other.Hostname != "" {
		n.Hostname = other.Hostname
	}
	if other.IPAddress != "" {
		n.IPAddress = other.IPAddress
	}
}
