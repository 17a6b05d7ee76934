package device

import (
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
)

// MonitoringPayload mirrors the JSON a device sends after MONITORING_DATA:.
// Field names are preserved verbatim for interoperability with the device
// agent.
type MonitoringPayload struct {
	UUID       string     `json:"UUID"`
	Metrics    Metrics    `json:"Metrics"`
	SensorData SensorData `json:"SensorData"`
}

type Metrics struct {
	CPUMetrics            CPUMetrics            `json:"CpuMetrics"`
	MemoryMetrics         MemoryMetrics         `json:"MemoryMetrics"`
	NetworkMetrics        NetworkMetrics        `json:"NetworkMetrics"`
	DiskMetrics           DiskMetrics           `json:"DiskMetrics"`
	SystemUptimeMetrics   SystemUptimeMetrics   `json:"SystemUptimeMetrics"`
	CPUTemperatureMetrics CPUTemperatureMetrics `json:"CpuTemperatureMetrics"`
	Timestamp             time.Time             `json:"Timestamp"`
}

type CPUMetrics struct {
	CurrentUsage float64 `json:"CurrentUsage"`
	LoadAverage  float64 `json:"LoadAverage"`
}

type MemoryMetrics struct {
	TotalMemory uint64 `json:"TotalMemory"`
	FreeMemory  uint64 `json:"FreeMemory"`
	UsedMemory  uint64 `json:"UsedMemory"`
}

type NetworkMetrics struct {
	ReceivedBytes    uint64 `json:"ReceivedBytes"`
	TransmittedBytes uint64 `json:"TransmittedBytes"`
}

type DiskMetrics struct {
	TotalDiskSpace uint64 `json:"TotalDiskSpace"`
	FreeDiskSpace  uint64 `json:"FreeDiskSpace"`
	UsedDiskSpace  uint64 `json:"UsedDiskSpace"`
}

type SystemUptimeMetrics struct {
	UptimeSeconds float64 `json:"UptimeSeconds"`
}

type CPUTemperatureMetrics struct {
	TemperatureCelsius float64 `json:"TemperatureCelsius"`
}

type SensorData struct {
	RedValue   int `json:"RedValue"`
	GreenValue int `json:"GreenValue"`
	BlueValue  int `json:"BlueValue"`
}

func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

// Normalize converts the raw device shape into the control-channel telemetry
// message: usage percentages plus byte counters and the sensor triplet.
func (p *MonitoringPayload) Normalize() api.MonitoringData {
	m := p.Metrics
	timestamp := m.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	return api.MonitoringData{
		DeviceUUID:         p.UUID,
		CPUUsagePercent:    m.CPUMetrics.CurrentUsage,
		MemoryUsagePercent: percent(m.MemoryMetrics.UsedMemory, m.MemoryMetrics.TotalMemory),
		DiskUsagePercent:   percent(m.DiskMetrics.UsedDiskSpace, m.DiskMetrics.TotalDiskSpace),
		NetworkRxBytes:     m.NetworkMetrics.ReceivedBytes,
		NetworkTxBytes:     m.NetworkMetrics.TransmittedBytes,
		CPUTemperature:     m.CPUTemperatureMetrics.TemperatureCelsius,
		UptimeSeconds:      m.SystemUptimeMetrics.UptimeSeconds,
		SensorRed:          p.SensorData.RedValue,
		SensorGreen:        p.SensorData.GreenValue,
		SensorBlue:         p.SensorData.BlueValue,
		Timestamp:          timestamp,
	}
}

// VersionReport is the JSON document a device answers to GET_VERSIONS.
type VersionReport struct {
	Current   *VersionEntry  `json:"current"`
	Available []VersionEntry `json:"available"`
}

type VersionEntry struct {
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installed_at"`
}
