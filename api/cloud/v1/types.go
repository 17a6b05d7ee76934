// Package v1 defines the messages carried over the gateway-to-cloud control
// channel. Every frame on the wire is a ControlMessage envelope: the gateway's
// sender id, a payload type tag, and the JSON-encoded payload itself. The
// first frame after dialing is a hello that carries no payload at all.
package v1

import (
	"encoding/json"
	"fmt"
	"time"
)

type PayloadType string

const (
	PayloadLicenseRequest      PayloadType = "LicenseRequest"
	PayloadLicenseResponse     PayloadType = "LicenseResponse"
	PayloadMonitoringData      PayloadType = "MonitoringData"
	PayloadLogUpload           PayloadType = "LogUpload"
	PayloadLogRequest          PayloadType = "LogRequest"
	PayloadLogResponse         PayloadType = "LogResponse"
	PayloadCommandRequest      PayloadType = "CommandRequest"
	PayloadCommandResponse     PayloadType = "CommandResponse"
	PayloadUpdatePackage       PayloadType = "UpdatePackage"
	PayloadUpdateAck           PayloadType = "UpdateAck"
	PayloadScheduledUpdate     PayloadType = "ScheduledUpdate"
	PayloadVersionDataRequest  PayloadType = "VersionDataRequest"
	PayloadVersionDataResponse PayloadType = "VersionDataResponse"
	PayloadAlertMessage        PayloadType = "AlertMessage"
	PayloadAIRecommendations   PayloadType = "AIRecommendations"
	PayloadDeviceStatus        PayloadType = "DeviceStatus"
)

// ControlMessage is the tagged-union envelope for the control channel.
type ControlMessage struct {
	SenderID string          `json:"sender_id"`
	Type     PayloadType     `json:"type,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewControlMessage wraps the given payload in an envelope, deriving the type
// tag from the payload's concrete type. A nil payload produces the hello frame.
func NewControlMessage(senderID string, payload any) (ControlMessage, error) {
	msg := ControlMessage{SenderID: senderID}
	if payload == nil {
		return msg, nil
	}

	switch payload.(type) {
	case LicenseRequest, *LicenseRequest:
		msg.Type = PayloadLicenseRequest
	case LicenseResponse, *LicenseResponse:
		msg.Type = PayloadLicenseResponse
	case MonitoringData, *MonitoringData:
		msg.Type = PayloadMonitoringData
	case LogUpload, *LogUpload:
		msg.Type = PayloadLogUpload
	case LogRequest, *LogRequest:
		msg.Type = PayloadLogRequest
	case LogResponse, *LogResponse:
		msg.Type = PayloadLogResponse
	case CommandRequest, *CommandRequest:
		msg.Type = PayloadCommandRequest
	case CommandResponse, *CommandResponse:
		msg.Type = PayloadCommandResponse
	case UpdatePackage, *UpdatePackage:
		msg.Type = PayloadUpdatePackage
	case UpdateAck, *UpdateAck:
		msg.Type = PayloadUpdateAck
	case ScheduledUpdate, *ScheduledUpdate:
		msg.Type = PayloadScheduledUpdate
	case VersionDataRequest, *VersionDataRequest:
		msg.Type = PayloadVersionDataRequest
	case VersionDataResponse, *VersionDataResponse:
		msg.Type = PayloadVersionDataResponse
	case AlertMessage, *AlertMessage:
		msg.Type = PayloadAlertMessage
	case AIRecommendations, *AIRecommendations:
		msg.Type = PayloadAIRecommendations
	case DeviceStatus, *DeviceStatus:
		msg.Type = PayloadDeviceStatus
	default:
		return ControlMessage{}, fmt.Errorf("unsupported control payload type %T", payload)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return ControlMessage{}, fmt.Errorf("encoding %s payload: %w", msg.Type, err)
	}
	msg.Payload = raw
	return msg, nil
}

// DecodePayload unmarshals the envelope's payload into the given value.
func (m *ControlMessage) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("control message %s has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Type, err)
	}
	return nil
}

// LicenseRequest asks the cloud to issue (or renew) a license for one device.
type LicenseRequest struct {
	DeviceUUID string `json:"device_uuid"`
	IsRenewal  bool   `json:"is_renewal"`
}

// LicenseResponse is the cloud's verdict on a prior LicenseRequest.
type LicenseResponse struct {
	DeviceUUID    string    `json:"device_uuid"`
	Approved      bool      `json:"approved"`
	License       string    `json:"license,omitempty"`
	ExpirationUTC time.Time `json:"expiration_utc,omitempty"`
}

// MonitoringData is the normalized per-sample device telemetry forwarded
// upward: usage percentages, byte counters and the sensor triplet.
type MonitoringData struct {
	DeviceUUID         string    `json:"device_uuid"`
	CPUUsagePercent    float64   `json:"cpu_usage_percent"`
	MemoryUsagePercent float64   `json:"memory_usage_percent"`
	DiskUsagePercent   float64   `json:"disk_usage_percent"`
	NetworkRxBytes     uint64    `json:"network_rx_bytes"`
	NetworkTxBytes     uint64    `json:"network_tx_bytes"`
	CPUTemperature     float64   `json:"cpu_temperature_celsius"`
	UptimeSeconds      float64   `json:"uptime_seconds"`
	SensorRed          int       `json:"sensor_red"`
	SensorGreen        int       `json:"sensor_green"`
	SensorBlue         int       `json:"sensor_blue"`
	Timestamp          time.Time `json:"timestamp"`
}

// LogRequest asks the gateway to pull logs from the named devices.
type LogRequest struct {
	DeviceUUIDs []string `json:"device_uuids"`
}

// LogUpload carries one pulled log file upward.
type LogUpload struct {
	DeviceUUID string `json:"device_uuid"`
	FileName   string `json:"file_name"`
	Data       []byte `json:"data"`
}

// LogResponse terminates an entire LogRequest; exactly one per request.
type LogResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type CommandType string

const (
	CommandRollback CommandType = "Rollback"
)

// CommandRequest fans a command out to the target devices.
type CommandRequest struct {
	CommandID   string      `json:"command_id"`
	CommandType CommandType `json:"command_type"`
	Parameters  string      `json:"parameters,omitempty"`
	TargetUUIDs []string    `json:"target_uuids"`
}

// CommandResponse is the single aggregated ack for a CommandRequest.
type CommandResponse struct {
	CommandID string `json:"command_id"`
	Success   bool   `json:"success"`
	Details   string `json:"details,omitempty"`
}

// UpdatePackage carries an immediately-distributed software update.
type UpdatePackage struct {
	FileName    string   `json:"file_name"`
	Data        []byte   `json:"data"`
	Signature   []byte   `json:"signature"`
	TargetUUIDs []string `json:"target_uuids"`
}

// UpdateAck is the single aggregated ack for one update distribution.
type UpdateAck struct {
	FileName string `json:"file_name"`
	Success  bool   `json:"success"`
	Details  string `json:"details,omitempty"`
}

// ScheduledUpdate is an update held by the gateway until StartTimeUTC.
type ScheduledUpdate struct {
	ScheduleID   string    `json:"schedule_id"`
	TargetUUIDs  []string  `json:"target_uuids"`
	FileName     string    `json:"file_name"`
	Data         []byte    `json:"data"`
	Signature    []byte    `json:"signature"`
	StartTimeUTC time.Time `json:"start_time_utc"`
}

// VersionDataRequest asks for the software version history of every known device.
type VersionDataRequest struct{}

type VersionInfo struct {
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installed_at"`
}

type DeviceVersions struct {
	DeviceUUID string        `json:"device_uuid"`
	Current    *VersionInfo  `json:"current,omitempty"`
	Available  []VersionInfo `json:"available,omitempty"`
}

type VersionDataResponse struct {
	Success bool             `json:"success"`
	Entries []DeviceVersions `json:"entries"`
}

type AlertLevel string

const (
	AlertInformation AlertLevel = "Information"
	AlertWarning     AlertLevel = "Warning"
	AlertCritical    AlertLevel = "Critical"
)

// AlertMessage forwards a locally-published alert to the cloud.
type AlertMessage struct {
	Timestamp time.Time  `json:"timestamp"`
	Level     AlertLevel `json:"level"`
	Message   string     `json:"message"`
	Exception string     `json:"exception,omitempty"`
	Source    string     `json:"source"`
}

type RecommendationCluster struct {
	ClusterID     string     `json:"cluster_id"`
	DeviceUUIDs   []string   `json:"device_uuids"`
	UpdateTimeUTC *time.Time `json:"update_time_utc,omitempty"`
}

type PlotPoint struct {
	DeviceUUID string  `json:"device_uuid"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	ClusterID  string  `json:"cluster_id"`
}

// AIRecommendations carries one recommender tick's clustering plus schedule.
type AIRecommendations struct {
	Clusters []RecommendationCluster `json:"clusters"`
	PlotData []PlotPoint             `json:"plot_data,omitempty"`
}

// DeviceStatus reports a liveness transition for one device.
type DeviceStatus struct {
	DeviceUUID string    `json:"device_uuid"`
	IsOnline   bool      `json:"is_online"`
	LastSeen   time.Time `json:"last_seen"`
}
