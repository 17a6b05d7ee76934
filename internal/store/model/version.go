package model

import "time"

// VersionRecord is one (device, version) entry of the per-device software
// version history. Inserts are idempotent on the composite key.
type VersionRecord struct {
	DeviceUUID  string `gorm:"primaryKey"`
	Version     string `gorm:"primaryKey"`
	InstalledAt time.Time
}
