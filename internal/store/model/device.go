package model

import (
	"encoding/json"
	"time"
)

type RegistrationStatus string

const (
	RegistrationPending    RegistrationStatus = "pending"
	RegistrationRegistered RegistrationStatus = "registered"
)

// Device is the durable record for one field device. A row is created on the
// first successful handshake and updated on every session and liveness
// transition; the gateway never deletes it.
type Device struct {
	UUID string `gorm:"primaryKey"`

	// Last-known address; devices move between DHCP leases.
	IP string

	// Opaque license blob pushed down to the device. When set, the
	// expiration is set as well.
	License           *string
	LicenseExpiration *time.Time

	// Gate for retry back-off after a cloud rejection. A renewal may not be
	// requested again before this instant.
	NextEarliestRenewal time.Time

	RegistrationStatus RegistrationStatus
	LastSeen           time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d Device) String() string {
	val, _ := json.Marshal(d)
	return string(val)
}

// HasValidLicense reports whether the device's license gates open at the
// given instant.
func (d *Device) HasValidLicense(now time.Time) bool {
	return d.License != nil && d.LicenseExpiration != nil && d.LicenseExpiration.After(now)
}
