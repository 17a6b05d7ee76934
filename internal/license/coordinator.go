// Package license owns the device license lifecycle: gating sessions,
// deduplicating in-flight requests toward the cloud, backing off after
// rejections, and pushing approved licenses down to devices.
package license

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/upflux/upflux-gateway/internal/store"
	"github.com/upflux/upflux-gateway/internal/store/model"
	"github.com/upflux/upflux-gateway/pkg/log"
	"github.com/sirupsen/logrus"
)

// rejectionBackoff gates how soon a renewal may be retried after the cloud
// said no.
const rejectionBackoff = 30 * time.Minute

// expiryHorizon is how far ahead the periodic sweep looks for licenses worth
// renewing.
const expiryHorizon = 24 * time.Hour

// CloudSender is the slice of the cloud worker the coordinator needs.
type CloudSender interface {
	SendLicenseRequest(uuid string, isRenewal bool) error
}

// DevicePusher pushes an approved license down to the device.
type DevicePusher interface {
	SendLicense(ctx context.Context, uuid, license string) error
}

type Coordinator struct {
	log     logrus.FieldLogger
	store   store.Store
	cloud   CloudSender
	devices DevicePusher

	mu sync.Mutex
	// uuid → is_renewal; at most one entry per device. Deliberately not
	// cleared on control-channel reconnects: late responses still apply.
	inFlight map[string]bool

	nowFn func() time.Time
}

func NewCoordinator(st store.Store, cloud CloudSender, devices DevicePusher, log logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		log:      log,
		store:    st,
		cloud:    cloud,
		devices:  devices,
		inFlight: make(map[string]bool),
		nowFn:    time.Now,
	}
}

// Validate implements the session gate. It reports whether the device may
// enter data exchange, requesting a license upward as a side effect when the
// policy calls for one.
func (c *Coordinator) Validate(ctx context.Context, uuid string) (bool, error) {
	device, err := c.store.Device().Get(ctx, uuid)
	if errors.Is(err, gwerrors.ErrNotFound) {
		if reqErr := c.Request(ctx, uuid, false); reqErr != nil && !errors.Is(reqErr, gwerrors.ErrRequestInFlight) {
			c.log.Errorf("requesting first license for %s: %v", uuid, reqErr)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := c.nowFn()
	if device.HasValidLicense(now) {
		return true, nil
	}
	if device.NextEarliestRenewal.After(now) {
		// rejected recently, wait out the back-off window
		return false, nil
	}
	// the handshake records the row before the gate runs, so a stored device
	// that never held a license still asks for its first one, not a renewal
	isRenewal := device.License != nil
	if reqErr := c.Request(ctx, uuid, isRenewal); reqErr != nil && !errors.Is(reqErr, gwerrors.ErrRequestInFlight) {
		c.log.Errorf("requesting license for %s (renewal=%t): %v", uuid, isRenewal, reqErr)
	}
	return false, nil
}

// Request emits a license request upward unless one is already in flight for
// this device. The in-flight insert is a single atomic test-and-set.
func (c *Coordinator) Request(ctx context.Context, uuid string, isRenewal bool) error {
	c.mu.Lock()
	if _, exists := c.inFlight[uuid]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", gwerrors.ErrRequestInFlight, uuid)
	}
	c.inFlight[uuid] = isRenewal
	c.mu.Unlock()

	if err := c.cloud.SendLicenseRequest(uuid, isRenewal); err != nil {
		c.clearInFlight(uuid)
		return err
	}
	c.log.Infof("license request sent for %s (renewal=%t)", uuid, isRenewal)
	return nil
}

func (c *Coordinator) clearInFlight(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, uuid)
}

// InFlight reports whether a request is outstanding for the device.
func (c *Coordinator) InFlight(uuid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.inFlight[uuid]
	return exists
}

// HandleResponse applies the cloud's license verdict to the repository and, on
// approval, pushes the license down to the device.
func (c *Coordinator) HandleResponse(ctx context.Context, resp api.LicenseResponse) error {
	defer c.clearInFlight(resp.DeviceUUID)
	logger := log.WithDevice(resp.DeviceUUID, c.log)

	device, err := c.store.Device().Get(ctx, resp.DeviceUUID)
	if errors.Is(err, gwerrors.ErrNotFound) {
		// the session that asked may be long gone; apply anyway
		device = &model.Device{
			UUID:               resp.DeviceUUID,
			RegistrationStatus: model.RegistrationPending,
		}
	} else if err != nil {
		return err
	}

	now := c.nowFn()
	if !resp.Approved {
		logger.Info("license rejected, backing off")
		device.NextEarliestRenewal = now.Add(rejectionBackoff)
		return c.store.Device().Upsert(ctx, device)
	}

	expiration := resp.ExpirationUTC
	license := resp.License
	device.License = &license
	device.LicenseExpiration = &expiration
	device.RegistrationStatus = model.RegistrationRegistered
	device.NextEarliestRenewal = now
	if err := c.store.Device().Upsert(ctx, device); err != nil {
		return err
	}
	logger.Infof("license approved until %s", expiration.Format(time.RFC3339))

	if err := c.devices.SendLicense(ctx, resp.DeviceUUID, resp.License); err != nil {
		// the device picks the license up on its next session
		logger.Warnf("pushing license to device: %v", err)
	}
	return nil
}

// SweepExpiring requests a renewal for every device whose license has expired
// or expires inside the horizon, still honoring the rejection back-off.
func (c *Coordinator) SweepExpiring(ctx context.Context) {
	devices, err := c.store.Device().List(ctx)
	if err != nil {
		c.log.Errorf("listing devices for license sweep: %v", err)
		return
	}

	now := c.nowFn()
	horizon := now.Add(expiryHorizon)
	for _, device := range devices {
		if device.License == nil || device.LicenseExpiration == nil {
			continue
		}
		if device.LicenseExpiration.After(horizon) {
			continue
		}
		if device.NextEarliestRenewal.After(now) {
			continue
		}
		err := c.Request(ctx, device.UUID, true)
		if err != nil && !errors.Is(err, gwerrors.ErrRequestInFlight) {
			c.log.Errorf("license sweep for %s: %v", device.UUID, err)
		}
	}
}
