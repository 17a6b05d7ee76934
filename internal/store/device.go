package store

import (
	"context"
	"fmt"
	"time"

	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/upflux/upflux-gateway/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Device interface {
	Get(ctx context.Context, uuid string) (*model.Device, error)
	Upsert(ctx context.Context, device *model.Device) error
	List(ctx context.Context) ([]model.Device, error)
	UpdateLastSeen(ctx context.Context, uuid string, lastSeen time.Time) error
	InitialMigration() error
}

type DeviceStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Device interface
var _ Device = (*DeviceStore)(nil)

func NewDevice(db *gorm.DB, log logrus.FieldLogger) Device {
	return &DeviceStore{db: db, log: log}
}

func (s *DeviceStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Device{})
}

func (s *DeviceStore) Get(ctx context.Context, uuid string) (*model.Device, error) {
	var device model.Device
	result := s.db.WithContext(ctx).First(&device, "uuid = ?", uuid)
	if result.Error != nil {
		return nil, gwerrors.ErrorFromGormError(result.Error)
	}
	return &device, nil
}

// Upsert is a whole-row replace keyed on the device UUID. Concurrent readers
// observe either the old or the new row, never a blend.
func (s *DeviceStore) Upsert(ctx context.Context, device *model.Device) error {
	if device == nil || device.UUID == "" {
		return fmt.Errorf("device uuid is not set")
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		UpdateAll: true,
	}).Create(device)
	if result.Error != nil {
		s.log.Errorf("db.Upsert(%s): %v", device.UUID, result.Error)
		return gwerrors.ErrorFromGormError(result.Error)
	}
	return nil
}

func (s *DeviceStore) List(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	result := s.db.WithContext(ctx).Order("uuid").Find(&devices)
	if result.Error != nil {
		return nil, gwerrors.ErrorFromGormError(result.Error)
	}
	return devices, nil
}

// UpdateLastSeen touches only the liveness columns so a prober transition does
// not race a concurrent license update on the rest of the row.
func (s *DeviceStore) UpdateLastSeen(ctx context.Context, uuid string, lastSeen time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{"last_seen": lastSeen})
	if result.Error != nil {
		return gwerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return gwerrors.ErrNotFound
	}
	return nil
}
