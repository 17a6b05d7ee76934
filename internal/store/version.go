package store

import (
	"context"
	"time"

	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/upflux/upflux-gateway/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Version interface {
	InsertIfAbsent(ctx context.Context, deviceUUID, version string, installedAt time.Time) error
	ListByDevice(ctx context.Context, deviceUUID string) ([]model.VersionRecord, error)
	InitialMigration() error
}

type VersionStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

var _ Version = (*VersionStore)(nil)

func NewVersion(db *gorm.DB, log logrus.FieldLogger) Version {
	return &VersionStore{db: db, log: log}
}

func (s *VersionStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.VersionRecord{})
}

// InsertIfAbsent is a no-op when the (device, version) pair already exists.
func (s *VersionStore) InsertIfAbsent(ctx context.Context, deviceUUID, version string, installedAt time.Time) error {
	record := model.VersionRecord{
		DeviceUUID:  deviceUUID,
		Version:     version,
		InstalledAt: installedAt,
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		s.log.Errorf("db.InsertIfAbsent(%s, %s): %v", deviceUUID, version, result.Error)
		return gwerrors.ErrorFromGormError(result.Error)
	}
	return nil
}

func (s *VersionStore) ListByDevice(ctx context.Context, deviceUUID string) ([]model.VersionRecord, error) {
	var records []model.VersionRecord
	result := s.db.WithContext(ctx).
		Where("device_uuid = ?", deviceUUID).
		Order("installed_at").
		Find(&records)
	if result.Error != nil {
		return nil, gwerrors.ErrorFromGormError(result.Error)
	}
	return records, nil
}
