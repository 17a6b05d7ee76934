package store

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Store interface {
	Device() Device
	Version() Version
	InitialMigration() error
	Close() error
}

type DataStore struct {
	device  Device
	version Version

	db *gorm.DB
}

func NewStore(db *gorm.DB, log logrus.FieldLogger) Store {
	return &DataStore{
		device:  NewDevice(db, log),
		version: NewVersion(db, log),
		db:      db,
	}
}

func (s *DataStore) Device() Device {
	return s.device
}

func (s *DataStore) Version() Version {
	return s.version
}

func (s *DataStore) InitialMigration() error {
	if err := s.Device().InitialMigration(); err != nil {
		return err
	}
	return s.Version().InitialMigration()
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
