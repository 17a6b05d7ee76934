// Package storetest provides an in-memory store for component tests.
package storetest

import (
	"fmt"
	"testing"

	"github.com/upflux/upflux-gateway/internal/store"
	"github.com/upflux/upflux-gateway/pkg/log"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewStore opens one private in-memory database per test, migrated and closed
// on cleanup.
func NewStore(t *testing.T) store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := store.NewStore(db, log.InitLogs())
	require.NoError(t, s.InitialMigration())
	t.Cleanup(func() { _ = s.Close() })
	return s
}
