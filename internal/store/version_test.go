package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVersionInsertIsIdempotent(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	installedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(s.Version().InsertIfAbsent(ctx, "dev-1", "1.2.3", installedAt))
	// second insert with a different timestamp is a no-op
	require.NoError(s.Version().InsertIfAbsent(ctx, "dev-1", "1.2.3", installedAt.Add(time.Hour)))

	records, err := s.Version().ListByDevice(ctx, "dev-1")
	require.NoError(err)
	require.Len(records, 1)
	require.Equal("1.2.3", records[0].Version)
	require.WithinDuration(installedAt, records[0].InstalledAt, time.Second)
}

func TestVersionListIsScopedToDevice(t *testing.T) {
	require := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(s.Version().InsertIfAbsent(ctx, "dev-1", "1.0.0", now.Add(-2*time.Hour)))
	require.NoError(s.Version().InsertIfAbsent(ctx, "dev-1", "1.1.0", now.Add(-time.Hour)))
	require.NoError(s.Version().InsertIfAbsent(ctx, "dev-2", "2.0.0", now))

	records, err := s.Version().ListByDevice(ctx, "dev-1")
	require.NoError(err)
	require.Len(records, 2)
	// ordered by install time
	require.Equal("1.0.0", records[0].Version)
	require.Equal("1.1.0", records[1].Version)

	records, err = s.Version().ListByDevice(ctx, "dev-3")
	require.NoError(err)
	require.Empty(records)
}
