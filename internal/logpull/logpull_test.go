package logpull

import (
	"context"
	"errors"
	"testing"

	"github.com/upflux/upflux-gateway/pkg/log"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	paths map[string][]string
	errs  map[string]error
}

func (f *fakeFetcher) RequestLogs(_ context.Context, uuid string) ([]string, error) {
	if err := f.errs[uuid]; err != nil {
		return nil, err
	}
	return f.paths[uuid], nil
}

func TestCollectAcrossDevices(t *testing.T) {
	require := require.New(t)

	fetcher := &fakeFetcher{
		paths: map[string][]string{
			"a": {"/logs/DeviceLogs/a_20260825_syslog", "/logs/DeviceLogs/a_20260825_kern.log"},
			"b": {"/logs/DeviceLogs/b_20260825_syslog"},
		},
		errs: map[string]error{"c": errors.New("device unreachable")},
	}
	puller := NewPuller(fetcher, log.InitLogs())

	files, failed := puller.Collect(context.Background(), []string{"a", "b", "c"})

	require.Len(files, 3)
	require.Equal("a", files[0].DeviceUUID)
	require.Equal("a_20260825_syslog", files[0].Name)
	require.Equal("/logs/DeviceLogs/a_20260825_syslog", files[0].Path)
	require.Equal("b", files[2].DeviceUUID)
	require.Equal([]string{"c"}, failed)
}

func TestCollectEmptyRequest(t *testing.T) {
	require := require.New(t)
	puller := NewPuller(&fakeFetcher{}, log.InitLogs())

	files, failed := puller.Collect(context.Background(), nil)
	require.Empty(files)
	require.Empty(failed)
}
