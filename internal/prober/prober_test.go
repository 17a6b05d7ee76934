package prober

import (
	"context"
	"sync"
	"testing"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/store/model"
	"github.com/upflux/upflux-gateway/internal/store/storetest"
	"github.com/upflux/upflux-gateway/pkg/log"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	mu     sync.Mutex
	online map[string]bool
	pings  int
}

func (f *fakePinger) Ping(_ context.Context, ip string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.online[ip], nil
}

func (f *fakePinger) set(ip string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[ip] = online
}

type fakeSink struct {
	mu       sync.Mutex
	statuses []api.DeviceStatus
}

func (f *fakeSink) SendDeviceStatus(status api.DeviceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeSink) sent() []api.DeviceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.DeviceStatus(nil), f.statuses...)
}

func TestSweepEmitsOnlyTransitions(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	st := storetest.NewStore(t)
	require.NoError(st.Device().Upsert(ctx, &model.Device{UUID: "a", IP: "10.0.0.5"}))

	pinger := &fakePinger{online: map[string]bool{"10.0.0.5": true}}
	sink := &fakeSink{}
	p := New(st, pinger, sink, log.InitLogs())

	// first observation always emits
	p.Sweep(ctx)
	statuses := sink.sent()
	require.Len(statuses, 1)
	require.Equal("a", statuses[0].DeviceUUID)
	require.True(statuses[0].IsOnline)

	// unchanged state stays silent
	p.Sweep(ctx)
	p.Sweep(ctx)
	require.Len(sink.sent(), 1)

	// three failed pings produce a single offline transition
	pinger.set("10.0.0.5", false)
	p.Sweep(ctx)
	p.Sweep(ctx)
	p.Sweep(ctx)

	statuses = sink.sent()
	require.Len(statuses, 2)
	require.False(statuses[1].IsOnline)
}

func TestSweepUpdatesLastSeenOnTransition(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	st := storetest.NewStore(t)
	require.NoError(st.Device().Upsert(ctx, &model.Device{UUID: "a", IP: "10.0.0.5"}))

	pinger := &fakePinger{online: map[string]bool{"10.0.0.5": true}}
	sink := &fakeSink{}
	p := New(st, pinger, sink, log.InitLogs())

	probedAt := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	p.nowFn = func() time.Time { return probedAt }

	p.Sweep(ctx)

	device, err := st.Device().Get(ctx, "a")
	require.NoError(err)
	require.WithinDuration(probedAt, device.LastSeen, time.Second)
	require.WithinDuration(probedAt, sink.sent()[0].LastSeen, time.Second)
}

func TestSweepSkipsDevicesWithoutAddress(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	st := storetest.NewStore(t)
	require.NoError(st.Device().Upsert(ctx, &model.Device{UUID: "no-addr"}))

	pinger := &fakePinger{online: map[string]bool{}}
	sink := &fakeSink{}
	p := New(st, pinger, sink, log.InitLogs())

	p.Sweep(ctx)
	require.Zero(pinger.pings)
	require.Empty(sink.sent())
}
