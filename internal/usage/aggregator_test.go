package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock lets tests march samples through the window deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time            { return c.now }
func (c *fakeClock) Advance(d time.Duration)   { c.now = c.now.Add(d) }
func newTestAggregator(c *fakeClock) *Aggregator {
	a := NewAggregator()
	a.nowFn = c.Now
	return a
}

func TestComputeVectorsAverages(t *testing.T) {
	require := require.New(t)
	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	a := newTestAggregator(clock)

	// 60 samples over the last 6 minutes averaging cpu=40, mem=50, net=1000
	for i := 0; i < 60; i++ {
		a.Record("dev-a", 40, 50, 600, 400)
		clock.Advance(6 * time.Second)
	}

	vectors := a.ComputeVectors()
	require.Len(vectors, 1)
	v := vectors[0]
	require.Equal("dev-a", v.DeviceUUID)
	require.InDelta(0.5, v.BusyFraction, 1e-9)
	require.InDelta(40, v.AvgCPU, 1e-9)
	require.InDelta(50, v.AvgMem, 1e-9)
	require.InDelta(1000, v.AvgNet, 1e-9)
}

func TestRecordTrimsOutsideWindow(t *testing.T) {
	require := require.New(t)
	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	a := newTestAggregator(clock)

	a.Record("dev-a", 90, 90, 0, 0)
	clock.Advance(Window + time.Minute)
	a.Record("dev-a", 10, 10, 0, 0)

	vectors := a.ComputeVectors()
	require.Len(vectors, 1)
	// only the second sample survives the trim
	require.InDelta(10, vectors[0].AvgCPU, 1e-9)
	require.InDelta(1.0/120, vectors[0].BusyFraction, 1e-9)
}

func TestComputeVectorsOmitsInactiveDevices(t *testing.T) {
	require := require.New(t)
	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	a := newTestAggregator(clock)

	a.Record("dev-a", 40, 50, 0, 0)
	clock.Advance(Window + time.Second)

	// dev-a's only sample has slid out of the window
	require.Empty(a.ComputeVectors())
}

func TestPredictNextIdle(t *testing.T) {
	require := require.New(t)
	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	a := newTestAggregator(clock)

	a.Record("dev-a", 40, 50, 0, 0)
	clock.Advance(3 * time.Second)
	a.Record("dev-a", 40, 50, 0, 0)
	gapStart := clock.Now()
	clock.Advance(30 * time.Second)
	a.Record("dev-a", 40, 50, 0, 0)

	prediction := a.PredictNextIdle("dev-a")
	require.NotNil(prediction.NextIdleTime)
	require.True(prediction.NextIdleTime.Equal(gapStart))
	require.InDelta(30, prediction.IdleDurationSecs, 1e-9)
}

func TestPredictNextIdleNoGap(t *testing.T) {
	require := require.New(t)
	clock := &fakeClock{now: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
	a := newTestAggregator(clock)

	for i := 0; i < 10; i++ {
		a.Record("dev-a", 40, 50, 0, 0)
		clock.Advance(3 * time.Second)
	}

	prediction := a.PredictNextIdle("dev-a")
	require.Nil(prediction.NextIdleTime)

	// unknown devices have no prediction either
	require.Nil(a.PredictNextIdle("dev-b").NextIdleTime)
}
