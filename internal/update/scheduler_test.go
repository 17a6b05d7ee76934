package update

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/stretchr/testify/require"
)

func newSchedulerHarness(t *testing.T) (*Scheduler, *engineHarness) {
	t.Helper()

	h := newEngineHarness(t)
	s := NewScheduler(h.cfg, h.engine, h.acks, h.engine.log)
	return s, h
}

func (h *engineHarness) signedSchedule(id string, start time.Time, targets ...string) api.ScheduledUpdate {
	pkg := h.signedPackage("app_4.0.deb", targets...)
	return api.ScheduledUpdate{
		ScheduleID:   id,
		TargetUUIDs:  pkg.TargetUUIDs,
		FileName:     pkg.FileName,
		Data:         pkg.Data,
		Signature:    pkg.Signature,
		StartTimeUTC: start,
	}
}

func TestSchedulerStoresAndAcks(t *testing.T) {
	require := require.New(t)
	s, h := newSchedulerHarness(t)

	start := time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)
	s.Handle(context.Background(), h.signedSchedule("sched-1", start, "a"))

	responses := h.acks.commandResponses()
	require.Len(responses, 1)
	require.Equal("sched-1", responses[0].CommandID)
	require.True(responses[0].Success)
	require.Equal("Scheduled update stored for 2026-09-01T03:00:00Z", responses[0].Details)

	count, bytes := s.Pending()
	require.Equal(1, count)
	require.Equal(int64(len("payload of app_4.0.deb")), bytes)
}

func TestSchedulerRejectsBadSignature(t *testing.T) {
	require := require.New(t)
	s, h := newSchedulerHarness(t)

	su := h.signedSchedule("sched-1", time.Now().Add(time.Hour), "a")
	su.Signature = ed25519.Sign(h.key, []byte("other bytes"))

	s.Handle(context.Background(), su)

	responses := h.acks.commandResponses()
	require.Len(responses, 1)
	require.False(responses[0].Success)
	require.Equal("signature_rejected", responses[0].Details)

	count, _ := s.Pending()
	require.Zero(count)
}

func TestSchedulerEnforcesByteBudget(t *testing.T) {
	require := require.New(t)
	s, h := newSchedulerHarness(t)
	h.cfg.Update.MaxPendingPackageBytes = 30

	s.Handle(context.Background(), h.signedSchedule("sched-1", time.Now().Add(time.Hour), "a"))
	s.Handle(context.Background(), h.signedSchedule("sched-2", time.Now().Add(time.Hour), "a"))

	responses := h.acks.commandResponses()
	require.Len(responses, 2)
	require.True(responses[0].Success)
	require.False(responses[1].Success)
	require.Equal("pending package budget exceeded", responses[1].Details)

	count, _ := s.Pending()
	require.Equal(1, count)

	// the admission gate classifies the refusal
	err := s.admit(h.signedSchedule("sched-3", time.Now().Add(time.Hour), "a"))
	require.ErrorIs(err, gwerrors.ErrPackageTooLarge)
}

func TestSchedulerReplacesDuplicateID(t *testing.T) {
	require := require.New(t)
	s, h := newSchedulerHarness(t)

	s.Handle(context.Background(), h.signedSchedule("sched-1", time.Now().Add(time.Hour), "a"))
	s.Handle(context.Background(), h.signedSchedule("sched-1", time.Now().Add(2*time.Hour), "a", "b"))

	count, bytes := s.Pending()
	require.Equal(1, count)
	require.Equal(int64(len("payload of app_4.0.deb")), bytes)
}

func TestSweepExecutesDueEntriesOnce(t *testing.T) {
	require := require.New(t)
	s, h := newSchedulerHarness(t)
	ctx := context.Background()

	now := time.Now()
	s.nowFn = func() time.Time { return now }

	s.Handle(ctx, h.signedSchedule("sched-due", now.Add(-time.Minute), "a"))
	s.Handle(ctx, h.signedSchedule("sched-later", now.Add(time.Hour), "b"))

	s.Sweep(ctx)

	// the due entry executed and produced its single UpdateAck
	acks := h.acks.acks()
	require.Len(acks, 1)
	require.True(acks[0].Success)
	require.Equal(fmt.Sprintf("Succeeded on: %s; Failed on: ", "a"), acks[0].Details)

	count, _ := s.Pending()
	require.Equal(1, count)

	// a second sweep does not fire the same schedule again
	s.Sweep(ctx)
	require.Len(h.acks.acks(), 1)
	require.Equal(1, h.devices.attemptCount("a"))
	require.Zero(h.devices.attemptCount("b"))
}
