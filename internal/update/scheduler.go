package update

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/config"
	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/sirupsen/logrus"
)

// ScheduleResponder acknowledges scheduled-update requests toward the cloud.
type ScheduleResponder interface {
	SendCommandResponse(ctx context.Context, resp api.CommandResponse) error
}

// Scheduler holds signed packages in memory until their start time and hands
// due entries to the engine. Entries are keyed by schedule id; the sum of the
// pending package payloads is capped by the configured byte budget.
type Scheduler struct {
	cfg    *config.Config
	log    logrus.FieldLogger
	engine *Engine
	cloud  ScheduleResponder

	mu         sync.Mutex
	entries    map[string]api.ScheduledUpdate
	totalBytes int64

	nowFn func() time.Time
}

func NewScheduler(cfg *config.Config, engine *Engine, cloud ScheduleResponder, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		log:     log.WithField("component", "update-scheduler"),
		engine:  engine,
		cloud:   cloud,
		entries: make(map[string]api.ScheduledUpdate),
		nowFn:   time.Now,
	}
}

// Handle stores one scheduled update and sends exactly one CommandResponse
// for it, keyed by the schedule id.
func (s *Scheduler) Handle(ctx context.Context, su api.ScheduledUpdate) {
	log := s.log.WithField("schedule", su.ScheduleID)

	if err := s.admit(su); err != nil {
		log.Warnf("Rejecting scheduled package %s: %v", su.FileName, err)
		details := "pending package budget exceeded"
		if errors.Is(err, gwerrors.ErrSignatureRejected) {
			details = "signature_rejected"
		}
		s.respond(ctx, api.CommandResponse{CommandID: su.ScheduleID, Success: false, Details: details})
		return
	}

	s.respond(ctx, api.CommandResponse{
		CommandID: su.ScheduleID,
		Success:   true,
		Details:   fmt.Sprintf("Scheduled update stored for %s", su.StartTimeUTC.UTC().Format(time.RFC3339)),
	})
}

// admit verifies the package and stores it under the byte budget. A resent
// schedule id replaces its previous entry and only the delta counts.
func (s *Scheduler) admit(su api.ScheduledUpdate) error {
	if err := s.engine.verifier.Verify(su.Data, su.Signature); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, replacing := s.entries[su.ScheduleID]
	pending := s.totalBytes
	if replacing {
		pending -= int64(len(previous.Data))
	}
	if pending+int64(len(su.Data)) > s.cfg.Update.MaxPendingPackageBytes {
		return fmt.Errorf("%w: %d bytes pending, %d incoming, budget %d",
			gwerrors.ErrPackageTooLarge, pending, len(su.Data), s.cfg.Update.MaxPendingPackageBytes)
	}
	s.entries[su.ScheduleID] = su
	s.totalBytes = pending + int64(len(su.Data))
	if replacing {
		s.log.Infof("Replaced schedule entry for %s", su.FileName)
	}
	return nil
}

// Sweep pops every due entry and runs its distribution. Called periodically;
// an entry is removed before the engine runs so a slow fan-out cannot fire
// the same schedule twice.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.nowFn()

	s.mu.Lock()
	var due []api.ScheduledUpdate
	for id, entry := range s.entries {
		if !entry.StartTimeUTC.After(now) {
			due = append(due, entry)
			delete(s.entries, id)
			s.totalBytes -= int64(len(entry.Data))
		}
	}
	s.mu.Unlock()

	for _, entry := range due {
		s.log.Infof("Executing schedule %s (%s)", entry.ScheduleID, entry.FileName)
		s.engine.Distribute(ctx, api.UpdatePackage{
			FileName:    entry.FileName,
			Data:        entry.Data,
			Signature:   entry.Signature,
			TargetUUIDs: entry.TargetUUIDs,
		})
	}
}

// Pending reports the number of stored entries and their payload byte total.
func (s *Scheduler) Pending() (int, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), s.totalBytes
}

func (s *Scheduler) respond(ctx context.Context, resp api.CommandResponse) {
	if err := s.cloud.SendCommandResponse(ctx, resp); err != nil {
		s.log.Errorf("Sending schedule response for %s: %v", resp.CommandID, err)
	}
}
