// Package command fans cloud commands out to field devices.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RollbackSender triggers a rollback on one device over its update session.
type RollbackSender interface {
	SendRollback(ctx context.Context, deviceUUID, params string) error
}

// ResponseSender reports the aggregated command outcome back to the cloud.
type ResponseSender interface {
	SendCommandResponse(ctx context.Context, resp api.CommandResponse) error
}

// Engine executes CommandRequests. Rollback is the only supported command
// type; dispatch is a one-shot parallel fan-out with no retries, answered by
// exactly one CommandResponse.
type Engine struct {
	log     logrus.FieldLogger
	devices RollbackSender
	cloud   ResponseSender
}

func NewEngine(devices RollbackSender, cloud ResponseSender, log logrus.FieldLogger) *Engine {
	return &Engine{
		log:     log.WithField("component", "command-engine"),
		devices: devices,
		cloud:   cloud,
	}
}

// Execute runs one CommandRequest end to end.
func (e *Engine) Execute(ctx context.Context, req api.CommandRequest) {
	log := e.log.WithField("command", req.CommandID)

	if req.CommandType != api.CommandRollback {
		log.Warnf("Unsupported command type %q", req.CommandType)
		e.respond(ctx, api.CommandResponse{
			CommandID: req.CommandID,
			Success:   false,
			Details:   fmt.Sprintf("unsupported command type %q", req.CommandType),
		})
		return
	}

	var mu sync.Mutex
	var succeeded, failed []string

	group, groupCtx := errgroup.WithContext(ctx)
	for _, uuid := range req.TargetUUIDs {
		uuid := uuid
		group.Go(func() error {
			err := e.devices.SendRollback(groupCtx, uuid, req.Parameters)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warnf("Rollback on device %s failed: %v", uuid, err)
				failed = append(failed, uuid)
			} else {
				succeeded = append(succeeded, uuid)
			}
			return nil
		})
	}
	_ = group.Wait()

	sort.Strings(succeeded)
	sort.Strings(failed)

	e.respond(ctx, api.CommandResponse{
		CommandID: req.CommandID,
		Success:   len(failed) == 0,
		Details:   rollbackDetails(succeeded, failed),
	})
}

func rollbackDetails(succeeded, failed []string) string {
	if len(failed) == 0 {
		return fmt.Sprintf("Rollback succeeded on: %s", strings.Join(succeeded, ", "))
	}
	return fmt.Sprintf("Rollback partial success: succeeded on %s; failed on %s",
		strings.Join(succeeded, ", "), strings.Join(failed, ", "))
}

func (e *Engine) respond(ctx context.Context, resp api.CommandResponse) {
	if err := e.cloud.SendCommandResponse(ctx, resp); err != nil {
		e.log.Errorf("Sending command response for %s: %v", resp.CommandID, err)
	}
}
