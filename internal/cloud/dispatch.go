package cloud

import (
	"context"
	"fmt"
	"os"
	"strings"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/device"
	"github.com/upflux/upflux-gateway/internal/instrumentation"
	"github.com/upflux/upflux-gateway/internal/logpull"
)

// LicenseHandler applies cloud license verdicts.
type LicenseHandler interface {
	HandleResponse(ctx context.Context, resp api.LicenseResponse) error
}

// CommandExecutor runs one CommandRequest to completion, including its ack.
type CommandExecutor interface {
	Execute(ctx context.Context, req api.CommandRequest)
}

// UpdateDistributor runs one immediate update to completion, including its ack.
type UpdateDistributor interface {
	Distribute(ctx context.Context, pkg api.UpdatePackage)
}

// UpdateScheduler stores one scheduled update, including its ack.
type UpdateScheduler interface {
	Handle(ctx context.Context, su api.ScheduledUpdate)
}

// LogCollector pulls logs for the requested devices to local disk.
type LogCollector interface {
	Collect(ctx context.Context, deviceUUIDs []string) (files []logpull.PulledFile, failed []string)
}

// VersionReader fetches a device's live version report.
type VersionReader interface {
	RequestVersions(ctx context.Context, deviceUUID string) (*device.VersionReport, error)
}

// Handlers collects the component entry points the dispatcher feeds.
type Handlers struct {
	Licenses LicenseHandler
	Commands CommandExecutor
	Updates  UpdateDistributor
	Schedule UpdateScheduler
	Logs     LogCollector
	Versions VersionReader
}

// dispatch routes one inbound frame. Long-running handlers get their own
// goroutine so a slow fan-out never stalls the read loop.
func (w *Worker) dispatch(ctx context.Context, msg api.ControlMessage) {
	instrumentation.ControlMessagesReceived.WithLabelValues(string(msg.Type)).Inc()

	switch msg.Type {
	case api.PayloadLicenseResponse:
		var resp api.LicenseResponse
		if err := msg.DecodePayload(&resp); err != nil {
			w.log.Errorf("Dropping malformed %s: %v", msg.Type, err)
			return
		}
		if err := w.handlers.Licenses.HandleResponse(ctx, resp); err != nil {
			w.log.Errorf("Applying license response for %s: %v", resp.DeviceUUID, err)
		}

	case api.PayloadCommandRequest:
		var req api.CommandRequest
		if err := msg.DecodePayload(&req); err != nil {
			w.log.Errorf("Dropping malformed %s: %v", msg.Type, err)
			return
		}
		go w.handlers.Commands.Execute(ctx, req)

	case api.PayloadLogRequest:
		var req api.LogRequest
		if err := msg.DecodePayload(&req); err != nil {
			w.log.Errorf("Dropping malformed %s: %v", msg.Type, err)
			return
		}
		go w.handleLogRequest(ctx, req)

	case api.PayloadUpdatePackage:
		var pkg api.UpdatePackage
		if err := msg.DecodePayload(&pkg); err != nil {
			w.log.Errorf("Dropping malformed %s: %v", msg.Type, err)
			return
		}
		go w.handlers.Updates.Distribute(ctx, pkg)

	case api.PayloadScheduledUpdate:
		var su api.ScheduledUpdate
		if err := msg.DecodePayload(&su); err != nil {
			w.log.Errorf("Dropping malformed %s: %v", msg.Type, err)
			return
		}
		w.handlers.Schedule.Handle(ctx, su)

	case api.PayloadVersionDataRequest:
		go w.handleVersionRequest(ctx)

	default:
		w.log.Warnf("Dropping control frame with unhandled type %q", msg.Type)
	}
}

// handleLogRequest streams every pulled file upward, then terminates the
// whole request with a single LogResponse.
func (w *Worker) handleLogRequest(ctx context.Context, req api.LogRequest) {
	files, failed := w.handlers.Logs.Collect(ctx, req.DeviceUUIDs)

	uploaded := 0
	for _, file := range files {
		data, err := os.ReadFile(file.Path)
		if err != nil {
			w.log.Errorf("Reading pulled log %s: %v", file.Path, err)
			continue
		}
		if err := w.SendLogUpload(ctx, api.LogUpload{
			DeviceUUID: file.DeviceUUID,
			FileName:   file.Name,
			Data:       data,
		}); err != nil {
			w.log.Errorf("Uploading log %s: %v", file.Name, err)
			continue
		}
		uploaded++
	}

	message := fmt.Sprintf("Uploaded %d log files", uploaded)
	if len(failed) > 0 {
		message = fmt.Sprintf("%s; no logs from: %s", message, strings.Join(failed, ", "))
	}
	if err := w.SendLogResponse(ctx, api.LogResponse{Success: len(failed) == 0, Message: message}); err != nil {
		w.log.Errorf("Sending log response: %v", err)
	}
}

// handleVersionRequest answers with one entry per known device. Devices that
// do not answer a live version query fall back to the stored history.
func (w *Worker) handleVersionRequest(ctx context.Context) {
	devices, err := w.store.Device().List(ctx)
	if err != nil {
		w.log.Errorf("Listing devices for version report: %v", err)
		if err := w.SendVersionDataResponse(ctx, api.VersionDataResponse{Success: false}); err != nil {
			w.log.Errorf("Sending version data response: %v", err)
		}
		return
	}

	entries := make([]api.DeviceVersions, 0, len(devices))
	for _, dev := range devices {
		entries = append(entries, w.versionsForDevice(ctx, dev.UUID))
	}

	if err := w.SendVersionDataResponse(ctx, api.VersionDataResponse{Success: true, Entries: entries}); err != nil {
		w.log.Errorf("Sending version data response: %v", err)
	}
}

func (w *Worker) versionsForDevice(ctx context.Context, uuid string) api.DeviceVersions {
	entry := api.DeviceVersions{DeviceUUID: uuid}

	report, err := w.handlers.Versions.RequestVersions(ctx, uuid)
	if err == nil {
		if report.Current != nil {
			entry.Current = &api.VersionInfo{Version: report.Current.Version, InstalledAt: report.Current.InstalledAt}
		}
		for _, v := range report.Available {
			entry.Available = append(entry.Available, api.VersionInfo{Version: v.Version, InstalledAt: v.InstalledAt})
		}
		return entry
	}
	w.log.Debugf("Device %s did not answer version query, using stored history: %v", uuid, err)

	records, err := w.store.Version().ListByDevice(ctx, uuid)
	if err != nil {
		w.log.Errorf("Reading version history for %s: %v", uuid, err)
		return entry
	}
	for _, record := range records {
		entry.Available = append(entry.Available, api.VersionInfo{Version: record.Version, InstalledAt: record.InstalledAt})
	}
	if len(records) > 0 {
		latest := records[len(records)-1]
		entry.Current = &api.VersionInfo{Version: latest.Version, InstalledAt: latest.InstalledAt}
	}
	return entry
}
