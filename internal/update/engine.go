// Package update distributes signed software packages to field devices.
package update

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/config"
	"github.com/upflux/upflux-gateway/internal/instrumentation"
	"github.com/upflux/upflux-gateway/internal/store"
	"github.com/upflux/upflux-gateway/pkg/poll"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PackageSender pushes a package file to one device over its update session.
type PackageSender interface {
	SendUpdate(ctx context.Context, deviceUUID, fileName string, data []byte) error
}

// AckSender reports the fan-out outcome back to the cloud.
type AckSender interface {
	SendUpdateAck(ctx context.Context, ack api.UpdateAck) error
}

// Engine verifies, persists and fans out update packages. Every package
// produces exactly one UpdateAck, whatever the per-device outcomes were.
type Engine struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	devices  PackageSender
	cloud    AckSender
	verifier Verifier
	versions store.Version
	backoff  poll.Config
	nowFn    func() time.Time
}

func NewEngine(cfg *config.Config, devices PackageSender, cloud AckSender, verifier Verifier, versions store.Version, log logrus.FieldLogger) *Engine {
	return &Engine{
		cfg:      cfg,
		log:      log.WithField("component", "update-engine"),
		devices:  devices,
		cloud:    cloud,
		verifier: verifier,
		versions: versions,
		backoff:  poll.Config{BaseDelay: 2 * time.Second, Factor: 2},
		nowFn:    time.Now,
	}
}

// Distribute runs the whole pipeline for one package: signature gate,
// persistence, per-device fan-out with retries, version recording, ack.
func (e *Engine) Distribute(ctx context.Context, pkg api.UpdatePackage) {
	log := e.log.WithField("file", pkg.FileName)

	if err := e.verifier.Verify(pkg.Data, pkg.Signature); err != nil {
		log.Warnf("Rejecting package: %v", err)
		e.ack(ctx, api.UpdateAck{FileName: pkg.FileName, Success: false, Details: "signature_rejected"})
		return
	}

	if err := e.persist(pkg); err != nil {
		log.Errorf("Could not persist package: %v", err)
	}

	status := e.fanOut(ctx, pkg)

	version := versionFromFileName(pkg.FileName)
	installedAt := e.nowFn()
	for _, uuid := range status.Succeeded() {
		if err := e.versions.InsertIfAbsent(ctx, uuid, version, installedAt); err != nil {
			log.Errorf("Recording version %s for device %s: %v", version, uuid, err)
		}
	}

	e.ack(ctx, api.UpdateAck{
		FileName: pkg.FileName,
		Success:  status.AllSucceeded(),
		Details:  status.Details(),
	})
}

func (e *Engine) fanOut(ctx context.Context, pkg api.UpdatePackage) *Status {
	status := NewStatus(pkg.TargetUUIDs)

	for attempt := 0; ; attempt++ {
		pending := status.Pending()
		if len(pending) == 0 {
			break
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for _, uuid := range pending {
			uuid := uuid
			group.Go(func() error {
				if err := e.devices.SendUpdate(groupCtx, uuid, pkg.FileName, pkg.Data); err != nil {
					e.log.Warnf("Delivery of %s to device %s failed (attempt %d): %v", pkg.FileName, uuid, attempt+1, err)
					status.MarkFailed(uuid)
					instrumentation.UpdateDeliveries.WithLabelValues("failed").Inc()
					return nil
				}
				status.MarkSucceeded(uuid)
				instrumentation.UpdateDeliveries.WithLabelValues("succeeded").Inc()
				return nil
			})
		}
		_ = group.Wait()

		failed := status.Failed()
		if len(failed) == 0 || attempt >= e.cfg.Update.MaxRetries {
			break
		}
		if err := poll.Sleep(ctx, poll.CalculateBackoffDelay(&e.backoff, attempt+1)); err != nil {
			break
		}
		for _, uuid := range failed {
			status.RequeueFailed(uuid)
		}
	}
	return status
}

func (e *Engine) persist(pkg api.UpdatePackage) error {
	dir := e.cfg.Update.PackageDirectory
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filepath.Base(pkg.FileName)), pkg.Data, 0o644)
}

func (e *Engine) ack(ctx context.Context, ack api.UpdateAck) {
	if err := e.cloud.SendUpdateAck(ctx, ack); err != nil {
		e.log.Errorf("Sending update ack for %s: %v", ack.FileName, err)
	}
}

// versionFromFileName derives the version label recorded in the history from
// the package file name, e.g. "app_2.1.deb" yields "2.1".
func versionFromFileName(fileName string) string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if idx := strings.LastIndex(base, "_"); idx >= 0 && idx+1 < len(base) {
		return base[idx+1:]
	}
	if base == "" {
		return fileName
	}
	return base
}
