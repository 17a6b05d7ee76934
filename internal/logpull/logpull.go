// Package logpull retrieves log files from field devices on cloud demand.
package logpull

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// LogFetcher pulls a device's log files to local disk.
type LogFetcher interface {
	RequestLogs(ctx context.Context, deviceUUID string) ([]string, error)
}

// PulledFile is one retrieved log file ready for upload.
type PulledFile struct {
	DeviceUUID string
	Name       string
	Path       string
}

// Puller collects logs across devices and reports per-device outcomes.
type Puller struct {
	log     logrus.FieldLogger
	devices LogFetcher
}

func NewPuller(devices LogFetcher, log logrus.FieldLogger) *Puller {
	return &Puller{
		log:     log.WithField("component", "log-puller"),
		devices: devices,
	}
}

// Collect pulls logs from every named device. Unreachable devices are skipped
// with a warning; the returned slice holds the files that did arrive, and
// failed names the devices that produced nothing.
func (p *Puller) Collect(ctx context.Context, deviceUUIDs []string) (files []PulledFile, failed []string) {
	for _, uuid := range deviceUUIDs {
		paths, err := p.devices.RequestLogs(ctx, uuid)
		if err != nil {
			p.log.Warnf("Pulling logs from device %s: %v", uuid, err)
			failed = append(failed, uuid)
			continue
		}
		for _, path := range paths {
			files = append(files, PulledFile{
				DeviceUUID: uuid,
				Name:       filepath.Base(path),
				Path:       path,
			})
		}
	}
	return files, failed
}
