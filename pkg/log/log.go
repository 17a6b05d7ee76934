package log

import (
	"github.com/sirupsen/logrus"
)

func InitLogs() *logrus.Logger {
	log := logrus.New()

	log.SetReportCaller(true)

	return log
}

// WithComponent creates a logger tagged with the originating component, so
// interleaved component logs stay attributable.
func WithComponent(component string, inner logrus.FieldLogger) logrus.FieldLogger {
	return inner.WithField("component", component)
}

// WithDevice creates a logger tagged with the device UUID being handled.
func WithDevice(uuid string, inner logrus.FieldLogger) logrus.FieldLogger {
	return inner.WithField("device", uuid)
}
