// Package alert is the in-process publisher for critical local events. The
// cloud worker attaches as the single subscriber and forwards everything it
// receives; alerts published while no subscriber is attached are dropped.
package alert

import (
	"sync"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/sirupsen/logrus"
)

type Subscriber func(api.AlertMessage)

type Bus struct {
	log      logrus.FieldLogger
	senderID string

	mu         sync.RWMutex
	subscriber Subscriber
}

func NewBus(senderID string, log logrus.FieldLogger) *Bus {
	return &Bus{log: log, senderID: senderID}
}

// Subscribe attaches the single subscriber slot, replacing any previous one.
func (b *Bus) Subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriber = fn
}

// Publish delivers the alert synchronously to the subscriber. The source is
// stamped with the gateway id unless the caller already set one.
func (b *Bus) Publish(alert api.AlertMessage) {
	if alert.Source == "" {
		alert.Source = b.senderID
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subscriber := b.subscriber
	b.mu.RUnlock()

	if subscriber == nil {
		b.log.Warnf("dropping alert with no subscriber attached: %s", alert.Message)
		return
	}
	subscriber(alert)
}

// Info publishes an informational alert attributed to the given source.
func (b *Bus) Info(source, message string) {
	b.Publish(api.AlertMessage{Level: api.AlertInformation, Message: message, Source: source})
}

// Critical publishes a critical alert, optionally carrying the triggering error.
func (b *Bus) Critical(message string, cause error) {
	alert := api.AlertMessage{Level: api.AlertCritical, Message: message}
	if cause != nil {
		alert.Exception = cause.Error()
	}
	b.Publish(alert)
}
