// Package instrumentation exposes the gateway's own operational metrics.
package instrumentation

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	DeviceSessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "upflux_gateway_device_sessions_open",
		Help: "Device TCP sessions currently in data exchange.",
	})
	ControlMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upflux_gateway_control_messages_sent_total",
		Help: "Control messages written to the cloud stream, by payload type.",
	}, []string{"type"})
	ControlMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upflux_gateway_control_messages_received_total",
		Help: "Control messages dispatched from the cloud stream, by payload type.",
	}, []string{"type"})
	ControlReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upflux_gateway_control_reconnects_total",
		Help: "Times the cloud control channel had to be reopened.",
	})
	UpdateDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upflux_gateway_update_deliveries_total",
		Help: "Per-device update delivery outcomes.",
	}, []string{"result"})
	LivenessTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "upflux_gateway_liveness_transitions_total",
		Help: "Device online/offline transitions observed by the prober.",
	})
)

// Serve runs the metrics endpoint until the context is canceled.
func Serve(ctx context.Context, address string, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: address, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("Serving metrics on %s", address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
