// Package cloud owns the single control channel between the gateway and the
// cloud controller. All outbound traffic funnels through the worker's send
// methods; inbound frames are dispatched to the component handlers.
package cloud

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/alert"
	"github.com/upflux/upflux-gateway/internal/config"
	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/upflux/upflux-gateway/internal/instrumentation"
	"github.com/upflux/upflux-gateway/internal/store"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	reconnectDelay = 5 * time.Second
	outboxSize     = 512
	writeTimeout   = 30 * time.Second
)

// Worker maintains one websocket session at a time and serializes every
// outbound frame through its outbox. The outbox survives reconnects, so
// messages queued while the link is down go out on the next session.
type Worker struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	store    store.Store
	handlers Handlers

	outbox    chan api.ControlMessage
	dialer    *websocket.Dialer
	reconnect time.Duration
}

func NewWorker(cfg *config.Config, st store.Store, alerts *alert.Bus, log logrus.FieldLogger) (*Worker, error) {
	dialer, err := newDialer(cfg)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		cfg:       cfg,
		log:       log.WithField("component", "cloud-worker"),
		store:     st,
		outbox:    make(chan api.ControlMessage, outboxSize),
		dialer:    dialer,
		reconnect: reconnectDelay,
	}
	alerts.Subscribe(func(a api.AlertMessage) {
		if err := w.SendAlert(a); err != nil {
			w.log.Warnf("Dropping alert: %v", err)
		}
	})
	return w, nil
}

// AttachHandlers binds the inbound dispatch targets. Components on the other
// side of these interfaces send through the worker themselves, so the wiring
// happens after construction and must be complete before Run.
func (w *Worker) AttachHandlers(handlers Handlers) {
	w.handlers = handlers
}

func newDialer(cfg *config.Config) (*websocket.Dialer, error) {
	dialer := &websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
	}
	if cfg.Gateway.CloudCaCertFile != "" {
		pemBytes, err := os.ReadFile(cfg.Gateway.CloudCaCertFile)
		if err != nil {
			return nil, fmt.Errorf("reading cloud CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("cloud CA bundle %s contains no certificates", cfg.Gateway.CloudCaCertFile)
		}
		dialer.TLSClientConfig = &tls.Config{RootCAs: pool}
	}
	return dialer, nil
}

// Run keeps a session open until the context is canceled, reopening after a
// fixed delay on any stream error or orderly close.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.session(ctx); err != nil && ctx.Err() == nil {
			w.log.Errorf("Control channel session ended: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.reconnect):
			instrumentation.ControlReconnects.Inc()
		}
	}
}

func (w *Worker) session(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.cfg.Gateway.CloudAddress, nil)
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %w", gwerrors.ErrTransport, w.cfg.Gateway.CloudAddress, err)
	}
	defer conn.Close()
	w.log.Infof("Control channel connected to %s", w.cfg.Gateway.CloudAddress)

	hello, err := api.NewControlMessage(w.cfg.Gateway.GatewayID, nil)
	if err != nil {
		return err
	}
	if err := w.write(conn, hello); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// unblocks the pending read when the session has to go down
	group.Go(func() error {
		<-groupCtx.Done()
		return conn.Close()
	})

	group.Go(func() error {
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case msg := <-w.outbox:
				if err := w.write(conn, msg); err != nil {
					return err
				}
			}
		}
	})

	group.Go(func() error {
		for {
			var msg api.ControlMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return fmt.Errorf("%w: reading control frame: %w", gwerrors.ErrTransport, err)
			}
			w.dispatch(groupCtx, msg)
		}
	})

	err = group.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Worker) write(conn *websocket.Conn, msg api.ControlMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: writing %s frame: %w", gwerrors.ErrTransport, msg.Type, err)
	}
	instrumentation.ControlMessagesSent.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

// enqueue wraps the payload in an envelope and queues it for the writer. The
// call never blocks; a full outbox rejects the message so slow links cannot
// stall device sessions. Telemetry goes through here, acks do not.
func (w *Worker) enqueue(payload any) error {
	msg, err := api.NewControlMessage(w.cfg.Gateway.GatewayID, payload)
	if err != nil {
		return err
	}
	select {
	case w.outbox <- msg:
		return nil
	default:
		return fmt.Errorf("%w: outbox full, dropping %s", gwerrors.ErrTransport, msg.Type)
	}
}

// enqueueWait queues one frame the cloud expects exactly once for its
// request. A full outbox makes the caller wait for the writer instead of
// losing the frame; the context bounds the wait.
func (w *Worker) enqueueWait(ctx context.Context, payload any) error {
	msg, err := api.NewControlMessage(w.cfg.Gateway.GatewayID, payload)
	if err != nil {
		return err
	}
	select {
	case w.outbox <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s not queued: %v", gwerrors.ErrTransport, msg.Type, ctx.Err())
	}
}

func (w *Worker) SendMonitoring(msg api.MonitoringData) error {
	return w.enqueue(msg)
}

func (w *Worker) SendLicenseRequest(uuid string, isRenewal bool) error {
	return w.enqueue(api.LicenseRequest{DeviceUUID: uuid, IsRenewal: isRenewal})
}

func (w *Worker) SendAlert(a api.AlertMessage) error {
	return w.enqueue(a)
}

func (w *Worker) SendRecommendations(rec api.AIRecommendations) error {
	return w.enqueue(rec)
}

func (w *Worker) SendDeviceStatus(status api.DeviceStatus) error {
	return w.enqueue(status)
}

func (w *Worker) SendCommandResponse(ctx context.Context, resp api.CommandResponse) error {
	return w.enqueueWait(ctx, resp)
}

func (w *Worker) SendUpdateAck(ctx context.Context, ack api.UpdateAck) error {
	return w.enqueueWait(ctx, ack)
}

func (w *Worker) SendLogUpload(ctx context.Context, upload api.LogUpload) error {
	return w.enqueueWait(ctx, upload)
}

func (w *Worker) SendLogResponse(ctx context.Context, resp api.LogResponse) error {
	return w.enqueueWait(ctx, resp)
}

func (w *Worker) SendVersionDataResponse(ctx context.Context, resp api.VersionDataResponse) error {
	return w.enqueueWait(ctx, resp)
}
