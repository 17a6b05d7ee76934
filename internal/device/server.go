package device

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/alert"
	"github.com/upflux/upflux-gateway/internal/config"
	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/upflux/upflux-gateway/internal/instrumentation"
	"github.com/upflux/upflux-gateway/internal/store"
	"github.com/upflux/upflux-gateway/internal/store/model"
	"github.com/upflux/upflux-gateway/internal/usage"
	"github.com/upflux/upflux-gateway/pkg/log"
	"github.com/sirupsen/logrus"
)

// LicenseGate decides whether a device session may proceed to data exchange.
// The gate triggers its own license requests upward as a side effect.
type LicenseGate interface {
	Validate(ctx context.Context, uuid string) (bool, error)
}

// MonitoringSink is the narrow slice of the cloud worker a session needs.
type MonitoringSink interface {
	SendMonitoring(msg api.MonitoringData) error
}

// Server terminates device-facing TCP sessions and routes their traffic.
type Server struct {
	cfg    *config.Config
	log    logrus.FieldLogger
	store  store.Store
	usage  *usage.Aggregator
	gate   LicenseGate
	cloud  MonitoringSink
	alerts *alert.Bus
}

func NewServer(
	cfg *config.Config,
	log logrus.FieldLogger,
	st store.Store,
	aggregator *usage.Aggregator,
	gate LicenseGate,
	cloud MonitoringSink,
	alerts *alert.Bus,
) *Server {
	return &Server{
		cfg:    cfg,
		log:    log,
		store:  st,
		usage:  aggregator,
		gate:   gate,
		cloud:  cloud,
		alerts: alerts,
	}
}

// Run accepts device connections until the context is canceled. Each accepted
// connection is handled in its own goroutine; a failing session never affects
// its siblings.
func (s *Server) Run(ctx context.Context) error {
	address := fmt.Sprintf(":%d", s.cfg.Device.ListenPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("%w: listening on %s: %v", gwerrors.ErrTransport, address, err)
	}
	if tlsConfig, err := transportConfig(s.cfg); err != nil {
		_ = listener.Close()
		return err
	} else if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}
	s.log.Infof("Listening for devices on %s", address)
	return s.serve(ctx, listener)
}

func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Errorf("accepting device connection: %v", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) idleTimeout() time.Duration {
	return time.Duration(s.cfg.Device.SessionIdleTimeoutS) * time.Second
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	_ = conn.SetDeadline(time.Now().Add(s.idleTimeout()))
	if err := WriteLine(conn, TokenRequestUUID); err != nil {
		s.log.Errorf("handshake write failed: %v", err)
		return
	}

	line, err := ReadLine(reader)
	if err != nil {
		s.log.Errorf("handshake read failed: %v", err)
		return
	}
	if !strings.HasPrefix(line, TokenUUIDPrefix) {
		s.log.Errorf("handshake expected %s<id>, got %q", TokenUUIDPrefix, line)
		return
	}
	uuid := strings.TrimPrefix(line, TokenUUIDPrefix)
	if uuid == "" {
		s.log.Errorf("handshake carried an empty device id")
		return
	}
	logger := log.WithDevice(uuid, s.log)

	if err := s.recordHandshake(ctx, uuid, conn.RemoteAddr()); err != nil {
		logger.Errorf("recording handshake: %v", err)
		s.alerts.Critical(fmt.Sprintf("failed to persist handshake for device %s", uuid), err)
	}

	valid, err := s.gate.Validate(ctx, uuid)
	if err != nil {
		logger.Errorf("license check failed: %v", err)
		s.alerts.Critical(fmt.Sprintf("license check failed for device %s", uuid), err)
	}
	if !valid {
		logger.Info("license invalid, closing session")
		_ = WriteLine(conn, TokenLicenseInvalid)
		return
	}

	s.dataExchange(ctx, conn, reader, uuid, logger)
}

// recordHandshake creates the device row on first contact and refreshes the
// last-known address afterwards.
func (s *Server) recordHandshake(ctx context.Context, uuid string, remote net.Addr) error {
	ip := ""
	if host, _, err := net.SplitHostPort(remote.String()); err == nil {
		ip = host
	}

	device, err := s.store.Device().Get(ctx, uuid)
	if errors.Is(err, gwerrors.ErrNotFound) {
		device = &model.Device{
			UUID:               uuid,
			RegistrationStatus: model.RegistrationPending,
		}
	} else if err != nil {
		return err
	}
	if ip != "" {
		device.IP = ip
	}
	device.LastSeen = time.Now().UTC()
	return s.store.Device().Upsert(ctx, device)
}

func (s *Server) dataExchange(ctx context.Context, conn net.Conn, reader *bufio.Reader, uuid string, logger logrus.FieldLogger) {
	instrumentation.DeviceSessionsOpen.Inc()
	defer instrumentation.DeviceSessionsOpen.Dec()
	logger.Info("session entered data exchange")

	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetDeadline(time.Now().Add(s.idleTimeout()))

		line, err := ReadLine(reader)
		if err != nil {
			if err == io.EOF {
				logger.Info("device closed the session")
			} else if errors.Is(err, os.ErrDeadlineExceeded) {
				logger.Infof("session idle for %s, closing", s.idleTimeout())
			} else {
				logger.Errorf("session read failed: %v", err)
			}
			return
		}

		switch {
		case strings.HasPrefix(line, TokenMonitoringPrefix):
			payload := strings.TrimPrefix(line, TokenMonitoringPrefix)
			if err := s.handleMonitoring(ctx, uuid, payload, logger); err != nil {
				logger.Errorf("terminating session: %v", err)
				return
			}
			if err := WriteLine(conn, TokenDataReceived); err != nil {
				logger.Errorf("acking monitoring data: %v", err)
				return
			}
		case strings.HasPrefix(line, TokenNotificationPrefix):
			text := strings.TrimPrefix(line, TokenNotificationPrefix)
			s.alerts.Info("Device-"+uuid, text)
		default:
			logger.Warnf("ignoring unrecognized line %q", line)
		}
	}
}

func (s *Server) handleMonitoring(ctx context.Context, uuid, payload string, logger logrus.FieldLogger) error {
	var data MonitoringPayload
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return fmt.Errorf("%w: monitoring data: %v", gwerrors.ErrDecode, err)
	}
	if data.UUID == "" {
		data.UUID = uuid
	}

	if err := s.store.Device().UpdateLastSeen(ctx, uuid, time.Now().UTC()); err != nil {
		// session keeps flowing; the repository fault surfaces as an alert
		logger.Errorf("updating last seen: %v", err)
		s.alerts.Critical(fmt.Sprintf("failed to update last seen for device %s", uuid), err)
	}

	normalized := data.Normalize()
	s.usage.Record(
		uuid,
		normalized.CPUUsagePercent,
		normalized.MemoryUsagePercent,
		normalized.NetworkTxBytes,
		normalized.NetworkRxBytes,
	)

	if err := s.cloud.SendMonitoring(normalized); err != nil {
		logger.Warnf("forwarding monitoring data: %v", err)
	}
	return nil
}
