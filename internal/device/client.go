package device

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/upflux/upflux-gateway/internal/config"
	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/upflux/upflux-gateway/internal/store"
	"github.com/sirupsen/logrus"
)

const logsSubdir = "DeviceLogs"

// Client performs outbound device calls. Every call opens a fresh connection,
// runs one protocol exchange, and closes. The client never retries on its
// own; retry policy lives with the callers.
type Client struct {
	cfg   *config.Config
	log   logrus.FieldLogger
	store store.Store
}

func NewClient(cfg *config.Config, st store.Store, log logrus.FieldLogger) *Client {
	return &Client{cfg: cfg, log: log, store: st}
}

func (c *Client) readTimeout() time.Duration {
	return time.Duration(c.cfg.Device.ReadTimeoutS) * time.Second
}

// dial resolves the device's last-known address and opens one connection.
func (c *Client) dial(ctx context.Context, uuid string) (net.Conn, *bufio.Reader, error) {
	device, err := c.store.Device().Get(ctx, uuid)
	if err != nil {
		return nil, nil, err
	}
	if device.IP == "" {
		return nil, nil, fmt.Errorf("%w: no known address for %s", gwerrors.ErrUnknownDevice, uuid)
	}

	address := net.JoinHostPort(device.IP, fmt.Sprintf("%d", c.cfg.Device.ConnectPort))
	dialer := net.Dialer{Timeout: c.readTimeout()}

	tlsConfig, err := transportConfig(c.cfg)
	if err != nil {
		return nil, nil, err
	}

	var conn net.Conn
	if tlsConfig != nil {
		conn, err = tls.DialWithDialer(&dialer, "tcp", address, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dialing %s: %w", gwerrors.ErrTransport, address, err)
	}
	_ = conn.SetDeadline(time.Now().Add(c.readTimeout()))
	return conn, bufio.NewReader(conn), nil
}

// SendLicense pushes the license blob to the device. The device sends no reply.
func (c *Client) SendLicense(ctx context.Context, uuid, license string) error {
	conn, _, err := c.dial(ctx, uuid)
	if err != nil {
		return err
	}
	defer conn.Close()
	return WriteLine(conn, TokenLicensePrefix+license)
}

// SendUpdate delivers one update package to the device.
func (c *Client) SendUpdate(ctx context.Context, uuid, fileName string, data []byte) error {
	conn, reader, err := c.dial(ctx, uuid)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := WriteLine(conn, TokenSendPackagePrefix+fileName); err != nil {
		return err
	}
	reply, err := ReadLine(reader)
	if err != nil {
		return err
	}
	if reply != TokenReadyForPackage {
		return fmt.Errorf("%w: expected %s, got %q", gwerrors.ErrFraming, TokenReadyForPackage, reply)
	}
	return WriteFrame(conn, data)
}

// SendRollback instructs the device to roll back; success requires the device
// to confirm initiation and completion in order.
func (c *Client) SendRollback(ctx context.Context, uuid, params string) error {
	conn, reader, err := c.dial(ctx, uuid)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := WriteLine(conn, TokenRollbackPrefix+params); err != nil {
		return err
	}
	for _, expected := range []string{TokenRollbackInitiated, TokenRollbackCompleted} {
		reply, err := ReadLine(reader)
		if err != nil {
			return err
		}
		if reply != expected {
			return fmt.Errorf("%w: expected %s, got %q", gwerrors.ErrFraming, expected, reply)
		}
	}
	return nil
}

// RequestVersions asks the device for its software version report.
func (c *Client) RequestVersions(ctx context.Context, uuid string) (*VersionReport, error) {
	conn, reader, err := c.dial(ctx, uuid)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := WriteLine(conn, TokenGetVersions); err != nil {
		return nil, err
	}
	var report VersionReport
	if err := json.NewDecoder(reader).Decode(&report); err != nil {
		return nil, fmt.Errorf("%w: version report: %w", gwerrors.ErrDecode, err)
	}
	return &report, nil
}

// RequestLogs pulls the device's log files and persists them under
// <logs_directory>/DeviceLogs/. Returns the saved paths.
func (c *Client) RequestLogs(ctx context.Context, uuid string) ([]string, error) {
	conn, reader, err := c.dial(ctx, uuid)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := WriteLine(conn, TokenRequestLogs); err != nil {
		return nil, err
	}
	count, err := ReadUint32(reader)
	if err != nil {
		return nil, err
	}

	targetDir := filepath.Join(c.cfg.Gateway.LogsDirectory, logsSubdir)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102150405")
	paths := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		// each file costs one protocol step worth of patience
		_ = conn.SetDeadline(time.Now().Add(c.readTimeout()))

		nameBytes, err := ReadFrame(reader)
		if err != nil {
			return nil, err
		}
		data, err := ReadFrame(reader)
		if err != nil {
			return nil, err
		}

		name := filepath.Base(string(nameBytes))
		path := filepath.Join(targetDir, fmt.Sprintf("%s_%s_%s", uuid, stamp, name))
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("saving device log %s: %w", name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
