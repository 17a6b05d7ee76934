// upflux-devicesim simulates a fleet of field devices against a running
// gateway: each simulated device performs the UUID handshake, reports
// monitoring data on a fixed cadence, and answers the gateway's outbound
// license, update, rollback, version and log calls.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/upflux/upflux-gateway/internal/device"
	"github.com/upflux/upflux-gateway/pkg/log"
	"github.com/upflux/upflux-gateway/pkg/poll"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := log.InitLogs()
	log.Println("Starting device simulator")
	defer log.Println("Device simulator stopped")

	gatewayAddr := pflag.String("gateway", "localhost:5000", "address of the gateway device listener")
	listenPort := pflag.Uint("listen-port", 6000, "port to answer the gateway's outbound calls on")
	count := pflag.Int("count", 1, "number of devices to simulate")
	interval := pflag.Duration("interval", 3*time.Second, "monitoring report cadence")
	logLevel := pflag.StringP("log-level", "v", "info", "logger verbosity level")
	pflag.Parse()

	logLvl, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logLvl = logrus.InfoLevel
	}
	log.SetLevel(logLvl)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < *count; i++ {
		sim := &simulator{
			log:         log.WithField("device", i),
			uuid:        uuid.New().String(),
			gatewayAddr: *gatewayAddr,
			listenPort:  *listenPort + uint(i),
			interval:    *interval,
		}
		group.Go(func() error { return sim.run(groupCtx) })
	}
	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("Error running simulator: %v", err)
	}
}

type simulator struct {
	log         logrus.FieldLogger
	uuid        string
	gatewayAddr string
	listenPort  uint
	interval    time.Duration
	license     string
}

func (s *simulator) run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.serveOutbound(groupCtx) })
	group.Go(func() error { return s.reportLoop(groupCtx) })
	return group.Wait()
}

// reportLoop keeps one session to the gateway alive, redoing the handshake
// and resuming monitoring reports after every disconnect.
func (s *simulator) reportLoop(ctx context.Context) error {
	for {
		if err := s.session(ctx); err != nil {
			s.log.Warnf("Session ended: %v", err)
		}
		if err := poll.Sleep(ctx, 2*time.Second); err != nil {
			return nil
		}
	}
}

func (s *simulator) session(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", s.gatewayAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	line, err := device.ReadLine(reader)
	if err != nil {
		return err
	}
	if line != device.TokenRequestUUID {
		return fmt.Errorf("expected %s, got %q", device.TokenRequestUUID, line)
	}
	if err := device.WriteLine(conn, device.TokenUUIDPrefix+s.uuid); err != nil {
		return err
	}
	s.log.Infof("Registered as %s", s.uuid)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.report(conn, reader); err != nil {
				return err
			}
		}
	}
}

func (s *simulator) report(conn net.Conn, reader *bufio.Reader) error {
	payload := s.monitoringPayload()
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := device.WriteLine(conn, device.TokenMonitoringPrefix+string(body)); err != nil {
		return err
	}
	for {
		line, err := device.ReadLine(reader)
		if err != nil {
			return err
		}
		switch {
		case line == device.TokenDataReceived:
			return nil
		case line == device.TokenLicenseInvalid:
			return fmt.Errorf("gateway reports license invalid")
		default:
			s.log.Debugf("Ignoring line %q", line)
		}
	}
}

func (s *simulator) monitoringPayload() device.MonitoringPayload {
	totalMem := uint64(8 << 30)
	usedMem := uint64(rand.Int63n(int64(totalMem)))
	totalDisk := uint64(64 << 30)
	usedDisk := uint64(rand.Int63n(int64(totalDisk)))
	return device.MonitoringPayload{
		UUID: s.uuid,
		Metrics: device.Metrics{
			CPUMetrics:            device.CPUMetrics{CurrentUsage: rand.Float64() * 100, LoadAverage: rand.Float64() * 4},
			MemoryMetrics:         device.MemoryMetrics{TotalMemory: totalMem, UsedMemory: usedMem, FreeMemory: totalMem - usedMem},
			NetworkMetrics:        device.NetworkMetrics{ReceivedBytes: uint64(rand.Int63n(1 << 20)), TransmittedBytes: uint64(rand.Int63n(1 << 20))},
			DiskMetrics:           device.DiskMetrics{TotalDiskSpace: totalDisk, UsedDiskSpace: usedDisk, FreeDiskSpace: totalDisk - usedDisk},
			SystemUptimeMetrics:   device.SystemUptimeMetrics{UptimeSeconds: float64(time.Now().Unix() % 100000)},
			CPUTemperatureMetrics: device.CPUTemperatureMetrics{TemperatureCelsius: 35 + rand.Float64()*30},
			Timestamp:             time.Now().UTC(),
		},
		SensorData: device.SensorData{
			RedValue:   rand.Intn(256),
			GreenValue: rand.Intn(256),
			BlueValue:  rand.Intn(256),
		},
	}
}

// serveOutbound answers the gateway's per-call connections: license pushes,
// update packages, rollbacks, version queries and log requests.
func (s *simulator) serveOutbound(ctx context.Context) error {
	address := fmt.Sprintf(":%d", s.listenPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	s.log.Infof("Answering outbound calls on %s", address)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleOutbound(conn)
	}
}

func (s *simulator) handleOutbound(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(time.Minute))

	reader := bufio.NewReader(conn)
	line, err := device.ReadLine(reader)
	if err != nil {
		return
	}

	switch {
	case strings.HasPrefix(line, device.TokenLicensePrefix):
		s.license = strings.TrimPrefix(line, device.TokenLicensePrefix)
		s.log.Infof("Received license (%d bytes)", len(s.license))

	case strings.HasPrefix(line, device.TokenSendPackagePrefix):
		name := strings.TrimPrefix(line, device.TokenSendPackagePrefix)
		if err := device.WriteLine(conn, device.TokenReadyForPackage); err != nil {
			return
		}
		data, err := device.ReadFrame(reader)
		if err != nil {
			s.log.Warnf("Receiving package %s: %v", name, err)
			return
		}
		s.log.Infof("Installed package %s (%d bytes)", name, len(data))

	case strings.HasPrefix(line, device.TokenRollbackPrefix):
		params := strings.TrimPrefix(line, device.TokenRollbackPrefix)
		s.log.Infof("Rolling back with params %q", params)
		_ = device.WriteLine(conn, device.TokenRollbackInitiated)
		_ = device.WriteLine(conn, device.TokenRollbackCompleted)

	case line == device.TokenGetVersions:
		report := device.VersionReport{
			Current:   &device.VersionEntry{Version: "1.0.0", InstalledAt: time.Now().Add(-24 * time.Hour).UTC()},
			Available: []device.VersionEntry{{Version: "1.0.0", InstalledAt: time.Now().Add(-24 * time.Hour).UTC()}},
		}
		_ = json.NewEncoder(conn).Encode(report)

	case line == device.TokenRequestLogs:
		logs := map[string][]byte{
			"syslog":    []byte("simulated syslog contents\n"),
			"agent.log": []byte("simulated agent log contents\n"),
		}
		if err := writeCount(conn, uint32(len(logs))); err != nil {
			return
		}
		for name, data := range logs {
			if err := device.WriteFrame(conn, []byte(name)); err != nil {
				return
			}
			if err := device.WriteFrame(conn, data); err != nil {
				return
			}
		}

	default:
		s.log.Warnf("Unrecognized outbound call %q", line)
	}
}

func writeCount(conn net.Conn, count uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], count)
	_, err := conn.Write(buf[:])
	return err
}
