// Package prober tracks device liveness with periodic ICMP probes.
package prober

import (
	"context"
	"sync"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/instrumentation"
	"github.com/upflux/upflux-gateway/internal/store"
	probing "github.com/prometheus-community/pro-bing"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// Interval is how often every known device gets probed.
	Interval    = 2 * time.Second
	pingTimeout = time.Second
)

// Pinger answers whether a host currently replies to an echo probe.
type Pinger interface {
	Ping(ctx context.Context, ip string) (bool, error)
}

// StatusSink receives liveness transitions for the cloud.
type StatusSink interface {
	SendDeviceStatus(status api.DeviceStatus) error
}

type icmpPinger struct{}

// NewICMPPinger probes with a single privileged ICMP echo per call.
func NewICMPPinger() Pinger {
	return &icmpPinger{}
}

func (p *icmpPinger) Ping(ctx context.Context, ip string) (bool, error) {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return false, err
	}
	pinger.Count = 1
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(true)
	if err := pinger.RunWithContext(ctx); err != nil {
		return false, err
	}
	return pinger.Statistics().PacketsRecv > 0, nil
}

// Prober pings every device with a known address and reports only the
// transitions: the first observation of a device always emits, after that a
// DeviceStatus goes out iff the observed state differs from the last known
// one.
type Prober struct {
	log    logrus.FieldLogger
	store  store.Store
	pinger Pinger
	sink   StatusSink

	mu        sync.Mutex
	lastKnown map[string]bool

	nowFn func() time.Time
}

func New(st store.Store, pinger Pinger, sink StatusSink, log logrus.FieldLogger) *Prober {
	return &Prober{
		log:       log.WithField("component", "prober"),
		store:     st,
		pinger:    pinger,
		sink:      sink,
		lastKnown: make(map[string]bool),
		nowFn:     time.Now,
	}
}

// Sweep probes all known devices in parallel. Called on every tick.
func (p *Prober) Sweep(ctx context.Context) {
	devices, err := p.store.Device().List(ctx)
	if err != nil {
		p.log.Errorf("Listing devices for probing: %v", err)
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, device := range devices {
		if device.IP == "" {
			continue
		}
		device := device
		group.Go(func() error {
			online, err := p.pinger.Ping(groupCtx, device.IP)
			if err != nil {
				p.log.Debugf("Probing device %s at %s: %v", device.UUID, device.IP, err)
			}
			p.observe(groupCtx, device.UUID, online)
			return nil
		})
	}
	_ = group.Wait()
}

func (p *Prober) observe(ctx context.Context, uuid string, online bool) {
	p.mu.Lock()
	previous, seen := p.lastKnown[uuid]
	if seen && previous == online {
		p.mu.Unlock()
		return
	}
	p.lastKnown[uuid] = online
	p.mu.Unlock()

	now := p.nowFn()
	if err := p.store.Device().UpdateLastSeen(ctx, uuid, now); err != nil {
		p.log.Warnf("Updating last_seen for device %s: %v", uuid, err)
	}

	instrumentation.LivenessTransitions.Inc()
	p.log.Infof("Device %s is now %s", uuid, onlineLabel(online))
	if err := p.sink.SendDeviceStatus(api.DeviceStatus{
		DeviceUUID: uuid,
		IsOnline:   online,
		LastSeen:   now,
	}); err != nil {
		p.log.Errorf("Sending status for device %s: %v", uuid, err)
	}
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
