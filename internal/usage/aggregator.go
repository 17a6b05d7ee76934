// Package usage maintains the per-device sliding window of usage samples that
// feeds the clustering and scheduling recommender.
package usage

import (
	"sync"
	"time"
)

const (
	// Window is the sliding history kept per device.
	Window = 6 * time.Minute
	// IdleGap is the minimum silence between samples that counts as idle.
	IdleGap = 20 * time.Second
	// busyDenominator derives from the 3-second busy cadence over the window:
	// a device reporting every 3s for the full 6 minutes yields 120 samples.
	busyDenominator = 120
)

type Sample struct {
	Timestamp    time.Time
	CPUPercent   float64
	MemPercent   float64
	NetSentBytes uint64
	NetRecvBytes uint64
}

// Vector is one device's usage profile over the current window.
type Vector struct {
	DeviceUUID   string
	BusyFraction float64
	AvgCPU       float64
	AvgMem       float64
	AvgNet       float64
}

// IdlePrediction reports the next gap of at least IdleGap inside the window.
type IdlePrediction struct {
	NextIdleTime     *time.Time
	IdleDurationSecs float64
}

type deviceWindow struct {
	mu      sync.Mutex
	samples []Sample
}

type Aggregator struct {
	mu      sync.Mutex
	devices map[string]*deviceWindow

	nowFn func() time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		devices: make(map[string]*deviceWindow),
		nowFn:   time.Now,
	}
}

func (a *Aggregator) window(uuid string) *deviceWindow {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.devices[uuid]
	if !ok {
		w = &deviceWindow{}
		a.devices[uuid] = w
	}
	return w
}

// Record appends a sample for the device at the current instant and drops any
// prefix that has slid out of the window.
func (a *Aggregator) Record(uuid string, cpuPercent, memPercent float64, netSent, netRecv uint64) {
	now := a.nowFn()
	w := a.window(uuid)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, Sample{
		Timestamp:    now,
		CPUPercent:   cpuPercent,
		MemPercent:   memPercent,
		NetSentBytes: netSent,
		NetRecvBytes: netRecv,
	})
	w.samples = trim(w.samples, now)
}

func trim(samples []Sample, now time.Time) []Sample {
	cutoff := now.Add(-Window)
	i := 0
	for i < len(samples) && samples[i].Timestamp.Before(cutoff) {
		i++
	}
	return samples[i:]
}

// snapshot copies the live samples for one device under its lock and releases
// before any computation, so contention stays bounded.
func (a *Aggregator) snapshot(uuid string) []Sample {
	a.mu.Lock()
	w, ok := a.devices[uuid]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	now := a.nowFn()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = trim(w.samples, now)
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

func (a *Aggregator) deviceUUIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	uuids := make([]string, 0, len(a.devices))
	for uuid := range a.devices {
		uuids = append(uuids, uuid)
	}
	return uuids
}

// ComputeVectors produces one usage vector per device that has at least one
// sample inside the window. Devices with no samples are treated as inactive
// and omitted.
func (a *Aggregator) ComputeVectors() []Vector {
	var vectors []Vector
	for _, uuid := range a.deviceUUIDs() {
		samples := a.snapshot(uuid)
		if len(samples) == 0 {
			continue
		}

		var cpu, mem, net float64
		for _, s := range samples {
			cpu += s.CPUPercent
			mem += s.MemPercent
			net += float64(s.NetSentBytes + s.NetRecvBytes)
		}
		n := float64(len(samples))
		vectors = append(vectors, Vector{
			DeviceUUID:   uuid,
			BusyFraction: n / busyDenominator,
			AvgCPU:       cpu / n,
			AvgMem:       mem / n,
			AvgNet:       net / n,
		})
	}
	return vectors
}

// PredictNextIdle scans the device's window for the next gap of at least
// IdleGap between consecutive samples. The zero prediction means no idle gap
// was found.
func (a *Aggregator) PredictNextIdle(uuid string) IdlePrediction {
	samples := a.snapshot(uuid)
	for i := 0; i+1 < len(samples); i++ {
		gap := samples[i+1].Timestamp.Sub(samples[i].Timestamp)
		if gap >= IdleGap {
			start := samples[i].Timestamp
			return IdlePrediction{
				NextIdleTime:     &start,
				IdleDurationSecs: gap.Seconds(),
			}
		}
	}
	return IdlePrediction{}
}
