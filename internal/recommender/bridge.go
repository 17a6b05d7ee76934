package recommender

import (
	"context"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/usage"
	"github.com/sirupsen/logrus"
)

// Interval is how often the bridge runs one clustering plus scheduling pass.
const Interval = time.Minute

// RecommendationSink receives the assembled recommendations for the cloud.
type RecommendationSink interface {
	SendRecommendations(rec api.AIRecommendations) error
}

// Bridge runs the periodic recommender round trip: usage vectors in,
// clustered update schedule out. Any failure skips the tick; the next tick
// starts from fresh vectors.
type Bridge struct {
	log    logrus.FieldLogger
	client *Client
	usage  *usage.Aggregator
	sink   RecommendationSink
}

func NewBridge(client *Client, aggregator *usage.Aggregator, sink RecommendationSink, log logrus.FieldLogger) *Bridge {
	return &Bridge{
		log:    log.WithField("component", "recommender-bridge"),
		client: client,
		usage:  aggregator,
		sink:   sink,
	}
}

// Tick runs one full pass. Called every Interval.
func (b *Bridge) Tick(ctx context.Context) {
	vectors := b.usage.ComputeVectors()
	if len(vectors) == 0 {
		b.log.Debug("No active devices in the window, skipping tick")
		return
	}

	clustered, err := b.client.clustering(ctx, vectors)
	if err != nil {
		b.log.Warnf("Clustering call failed, skipping tick: %v", err)
		return
	}

	windows := make([]idleWindow, 0, len(vectors))
	for _, v := range vectors {
		prediction := b.usage.PredictNextIdle(v.DeviceUUID)
		windows = append(windows, idleWindow{
			DeviceUUID:       v.DeviceUUID,
			NextIdleTime:     prediction.NextIdleTime,
			IdleDurationSecs: prediction.IdleDurationSecs,
		})
	}

	scheduled, err := b.client.scheduling(ctx, clustered.Clusters, windows)
	if err != nil {
		b.log.Warnf("Scheduling call failed, skipping tick: %v", err)
		return
	}

	rec := api.AIRecommendations{
		Clusters: make([]api.RecommendationCluster, 0, len(scheduled.Clusters)),
		PlotData: make([]api.PlotPoint, 0, len(clustered.PlotData)),
	}
	for _, c := range scheduled.Clusters {
		rec.Clusters = append(rec.Clusters, api.RecommendationCluster{
			ClusterID:     c.ID,
			DeviceUUIDs:   c.DeviceUUIDs,
			UpdateTimeUTC: c.UpdateTimeUTC,
		})
	}
	for _, p := range clustered.PlotData {
		rec.PlotData = append(rec.PlotData, api.PlotPoint{
			DeviceUUID: p.DeviceUUID,
			X:          p.X,
			Y:          p.Y,
			ClusterID:  p.ClusterID,
		})
	}

	if err := b.sink.SendRecommendations(rec); err != nil {
		b.log.Errorf("Sending recommendations: %v", err)
	}
}
