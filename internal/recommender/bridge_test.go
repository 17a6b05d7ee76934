package recommender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	api "github.com/upflux/upflux-gateway/api/cloud/v1"
	"github.com/upflux/upflux-gateway/internal/usage"
	"github.com/upflux/upflux-gateway/pkg/log"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu   sync.Mutex
	recs []api.AIRecommendations
}

func (f *fakeSink) SendRecommendations(rec api.AIRecommendations) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeSink) sent() []api.AIRecommendations {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.AIRecommendations(nil), f.recs...)
}

type recommenderStub struct {
	mu              sync.Mutex
	clusteringCalls int
	schedulingCalls int
	lastVectors     clusteringRequest
	lastScheduling  schedulingRequest
	failClustering  bool
	failScheduling  bool
	updateTime      time.Time
}

func (s *recommenderStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(clusteringPath, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.clusteringCalls++
		if s.failClustering {
			http.Error(w, "model retraining", http.StatusServiceUnavailable)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&s.lastVectors); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		uuids := make([]string, 0, len(s.lastVectors.Vectors))
		points := make([]plotPoint, 0, len(s.lastVectors.Vectors))
		for i, v := range s.lastVectors.Vectors {
			uuids = append(uuids, v.DeviceUUID)
			points = append(points, plotPoint{
				DeviceUUID: v.DeviceUUID,
				X:          float64(i),
				Y:          v.AvgCPU,
				ClusterID:  "cluster-0",
			})
		}
		_ = json.NewEncoder(w).Encode(clusteringResponse{
			Clusters: []cluster{{ID: "cluster-0", DeviceUUIDs: uuids}},
			PlotData: points,
		})
	})
	mux.HandleFunc(schedulingPath, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.schedulingCalls++
		if s.failScheduling {
			http.Error(w, "no capacity", http.StatusServiceUnavailable)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&s.lastScheduling); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		scheduledClusters := make([]scheduledCluster, 0, len(s.lastScheduling.Clusters))
		for _, c := range s.lastScheduling.Clusters {
			scheduledClusters = append(scheduledClusters, scheduledCluster{
				ID:            c.ID,
				DeviceUUIDs:   c.DeviceUUIDs,
				UpdateTimeUTC: &s.updateTime,
			})
		}
		_ = json.NewEncoder(w).Encode(schedulingResponse{Clusters: scheduledClusters})
	})
	return mux
}

func newBridgeHarness(t *testing.T) (*Bridge, *usage.Aggregator, *recommenderStub, *fakeSink) {
	t.Helper()

	stub := &recommenderStub{updateTime: time.Date(2026, 9, 1, 3, 0, 0, 0, time.UTC)}
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	aggregator := usage.NewAggregator()
	sink := &fakeSink{}
	bridge := NewBridge(NewClient(server.URL), aggregator, sink, log.InitLogs())
	return bridge, aggregator, stub, sink
}

func TestTickEmitsRecommendations(t *testing.T) {
	require := require.New(t)
	bridge, aggregator, stub, sink := newBridgeHarness(t)

	aggregator.Record("a", 40, 50, 600, 400)
	aggregator.Record("b", 80, 70, 100, 100)

	bridge.Tick(context.Background())

	recs := sink.sent()
	require.Len(recs, 1)
	require.Len(recs[0].Clusters, 1)
	require.Equal("cluster-0", recs[0].Clusters[0].ClusterID)
	require.ElementsMatch([]string{"a", "b"}, recs[0].Clusters[0].DeviceUUIDs)
	require.NotNil(recs[0].Clusters[0].UpdateTimeUTC)
	require.Equal(stub.updateTime, recs[0].Clusters[0].UpdateTimeUTC.UTC())
	require.Len(recs[0].PlotData, 2)

	// the scheduling call received one idle window per vector
	require.Len(stub.lastScheduling.IdleWindows, 2)
}

func TestTickSkipsWithoutSamples(t *testing.T) {
	require := require.New(t)
	bridge, _, stub, sink := newBridgeHarness(t)

	bridge.Tick(context.Background())

	require.Zero(stub.clusteringCalls)
	require.Empty(sink.sent())
}

func TestTickSkipsOnClusteringFailure(t *testing.T) {
	require := require.New(t)
	bridge, aggregator, stub, sink := newBridgeHarness(t)
	stub.failClustering = true

	aggregator.Record("a", 40, 50, 600, 400)
	bridge.Tick(context.Background())

	require.Zero(stub.schedulingCalls)
	require.Empty(sink.sent())

	// recovery on the next tick
	stub.failClustering = false
	bridge.Tick(context.Background())
	require.Len(sink.sent(), 1)
}

func TestTickSkipsOnSchedulingFailure(t *testing.T) {
	require := require.New(t)
	bridge, aggregator, stub, sink := newBridgeHarness(t)
	stub.failScheduling = true

	aggregator.Record("a", 40, 50, 600, 400)
	bridge.Tick(context.Background())

	require.Equal(1, stub.clusteringCalls)
	require.Empty(sink.sent())
}
