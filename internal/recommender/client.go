// Package recommender bridges the usage aggregator to the external AI
// clustering and scheduling service.
package recommender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/upflux/upflux-gateway/internal/gwerrors"
	"github.com/upflux/upflux-gateway/internal/usage"
)

const (
	clusteringPath = "/ai/clustering"
	schedulingPath = "/ai/scheduling"

	requestTimeout = 30 * time.Second
)

type usageVector struct {
	DeviceUUID   string  `json:"device_uuid"`
	BusyFraction float64 `json:"busy_fraction"`
	AvgCPU       float64 `json:"avg_cpu"`
	AvgMem       float64 `json:"avg_mem"`
	AvgNet       float64 `json:"avg_net"`
}

type clusteringRequest struct {
	Vectors []usageVector `json:"vectors"`
}

type cluster struct {
	ID          string   `json:"id"`
	DeviceUUIDs []string `json:"uuids"`
}

type plotPoint struct {
	DeviceUUID string  `json:"uuid"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	ClusterID  string  `json:"cluster_id"`
}

type clusteringResponse struct {
	Clusters []cluster   `json:"clusters"`
	PlotData []plotPoint `json:"plot_data"`
}

type idleWindow struct {
	DeviceUUID       string     `json:"device_uuid"`
	NextIdleTime     *time.Time `json:"next_idle_time,omitempty"`
	IdleDurationSecs float64    `json:"idle_duration_secs"`
}

type schedulingRequest struct {
	Clusters    []cluster    `json:"clusters"`
	IdleWindows []idleWindow `json:"idle_windows"`
}

type scheduledCluster struct {
	ID            string     `json:"id"`
	DeviceUUIDs   []string   `json:"uuids"`
	UpdateTimeUTC *time.Time `json:"update_time_utc,omitempty"`
}

type schedulingResponse struct {
	Clusters []scheduledCluster `json:"clusters"`
}

// Client speaks to the recommender service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", gwerrors.ErrExternal, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %s", gwerrors.ErrExternal, path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %w", gwerrors.ErrDecode, path, err)
	}
	return nil
}

func (c *Client) clustering(ctx context.Context, vectors []usage.Vector) (*clusteringResponse, error) {
	req := clusteringRequest{Vectors: make([]usageVector, 0, len(vectors))}
	for _, v := range vectors {
		req.Vectors = append(req.Vectors, usageVector{
			DeviceUUID:   v.DeviceUUID,
			BusyFraction: v.BusyFraction,
			AvgCPU:       v.AvgCPU,
			AvgMem:       v.AvgMem,
			AvgNet:       v.AvgNet,
		})
	}
	var resp clusteringResponse
	if err := c.post(ctx, clusteringPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) scheduling(ctx context.Context, clusters []cluster, windows []idleWindow) (*schedulingResponse, error) {
	var resp schedulingResponse
	if err := c.post(ctx, schedulingPath, schedulingRequest{Clusters: clusters, IdleWindows: windows}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
