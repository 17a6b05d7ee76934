package device

import (
	"testing"

	"github.com/upflux/upflux-gateway/internal/config"
	"github.com/upflux/upflux-gateway/internal/store"
	"github.com/upflux/upflux-gateway/internal/store/storetest"
)

func newTestStore(t *testing.T) store.Store {
	return storetest.NewStore(t)
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.NewDefault()
	cfg.Gateway.GatewayID = "gw-test"
	cfg.Gateway.CloudAddress = "ws://localhost:0"
	cfg.Gateway.LogsDirectory = t.TempDir()
	cfg.Device.ReadTimeoutS = 5
	cfg.Device.SessionIdleTimeoutS = 5
	return cfg
}
