package config

import (
	"fmt"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

const appName = "upflux-gateway"

type Config struct {
	Database    *dbConfig          `json:"database,omitempty"`
	Gateway     *gatewayConfig     `json:"gateway,omitempty"`
	Device      *deviceConfig      `json:"device,omitempty"`
	Update      *updateConfig      `json:"update,omitempty"`
	Recommender *recommenderConfig `json:"recommender,omitempty"`
}

type dbConfig struct {
	Type     string `json:"type,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Port     uint   `json:"port,omitempty"`
	Name     string `json:"name,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

type gatewayConfig struct {
	// Stamped as sender_id on every outbound ControlMessage.
	GatewayID string `json:"gatewayId,omitempty"`
	// Control channel endpoint, e.g. wss://cloud.example.com/api/v1/control.
	CloudAddress   string `json:"cloudAddress,omitempty"`
	MetricsAddress string `json:"metricsAddress,omitempty"`
	LogLevel       string `json:"logLevel,omitempty"`
	// Where pulled device logs are persisted.
	LogsDirectory string `json:"logsDirectory,omitempty"`
	// Periodic renewal sweep; 0 disables it.
	LicenseCheckIntervalMin int `json:"licenseCheckIntervalMin,omitempty"`
	// Legacy aggregation cadence, kept for config compatibility. The live
	// forwarding path does not consult it.
	DataAggregationIntervalS int `json:"dataAggregationIntervalS,omitempty"`
	// Optional CA bundle for the cloud dial.
	CloudCaCertFile string `json:"cloudCaCertFile,omitempty"`
}

type deviceConfig struct {
	ListenPort       uint   `json:"listenPort,omitempty"`
	ConnectPort      uint   `json:"connectPort,omitempty"`
	NetworkInterface string `json:"networkInterface,omitempty"`
	// Seconds a session may stay silent before the gateway closes it.
	SessionIdleTimeoutS int `json:"sessionIdleTimeoutS,omitempty"`
	// Seconds allowed for each protocol step on outbound device calls.
	ReadTimeoutS int `json:"readTimeoutS,omitempty"`
	// When cert and key are both set, device transports are wrapped in TLS.
	TLSCertFile string `json:"tlsCertFile,omitempty"`
	TLSKeyFile  string `json:"tlsKeyFile,omitempty"`
	TLSCaFile   string `json:"tlsCaFile,omitempty"`
}

type updateConfig struct {
	MaxRetries       int    `json:"maxRetries,omitempty"`
	PackageDirectory string `json:"packageDirectory,omitempty"`
	// PEM file holding the trusted ed25519 public key for package signatures.
	PublicKeyFile string `json:"publicKeyFile,omitempty"`
	// Byte budget for scheduled packages held in memory.
	MaxPendingPackageBytes int64 `json:"maxPendingPackageBytes,omitempty"`
}

type recommenderConfig struct {
	// HTTP base URL for /ai/clustering and /ai/scheduling.
	Address string `json:"address,omitempty"`
}

func ConfigDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = "/etc"
	}
	return filepath.Join(dir, "."+appName)
}

func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func NewDefault() *Config {
	c := &Config{
		Database: &dbConfig{
			Type:     "pgsql",
			Hostname: "localhost",
			Port:     5432,
			Name:     "upflux",
			User:     "admin",
			Password: "adminpass",
		},
		Gateway: &gatewayConfig{
			MetricsAddress:           "localhost:9091",
			LogLevel:                 "info",
			LogsDirectory:            filepath.Join(ConfigDir(), "logs"),
			LicenseCheckIntervalMin:  60,
			DataAggregationIntervalS: 300,
		},
		Device: &deviceConfig{
			ListenPort:          5000,
			ConnectPort:         6000,
			SessionIdleTimeoutS: 300,
			ReadTimeoutS:        30,
		},
		Update: &updateConfig{
			MaxRetries:             3,
			PackageDirectory:       filepath.Join(ConfigDir(), "packages"),
			MaxPendingPackageBytes: 256 << 20,
		},
		Recommender: &recommenderConfig{},
	}
	return c
}

func NewFromFile(cfgFile string) (*Config, error) {
	cfg, err := Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadOrGenerate(cfgFile string) (*Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(cfgFile), os.FileMode(0755)); err != nil {
			return nil, fmt.Errorf("creating directory for config file: %v", err)
		}
		if err := Save(NewDefault(), cfgFile); err != nil {
			return nil, err
		}
	}
	return NewFromFile(cfgFile)
}

func Load(cfgFile string) (*Config, error) {
	contents, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %v", err)
	}
	c := NewDefault()
	if err := yaml.Unmarshal(contents, c); err != nil {
		return nil, fmt.Errorf("decoding config: %v", err)
	}
	return c, nil
}

func Save(cfg *Config, cfgFile string) error {
	contents, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %v", err)
	}
	if err := os.WriteFile(cfgFile, contents, 0600); err != nil {
		return fmt.Errorf("writing config file: %v", err)
	}
	return nil
}

func Validate(cfg *Config) error {
	if cfg.Gateway == nil || cfg.Gateway.GatewayID == "" {
		return fmt.Errorf("gateway.gatewayId must be set")
	}
	if cfg.Gateway.CloudAddress == "" {
		return fmt.Errorf("gateway.cloudAddress must be set")
	}
	if cfg.Device == nil || cfg.Device.ListenPort == 0 || cfg.Device.ConnectPort == 0 {
		return fmt.Errorf("device.listenPort and device.connectPort must be set")
	}
	if cfg.Update != nil && cfg.Update.MaxRetries < 0 {
		return fmt.Errorf("update.maxRetries must not be negative")
	}
	if (cfg.Device.TLSCertFile == "") != (cfg.Device.TLSKeyFile == "") {
		return fmt.Errorf("device.tlsCertFile and device.tlsKeyFile must be set together")
	}
	return nil
}

func (cfg *Config) String() string {
	contents, err := yaml.Marshal(cfg)
	if err != nil {
		return "<error>"
	}
	return string(contents)
}
