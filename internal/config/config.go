package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the settings of the ingestion engine.
type EngineConfig struct {
	SizeOfRecordChannel int     `yaml:"size_of_record_channel"`
	SizeAccuracy        float64 `yaml:"size_accuracy"`
	RebuildInterval     string  `yaml:"rebuild_interval"`
}

// RefreshConfig holds the display refresh cadence.
type RefreshConfig struct {
	Interval string `yaml:"interval"`
}

// FieldFlags enables the fields a filter term list is matched against.
type FieldFlags struct {
	Name    bool `yaml:"name"`
	ID      bool `yaml:"id"`
	Address bool `yaml:"address"`
	Port    bool `yaml:"port"`
}

// FilterConfig is the initial display query.
type FilterConfig struct {
	Include       string     `yaml:"include"`
	Exclude       string     `yaml:"exclude"`
	IncludeFields FieldFlags `yaml:"include_fields"`
	ExcludeFields FieldFlags `yaml:"exclude_fields"`
	ResolveHosts  bool       `yaml:"resolve_hosts"`
	ResolvePorts  bool       `yaml:"resolve_ports"`
	PreSortBy     string     `yaml:"pre_sort_by"`
	SortBy        string     `yaml:"sort_by"`
}

// ProbeConfig holds the NATS settings used to move flow records.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// InventoryConfig selects where the owner list comes from.
// Type is "file" or "nats".
type InventoryConfig struct {
	Type    string `yaml:"type"`
	Path    string `yaml:"path"`
	Subject string `yaml:"subject"`
	Timeout string `yaml:"timeout"`
}

// ResolverConfig holds static name tables for addresses and ports.
type ResolverConfig struct {
	Hosts    map[string]string `yaml:"hosts"`
	Services map[int]string    `yaml:"services"`
}

// APIConfig holds the listen addresses of the HTTP API and the gRPC health service.
type APIConfig struct {
	ListenAddr       string `yaml:"listen_addr"`
	HealthListenAddr string `yaml:"health_listen_addr"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// ClickHouseConfig holds the connection settings for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ParquetConfig holds the output settings of the sample series exporter.
type ParquetConfig struct {
	RootPath    string `yaml:"root_path"`
	Compression string `yaml:"compression"`
}

// GobConfig holds the output settings of the snapshot file exporter.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// WriterDef defines a single export writer.
type WriterDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	Interval   string           `yaml:"interval"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Parquet    ParquetConfig    `yaml:"parquet"`
	Gob        GobConfig        `yaml:"gob"`
}

// ExportConfig lists the export writers.
type ExportConfig struct {
	Writers []WriterDef `yaml:"writers"`
}

// AlerterRule defines a threshold on an owner total.
// Owner matches by owner name or id; an empty Owner matches every owner.
type AlerterRule struct {
	Name      string  `yaml:"name"`
	Owner     string  `yaml:"owner"`
	Metric    string  `yaml:"metric"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

// AlerterConfig holds the alerter settings.
type AlerterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval string        `yaml:"check_interval"`
	Notifier      string        `yaml:"notifier"`
	Rules         []AlerterRule `yaml:"rules"`
}

// SMTPConfig holds the settings for the email notifier.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Filter    FilterConfig    `yaml:"filter"`
	Probe     ProbeConfig     `yaml:"probe"`
	Inventory InventoryConfig `yaml:"inventory"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Export    ExportConfig    `yaml:"export"`
	Alerter   AlerterConfig   `yaml:"alerter"`
	SMTP      SMTPConfig      `yaml:"smtp"`
}

// Default returns a configuration usable without a config file.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			SizeOfRecordChannel: 4096,
			SizeAccuracy:        0.01,
			RebuildInterval:     "30s",
		},
		Refresh: RefreshConfig{Interval: "1s"},
		Filter: FilterConfig{
			IncludeFields: FieldFlags{Name: true, ID: true, Address: true, Port: true},
			ExcludeFields: FieldFlags{Name: true, ID: true, Address: true, Port: true},
			PreSortBy:     "name",
			SortBy:        "bytes",
		},
		Probe: ProbeConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "flowlog.records",
		},
		Inventory: InventoryConfig{
			Type:    "file",
			Path:    "configs/owners.yaml",
			Subject: "flowlog.inventory",
			Timeout: "2s",
		},
		API: APIConfig{
			ListenAddr:       ":8080",
			HealthListenAddr: ":50051",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9100",
			Path:       "/metrics",
		},
		Alerter: AlerterConfig{
			CheckInterval: "1m",
			Notifier:      "log",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of Default and validates it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filePath, err)
	}
	return cfg, nil
}

// Validate checks that every duration parses and that required fields are set.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.SizeOfRecordChannel < 0 {
		errs = append(errs, errors.New("engine.size_of_record_channel must not be negative"))
	}
	if _, err := c.RefreshInterval(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.RebuildInterval != "" {
		if _, err := c.RebuildInterval(); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Inventory.Type {
	case "file":
		if c.Inventory.Path == "" {
			errs = append(errs, errors.New("inventory.path is required for the file inventory"))
		}
	case "nats":
		if c.Inventory.Subject == "" {
			errs = append(errs, errors.New("inventory.subject is required for the nats inventory"))
		}
		if _, err := c.InventoryTimeout(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown inventory type: '%s'", c.Inventory.Type))
	}

	for i, w := range c.Export.Writers {
		if !w.Enabled {
			continue
		}
		if w.Type == "" {
			errs = append(errs, fmt.Errorf("export.writers[%d].type is required", i))
		}
		if _, err := w.GetInterval(); err != nil {
			errs = append(errs, fmt.Errorf("export.writers[%d]: %w", i, err))
		}
	}

	if c.Alerter.Enabled {
		if _, err := c.AlerterCheckInterval(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// RefreshInterval parses refresh.interval.
func (c *Config) RefreshInterval() (time.Duration, error) {
	return positiveDuration("refresh.interval", c.Refresh.Interval)
}

// RebuildInterval parses engine.rebuild_interval. Zero means rebuilds only happen on request.
func (c *Config) RebuildInterval() (time.Duration, error) {
	if c.Engine.RebuildInterval == "" {
		return 0, nil
	}
	return positiveDuration("engine.rebuild_interval", c.Engine.RebuildInterval)
}

// InventoryTimeout parses inventory.timeout.
func (c *Config) InventoryTimeout() (time.Duration, error) {
	return positiveDuration("inventory.timeout", c.Inventory.Timeout)
}

// AlerterCheckInterval parses alerter.check_interval.
func (c *Config) AlerterCheckInterval() (time.Duration, error) {
	return positiveDuration("alerter.check_interval", c.Alerter.CheckInterval)
}

// GetInterval parses the export interval of the writer.
func (w WriterDef) GetInterval() (time.Duration, error) {
	return positiveDuration("interval", w.Interval)
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration", name)
	}
	return d, nil
}
