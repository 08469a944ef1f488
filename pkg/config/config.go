// Package config loads tradecore's single configuration tree from
// YAML, grounded on the teacher's pkg/config/config.go pattern of a
// root Config struct with one section per component plus a
// LoadConfig/DefaultConfig pair. Every key named in spec §6 has a
// field here; sections for components out of scope (HTTP, gRPC,
// WebSocket transport) are not carried, since those surfaces belong
// to external collaborators, not this module.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree for a tradecore process.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	WorkerPools WorkerPoolsConfig `yaml:"worker_pools"`
	Events      EventsConfig      `yaml:"events"`
	Feed        FeedConfig        `yaml:"feed"`
	LOB         LOBConfig         `yaml:"lob"`
	OMS         OMSConfig         `yaml:"oms"`
	Router      RouterConfig      `yaml:"router"`
	Risk        RiskConfig        `yaml:"risk"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	DataRoot    string            `yaml:"data_root"`
}

// EventsConfig selects the OMS event stream transport: the in-process
// gochannel bus by default, NATS when events must leave the process.
type EventsConfig struct {
	Transport string `yaml:"transport"` // "gochannel" | "nats"
	NATSURL   string `yaml:"nats_url"`
	Buffer    int64  `yaml:"buffer"` // per-subscriber channel depth; overflow drops
}

// FeedConfig sizes the ingress queue and its optional pacing, and
// names the symbols each feed adapter is subscribed to at startup.
type FeedConfig struct {
	Symbols      []string `yaml:"symbols"`
	QueueSize    int      `yaml:"queue_size"`
	MaxPerSecond int      `yaml:"max_per_second"` // 0 disables pacing
	Burst        int      `yaml:"burst"`
}

// LoggingConfig controls the zap logger shared by every component.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" | "console"
	Production bool   `yaml:"production"`
}

// MetricsConfig controls the prometheus metrics listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// WorkerPoolsConfig sizes the three ants.Pool task classes of spec §5.
type WorkerPoolsConfig struct {
	IOSize    int `yaml:"io_size"`
	CPUSize   int `yaml:"cpu_size"`
	TimerSize int `yaml:"timer_size"`
}

// LOBConfig covers the `lob.*` keys in spec §6.
type LOBConfig struct {
	ROIWidthTicks int64  `yaml:"roi_width_ticks"`
	CrossPolicy   string `yaml:"cross_policy"` // reject | auto_resolve | trust_newest
}

// OMSConfig covers the `oms.*` keys in spec §6. ProjectionDSN, when
// set, enables the gorm-backed query-side projection; the WAL remains
// the sole source of truth either way.
type OMSConfig struct {
	LogSegmentBytes int64         `yaml:"log_segment_bytes"`
	RetentionDays   int           `yaml:"retention_days"`
	PersistBatch    int           `yaml:"persist_batch"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	AutoRepair      bool          `yaml:"auto_repair"`
	ProjectionDSN   string        `yaml:"projection_dsn"`
}

// RouterConfig covers the `router.*` keys in spec §6 plus the
// per-account submission rate limit (ambient defense-in-depth, §4.G).
type RouterConfig struct {
	VenueStrategy    string                 `yaml:"venue_strategy"` // primary | smart | split | liquidity | cost_optimal
	PrimaryVenue     string                 `yaml:"primary_venue"`
	SmartLargeVenue  string                 `yaml:"smart_large_venue"`
	SmartSmallVenue  string                 `yaml:"smart_small_venue"`
	SubmitRatePerSec int                    `yaml:"submit_rate_per_sec"`
	SubmitRateBurst  int                    `yaml:"submit_rate_burst"`
	SmartNotionalBP  int64                  `yaml:"smart_notional_threshold"` // notional (fixed-point) above which smart routing prefers the deep venue
	FeeSchedules     map[string]FeeSchedule `yaml:"fee_schedules"`
}

// FeeSchedule is a per-venue maker/taker fee in basis points.
type FeeSchedule struct {
	MakerBP int64 `yaml:"maker_bp"`
	TakerBP int64 `yaml:"taker_bp"`
}

// RiskConfig covers the `risk.*` keys in spec §6.
type RiskConfig struct {
	Required       bool          `yaml:"required"`
	CheckTimeout   time.Duration `yaml:"check_timeout"`
}

// ReconcilerConfig covers the `reconciler.*` keys in spec §6.
type ReconcilerConfig struct {
	IntervalSecs int  `yaml:"interval_secs"`
	AutoRepair   bool `yaml:"auto_repair"`
}

// Default returns the configuration tradecore runs with absent an
// operator-supplied file.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Production: true},
		Metrics: MetricsConfig{Enabled: true, Address: "0.0.0.0:9090", Path: "/metrics"},
		WorkerPools: WorkerPoolsConfig{
			IOSize:    256,
			CPUSize:   64,
			TimerSize: 16,
		},
		Events: EventsConfig{Transport: "gochannel", Buffer: 1024},
		Feed:   FeedConfig{QueueSize: 4096},
		LOB: LOBConfig{
			ROIWidthTicks: 500,
			CrossPolicy:   "auto_resolve",
		},
		OMS: OMSConfig{
			LogSegmentBytes: 50 << 20,
			RetentionDays:   30,
			PersistBatch:    100,
			FlushInterval:   50 * time.Millisecond,
		},
		Router: RouterConfig{
			VenueStrategy:    "smart",
			PrimaryVenue:     "primary",
			SmartLargeVenue:  "primary",
			SmartSmallVenue:  "primary",
			SubmitRatePerSec: 50,
			SubmitRateBurst:  100,
			SmartNotionalBP:  1_000_000 * 10_000, // 1,000,000 units at Scale=10_000
			FeeSchedules: map[string]FeeSchedule{
				"primary": {MakerBP: -1, TakerBP: 5},
			},
		},
		Risk: RiskConfig{
			Required:     true,
			CheckTimeout: 50 * time.Millisecond,
		},
		Reconciler: ReconcilerConfig{
			IntervalSecs: 30,
			AutoRepair:   false,
		},
		DataRoot: "./data",
	}
}

// Load reads path as YAML over Default(), so an operator's file only
// needs to override the keys it cares about.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
