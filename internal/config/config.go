package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProbeConfig holds the NATS transport settings shared by the probe and the
// engine's stream ingester.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds connection settings for a ClickHouse instance.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TextWriterConfig holds settings for the plain-text snapshot writer.
type TextWriterConfig struct {
	RootPath string `yaml:"root_path"`
}

// GobWriterConfig holds settings for the gob snapshot writer.
type GobWriterConfig struct {
	RootPath string `yaml:"root_path"`
}

// WriterDef defines a single writer attached to an aggregator group.
type WriterDef struct {
	Type             string           `yaml:"type"` // "text", "gob" or "clickhouse"
	Enabled          bool             `yaml:"enabled"`
	SnapshotInterval string           `yaml:"snapshot_interval"`
	Text             TextWriterConfig `yaml:"text"`
	Gob              GobWriterConfig  `yaml:"gob"`
	ClickHouse       ClickHouseConfig `yaml:"clickhouse"`
}

// ExactTaskDef defines a single exact aggregation task.
type ExactTaskDef struct {
	Name      string   `yaml:"name"`
	NumShards uint32   `yaml:"num_shards"`
	KeyFields []string `yaml:"key_fields"`
}

// ExactConfig groups the exact aggregator's tasks and writers.
type ExactConfig struct {
	Tasks   []ExactTaskDef `yaml:"tasks"`
	Writers []WriterDef    `yaml:"writers"`
}

// SketchTaskDef defines a single sketch-backed aggregation task. Width,
// Depth and CountThreshold drive the countmin type; Epsilon, Gamma, TopK,
// Alpha and Precise drive the univmon type, with the flow key's byte width
// fixing the layer count.
type SketchTaskDef struct {
	Name       string   `yaml:"name"`
	SktType    string   `yaml:"sketch_type"` // "countmin" or "univmon"
	FlowFields []string `yaml:"flow_fields"`

	// countmin parameters.
	Width          uint32 `yaml:"width"`
	Depth          uint32 `yaml:"depth"`
	CountThreshold uint32 `yaml:"count_threshold"`

	// univmon parameters.
	Epsilon float64 `yaml:"epsilon"`
	Gamma   float64 `yaml:"gamma"`
	TopK    int     `yaml:"topk"`
	Alpha   float64 `yaml:"alpha"`
	Precise bool    `yaml:"precise"`
}

// SketchConfig groups the sketch aggregator's tasks and writers.
type SketchConfig struct {
	Tasks   []SketchTaskDef `yaml:"tasks"`
	Writers []WriterDef     `yaml:"writers"`
}

// AggregatorConfig holds the configuration for all aggregation engines.
type AggregatorConfig struct {
	Types               []string     `yaml:"types"` // any of "exact", "sketch"
	Period              string       `yaml:"period"`
	NumWorkers          int          `yaml:"num_workers"`
	SizeOfPacketChannel int          `yaml:"size_of_packet_channel"`
	Exact               ExactConfig  `yaml:"exact"`
	Sketch              SketchConfig `yaml:"sketch"`
}

// AlerterRule defines a single threshold rule evaluated against a task.
type AlerterRule struct {
	Name      string  `yaml:"name"`
	TaskName  string  `yaml:"task_name"`
	Metric    string  `yaml:"metric"`
	Operator  string  `yaml:"operator"`
	Threshold float64 `yaml:"threshold"`
}

// AlerterConfig holds the alerter's schedule and rules.
type AlerterConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval string        `yaml:"check_interval"`
	Rules         []AlerterRule `yaml:"rules"`
}

// SMTPConfig holds the email notifier's delivery settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// APIConfig holds listen addresses for the query services.
type APIConfig struct {
	HTTPListenAddr  string `yaml:"http_listen_addr"`  // live queries served by ns-engine
	QueryListenAddr string `yaml:"query_listen_addr"` // historical queries served by ns-api
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Probe      ProbeConfig      `yaml:"probe"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Alerter    AlerterConfig    `yaml:"alerter"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	API        APIConfig        `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return &cfg, nil
}
