// Package config loads shipper settings from a YAML file, an optional .env
// file and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Chichichkin/LogProducer/internal/logging/producer"
)

const (
	SinkCLS  = "cls"
	SinkLoki = "loki"

	DefaultPluginKey = "cls"
)

var ErrMissingFields = errors.New("missing required config fields")

type Config struct {
	Sink string `yaml:"sink"`

	// CLS destination and credentials.
	TopicID   string `yaml:"topic_id"`
	Host      string `yaml:"host"`
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	Source    string `yaml:"source"`

	// Loki destination.
	LokiURL      string `yaml:"loki_url"`
	LokiTenant   string `yaml:"loki_tenant"`
	LokiCompress bool   `yaml:"loki_compress"`

	// Producer tuning, in the units the CLS SDK uses.
	TotalSizeBytes     int               `yaml:"total_size_bytes"`
	MaxSendWorkers     int               `yaml:"max_send_workers"`
	MaxBlockSec        int               `yaml:"max_block_sec"`
	MaxBatchSize       int               `yaml:"max_batch_size"`
	MaxBatchCount      int               `yaml:"max_batch_count"`
	LingerMs           int               `yaml:"linger_ms"`
	Retries            int               `yaml:"retries"`
	BaseRetryBackoffMs int               `yaml:"base_retry_backoff_ms"`
	MaxRetryBackoffMs  int               `yaml:"max_retry_backoff_ms"`
	FieldMap           map[string]string `yaml:"field_map"`

	// File tailing daemon.
	LogPath      string        `yaml:"log_path"`
	NodeName     string        `yaml:"node_name"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	IdleTimeout  time.Duration `yaml:"file_idle_timeout"`
	MaxFiles     int           `yaml:"max_files"`

	StatsAddr    string        `yaml:"stats_addr"`
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

// keyAliases maps legacy YAML spellings to the canonical keys.
var keyAliases = map[string]string{
	"total_size_ln_bytes":   "total_size_bytes",
	"max_send_worker_count": "max_send_workers",
}

func Default() Config {
	return Config{
		Sink:               SinkCLS,
		TotalSizeBytes:     producer.DefaultTotalSizeBytes,
		MaxSendWorkers:     producer.DefaultMaxSendWorkers,
		MaxBatchSize:       producer.DefaultMaxBatchSize,
		MaxBatchCount:      producer.DefaultMaxBatchCount,
		LingerMs:           int(producer.DefaultLinger / time.Millisecond),
		Retries:            producer.DefaultRetries,
		BaseRetryBackoffMs: int(producer.DefaultBaseRetryBackoff / time.Millisecond),
		MaxRetryBackoffMs:  int(producer.DefaultMaxRetryBackoff / time.Millisecond),
		LogPath:            "/var/log/pods",
		NodeName:           "unknown",
		ScanInterval:       30 * time.Second,
		IdleTimeout:        5 * time.Minute,
		StatsAddr:          ":9100",
		CloseTimeout:       60 * time.Second,
	}
}

// Load reads path and decodes the section described in Parse.
func Load(path, key string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data, key)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes settings found under plugin.<key>, under a top-level <key>,
// or at the top level, tried in that order. Unset keys keep defaults.
func Parse(data []byte, key string) (Config, error) {
	if key == "" {
		key = DefaultPluginKey
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("invalid yaml: %w", err)
	}
	if doc == nil {
		return Config{}, errors.New("config is empty or not a mapping")
	}

	section := findSection(doc, key)
	normalized := make(map[string]interface{}, len(section))
	for k, v := range section {
		if canonical, ok := keyAliases[k]; ok {
			k = canonical
		}
		normalized[k] = v
	}

	raw, err := yaml.Marshal(normalized)
	if err != nil {
		return Config{}, fmt.Errorf("failed to re-encode section: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config values: %w", err)
	}
	return cfg, nil
}

func findSection(doc map[string]interface{}, key string) map[string]interface{} {
	if plugin, ok := doc["plugin"].(map[string]interface{}); ok {
		if section, ok := plugin[key].(map[string]interface{}); ok {
			return section
		}
	}
	if section, ok := doc[key].(map[string]interface{}); ok {
		return section
	}
	return doc
}

// Validate reports every required field that is missing for the chosen sink.
func (c Config) Validate() error {
	var missing []string
	switch c.Sink {
	case SinkCLS:
		if c.TopicID == "" {
			missing = append(missing, "topic_id")
		}
		if c.Host == "" {
			missing = append(missing, "host")
		}
		if c.SecretID == "" {
			missing = append(missing, "secret_id")
		}
		if c.SecretKey == "" {
			missing = append(missing, "secret_key")
		}
	case SinkLoki:
		if c.LokiURL == "" {
			missing = append(missing, "loki_url")
		}
	default:
		return fmt.Errorf("unknown sink %q, expected %q or %q", c.Sink, SinkCLS, SinkLoki)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}

	var empty []string
	for from, to := range c.FieldMap {
		if to == "" {
			empty = append(empty, from)
		}
	}
	if len(empty) > 0 {
		sort.Strings(empty)
		return fmt.Errorf("field_map renames to an empty key: %s", strings.Join(empty, ", "))
	}
	if c.MaxFiles < 0 {
		return fmt.Errorf("max_files must not be negative, got %d", c.MaxFiles)
	}
	return nil
}

// Destination is the id the producer sends to: the CLS topic or Loki tenant.
func (c Config) Destination() string {
	if c.Sink == SinkLoki {
		return c.LokiTenant
	}
	return c.TopicID
}

func (c Config) ProducerConfig() producer.Config {
	return producer.Config{
		DestinationID:    c.Destination(),
		Source:           c.Source,
		TotalSizeBytes:   c.TotalSizeBytes,
		MaxBatchSize:     c.MaxBatchSize,
		MaxBatchCount:    c.MaxBatchCount,
		Linger:           time.Duration(c.LingerMs) * time.Millisecond,
		MaxBlock:         time.Duration(c.MaxBlockSec) * time.Second,
		Retries:          c.Retries,
		BaseRetryBackoff: time.Duration(c.BaseRetryBackoffMs) * time.Millisecond,
		MaxRetryBackoff:  time.Duration(c.MaxRetryBackoffMs) * time.Millisecond,
		MaxSendWorkers:   c.MaxSendWorkers,
		FieldMap:         c.FieldMap,
	}
}
