// Package config handles configuration loading and defaults for newsclust.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the global configuration for the clustering service.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Recall      RecallConfig      `yaml:"recall"`
	Verify      VerifyConfig      `yaml:"verify"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Queue       QueueConfig       `yaml:"queue"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Recheck     RecheckConfig     `yaml:"recheck"`
}

// HTTPConfig configures the REST/websocket surface.
type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	EnableLive  bool   `yaml:"enable_live"`
	CORSOrigins string `yaml:"cors_origins"`
}

// FingerprintConfig configures shingle/SimHash/MinHash/LSH computation.
type FingerprintConfig struct {
	ShingleSize        int `yaml:"shingle_size"`         // characters per shingle, default 5
	MinHashSize        int `yaml:"minhash_size"`         // number of MinHash permutations, default 128
	LSHBands           int `yaml:"lsh_bands"`            // number of bands, default 20
	LSHRows            int `yaml:"lsh_rows"`             // slots per band, default 6
	SimHashDistanceMax int `yaml:"simhash_distance_max"` // Hamming radius the four-chunk SimHash lookup covers, default 3; recall does not read this value
}

// RecallConfig configures candidate recall.
type RecallConfig struct {
	MaxCandidates int `yaml:"max_candidates"` // K, default 50
	MaxPerCluster int `yaml:"max_per_cluster"`
}

// VerifyConfig configures the Jaccard verifier.
type VerifyConfig struct {
	JaccardThreshold float64       `yaml:"jaccard_threshold"` // default 0.80
	Budget           time.Duration `yaml:"budget"`            // wall-clock budget per article, default 50ms
	MinBudgetChecks  int           `yaml:"min_budget_checks"` // candidates guaranteed before budget can cut off, default 20
}

// GatewayConfig configures the Index Gateway backend.
type GatewayConfig struct {
	Backend        string `yaml:"backend"` // "weaviate" or "memory"
	WeaviateHost   string `yaml:"weaviate_host"`
	WeaviateScheme string `yaml:"weaviate_scheme"`
	ArticleClass   string `yaml:"article_class"`
	ClusterClass   string `yaml:"cluster_class"`
}

// QueueConfig configures the ingestion queue backend.
type QueueConfig struct {
	Backend       string `yaml:"backend"` // "redis" or "memory"
	RedisAddr     string `yaml:"redis_addr"`
	StreamKey     string `yaml:"stream_key"`
	GroupName     string `yaml:"group_name"`
	DeadLetterKey string `yaml:"dead_letter_key"`
}

// IngestionConfig configures the fixed worker pool and retry schedule.
type IngestionConfig struct {
	Workers          int           `yaml:"workers"` // N, default 8
	MaxBlockingTasks int           `yaml:"max_blocking_tasks"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`  // default 1s
	RetryFactor      float64       `yaml:"retry_factor"`      // default 2
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`   // default 60s
	RetryMaxAttempts int           `yaml:"retry_max_attempts"` // default 5
}

// RecheckConfig configures the recheck controller.
type RecheckConfig struct {
	Cooldown      time.Duration `yaml:"cooldown"` // default 5m
	RatePerSecond float64       `yaml:"rate_per_second"`
	RateBurst     int           `yaml:"rate_burst"`
}

// DefaultConfig returns the default configuration with every tunable named
// in the clustering specification set to its documented default.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:       ":8080",
			EnableLive: true,
		},
		Fingerprint: FingerprintConfig{
			ShingleSize:        5,
			MinHashSize:        128,
			LSHBands:           20,
			LSHRows:            6,
			SimHashDistanceMax: 3,
		},
		Recall: RecallConfig{
			MaxCandidates: 50,
			MaxPerCluster: 3,
		},
		Verify: VerifyConfig{
			JaccardThreshold: 0.80,
			Budget:           50 * time.Millisecond,
			MinBudgetChecks:  20,
		},
		Gateway: GatewayConfig{
			Backend:        "memory",
			WeaviateScheme: "http",
			WeaviateHost:   "localhost:8081",
			ArticleClass:   "NewsArticle",
			ClusterClass:   "NewsCluster",
		},
		Queue: QueueConfig{
			Backend:       "memory",
			RedisAddr:     "localhost:6379",
			StreamKey:     "newsclust:ingest",
			GroupName:     "newsclust-workers",
			DeadLetterKey: "newsclust:ingest:dead",
		},
		Ingestion: IngestionConfig{
			Workers:          8,
			MaxBlockingTasks: 256,
			RetryBaseDelay:   1 * time.Second,
			RetryFactor:      2,
			RetryMaxDelay:    60 * time.Second,
			RetryMaxAttempts: 5,
		},
		Recheck: RecheckConfig{
			Cooldown:      5 * time.Minute,
			RatePerSecond: 2,
			RateBurst:     5,
		},
	}
}

// Load reads a YAML config file and overlays it onto DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}
