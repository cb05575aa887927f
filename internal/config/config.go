// Package config loads the service's tunable parameters via viper: a
// mapstructure-tagged struct, defaults applied before unmarshal, and an
// optional file path with environment-variable overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// VaultMode selects whether retrieval operates over a single undivided
// memory space or blends two weighted vault scopes.
type VaultMode string

const (
	VaultModeSingle VaultMode = "single"
	VaultModeDual   VaultMode = "dual"
)

// Config holds every tunable the service recognizes, plus the backend
// connection settings needed to wire real stores in cmd/memoriad. The
// yaml tags must mirror the mapstructure tags: Load seeds viper by
// marshaling the defaults to YAML, and a mismatched tag would register
// the wrong key name, cutting that key off from file and environment
// overrides.
type Config struct {
	EmbeddingDim int `mapstructure:"embedding_dim" yaml:"embedding_dim"`

	StoreThreshold float64 `mapstructure:"store_threshold" yaml:"store_threshold"`

	WorkingToSessionAge time.Duration `mapstructure:"working_to_session_age" yaml:"working_to_session_age"`
	SessionToLongAge    time.Duration `mapstructure:"session_to_long_age" yaml:"session_to_long_age"`

	LongTermMinImportance float64 `mapstructure:"long_term_min_importance" yaml:"long_term_min_importance"`

	EvictMinImportance float64       `mapstructure:"evict_min_importance" yaml:"evict_min_importance"`
	EvictAge           time.Duration `mapstructure:"evict_age" yaml:"evict_age"`

	TierSweepInterval time.Duration `mapstructure:"tier_sweep_interval" yaml:"tier_sweep_interval"`
	SweepBatch        int           `mapstructure:"sweep_batch" yaml:"sweep_batch"`

	DedupSimilarity float64 `mapstructure:"dedup_sim" yaml:"dedup_sim"`

	SemanticMinSimilarity float64 `mapstructure:"semantic_min_similarity" yaml:"semantic_min_similarity"`

	ExactWeightDefault float64 `mapstructure:"exact_weight_default" yaml:"exact_weight_default"`

	VaultMode     VaultMode `mapstructure:"vault_mode" yaml:"vault_mode"`
	CoreWeight    float64   `mapstructure:"core_weight" yaml:"core_weight"`
	ProjectWeight float64   `mapstructure:"project_weight" yaml:"project_weight"`

	// AccessRateLowPerWeek is the access-rate-per-week threshold below
	// which a Working memory becomes eligible for the Session tier once
	// it has crossed WorkingToSessionAge. Set to 0 to make tier aging
	// purely age-based.
	AccessRateLowPerWeek float64 `mapstructure:"access_rate_low_per_week" yaml:"access_rate_low_per_week"`

	TouchQueueSize int `mapstructure:"touch_queue_size" yaml:"touch_queue_size"`

	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant" yaml:"qdrant"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	OpenAI   OpenAIConfig   `mapstructure:"openai" yaml:"openai"`
}

type PostgresConfig struct {
	DSN             string `mapstructure:"dsn" yaml:"dsn"`
	MaxConnections  int    `mapstructure:"max_connections" yaml:"max_connections"`
	IdleConnections int    `mapstructure:"idle_connections" yaml:"idle_connections"`
}

type QdrantConfig struct {
	Host   string `mapstructure:"host" yaml:"host"`
	Port   int    `mapstructure:"port" yaml:"port"`
	UseTLS bool   `mapstructure:"use_tls" yaml:"use_tls"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	EmbeddingModel string `mapstructure:"embedding_model" yaml:"embedding_model"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
}

// Defaults returns a Config populated with the stock defaults (48h
// working_to_session_age, 14d session_to_long_age, etc).
func Defaults() *Config {
	return &Config{
		EmbeddingDim:           1536,
		StoreThreshold:         0.40,
		WorkingToSessionAge:    48 * time.Hour,
		SessionToLongAge:       14 * 24 * time.Hour,
		LongTermMinImportance:  0.60,
		EvictMinImportance:     0.30,
		EvictAge:               72 * time.Hour,
		TierSweepInterval:      time.Hour,
		SweepBatch:             500,
		DedupSimilarity:        0.95,
		SemanticMinSimilarity:  0.50,
		ExactWeightDefault:     0.40,
		VaultMode:              VaultModeSingle,
		CoreWeight:             0.3,
		ProjectWeight:          0.7,
		AccessRateLowPerWeek:   1.0,
		TouchQueueSize:         10000,
		Postgres: PostgresConfig{
			MaxConnections:  25,
			IdleConnections: 5,
		},
		Qdrant: QdrantConfig{
			Host: "localhost",
			Port: 6334,
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel: "text-embedding-3-small",
		},
	}
}

// Load reads configuration from path (if non-empty) and from environment
// variables prefixed MEMORIA_, layering both over Defaults(). A missing
// file at path is not an error: Defaults() plus environment overrides is
// a valid configuration for local/dev use.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MEMORIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper only resolves AutomaticEnv overrides for keys it already knows
	// about, so the defaults are seeded into viper's own tree before any
	// file or environment layer is applied on top. The yaml tags on Config
	// keep the seeded key names identical to the mapstructure ones.
	defaultsYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaultsYAML)); err != nil {
		return nil, fmt.Errorf("seed defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Dump renders the effective configuration as YAML, redacting secrets,
// for the --print-config startup diagnostic.
func (c *Config) Dump() ([]byte, error) {
	redacted := *c
	if redacted.Postgres.DSN != "" {
		redacted.Postgres.DSN = "<redacted>"
	}
	if redacted.OpenAI.APIKey != "" {
		redacted.OpenAI.APIKey = "<redacted>"
	}
	return yaml.Marshal(redacted)
}
