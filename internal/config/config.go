// Package config loads and validates the nextup service configuration from
// per-environment YAML files with ${VAR} expansion.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the nextup recommendation core configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Policy    PolicyConfig    `yaml:"policy"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ranker    RankerConfig    `yaml:"ranker"`
	Refiner   RefinerConfig   `yaml:"refiner"`
	Memory    MemoryConfig    `yaml:"memory"`
	Learning  LearningConfig  `yaml:"learning"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: env-determined)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the Redis connection settings for the vector index
// and preference store.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// PolicyConfig holds the embedded store for policy snapshots and the
// trajectory log.
type PolicyConfig struct {
	Dir      string `yaml:"dir"`       // badger directory; empty = in-memory
	InMemory bool   `yaml:"in_memory"` // explicit in-memory mode (tests, ephemeral)
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"` // label for logs/metrics
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	CacheTTLHours    int    `yaml:"cache_ttl_hours"`
	BreakerThreshold int    `yaml:"breaker_threshold"`   // consecutive failures before opening
	BreakerCooldown  int    `yaml:"breaker_cooldown_sec"`
}

// IndexConfig holds HNSW index settings.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
}

// RetrievalConfig holds candidate retrieval settings.
type RetrievalConfig struct {
	OverfetchFactor int     `yaml:"overfetch_factor"` // 3–5
	MaxK            int     `yaml:"max_k"`
	DeadlineMs      int     `yaml:"deadline_ms"`
	DiversityLambda float64 `yaml:"diversity_lambda"` // MMR relevance/diversity trade-off
}

// RankerConfig holds the actor-critic hyperparameters. Constants are
// tunable defaults, not fixed requirements.
type RankerConfig struct {
	ActorLearningRate  float64 `yaml:"actor_learning_rate"`
	CriticLearningRate float64 `yaml:"critic_learning_rate"`
	Discount           float64 `yaml:"discount"`
	ExplorationCoeff   float64 `yaml:"exploration_coeff"`
	ExplorationDecay   float64 `yaml:"exploration_decay"`
	ExplorationFloor   float64 `yaml:"exploration_floor"`
}

// RefinerConfig holds the Q-learning query refiner settings.
type RefinerConfig struct {
	Epsilon       float64 `yaml:"epsilon"`
	EpsilonDecay  float64 `yaml:"epsilon_decay"`
	EpsilonFloor  float64 `yaml:"epsilon_floor"`
	LearningRate  float64 `yaml:"learning_rate"`
	Discount      float64 `yaml:"discount"`
	MinSimilarity float64 `yaml:"min_similarity"` // trigger threshold
	MinTokens     int     `yaml:"min_tokens"`
}

// MemoryConfig holds preference memory settings.
type MemoryConfig struct {
	Beta                float64 `yaml:"beta"`           // steady-state EMA rate
	ColdStartBeta       float64 `yaml:"coldstart_beta"` // accelerated rate
	ColdStartWindow     int     `yaml:"coldstart_window"`
	ContextBlend        float64 `yaml:"context_blend"` // adapter alpha
	PatternWindow       int     `yaml:"pattern_window"`
	PatternThreshold    float64 `yaml:"pattern_threshold"`
	SessionFreshnessMin int     `yaml:"session_freshness_min"`
}

// LearningConfig holds learning loop settings.
type LearningConfig struct {
	Workers             int `yaml:"workers"`
	ImpressionCacheSize int `yaml:"impression_cache_size"`
	SnapshotEvery       int `yaml:"snapshot_every"` // policy snapshot cadence in updates
	OffsetFlushMin      int `yaml:"offset_flush_min"`
	PatternRecomputeMin int `yaml:"pattern_recompute_min"`
	RetentionDays       int `yaml:"retention_days"`
	TrajectoryCap       int `yaml:"trajectory_cap"`
	KeepRecent          int `yaml:"keep_recent"` // never pruned, even by age
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "nextup:"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.CacheTTLHours <= 0 {
		c.Embedding.CacheTTLHours = 24 * 7
	}
	if c.Embedding.BreakerThreshold <= 0 {
		c.Embedding.BreakerThreshold = 5
	}
	if c.Embedding.BreakerCooldown <= 0 {
		c.Embedding.BreakerCooldown = 30
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 32
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 400
	}
	if c.Retrieval.OverfetchFactor <= 0 {
		c.Retrieval.OverfetchFactor = 4
	}
	if c.Retrieval.MaxK <= 0 {
		c.Retrieval.MaxK = 50
	}
	if c.Retrieval.DeadlineMs <= 0 {
		c.Retrieval.DeadlineMs = 250
	}
	if c.Retrieval.DiversityLambda <= 0 {
		c.Retrieval.DiversityLambda = 0.7
	}
	if c.Ranker.ActorLearningRate <= 0 {
		c.Ranker.ActorLearningRate = 0.01
	}
	if c.Ranker.CriticLearningRate <= 0 {
		c.Ranker.CriticLearningRate = 0.05
	}
	if c.Ranker.Discount <= 0 {
		c.Ranker.Discount = 0.95
	}
	if c.Ranker.ExplorationCoeff <= 0 {
		c.Ranker.ExplorationCoeff = 0.1
	}
	if c.Ranker.ExplorationDecay <= 0 {
		c.Ranker.ExplorationDecay = 0.999
	}
	if c.Ranker.ExplorationFloor <= 0 {
		c.Ranker.ExplorationFloor = 0.01
	}
	if c.Refiner.Epsilon <= 0 {
		c.Refiner.Epsilon = 0.15
	}
	if c.Refiner.EpsilonDecay <= 0 {
		c.Refiner.EpsilonDecay = 0.995
	}
	if c.Refiner.EpsilonFloor <= 0 {
		c.Refiner.EpsilonFloor = 0.05
	}
	if c.Refiner.LearningRate <= 0 {
		c.Refiner.LearningRate = 0.1
	}
	if c.Refiner.Discount <= 0 {
		c.Refiner.Discount = 0.9
	}
	if c.Refiner.MinSimilarity <= 0 {
		c.Refiner.MinSimilarity = 0.6
	}
	if c.Refiner.MinTokens <= 0 {
		c.Refiner.MinTokens = 3
	}
	if c.Memory.Beta <= 0 {
		c.Memory.Beta = 0.1
	}
	if c.Memory.ColdStartBeta <= 0 {
		c.Memory.ColdStartBeta = 0.5
	}
	if c.Memory.ColdStartWindow <= 0 {
		c.Memory.ColdStartWindow = 5
	}
	if c.Memory.ContextBlend <= 0 {
		c.Memory.ContextBlend = 0.2
	}
	if c.Memory.PatternWindow <= 0 {
		c.Memory.PatternWindow = 50
	}
	if c.Memory.PatternThreshold <= 0 {
		c.Memory.PatternThreshold = 0.6
	}
	if c.Memory.SessionFreshnessMin <= 0 {
		c.Memory.SessionFreshnessMin = 30
	}
	if c.Learning.Workers <= 0 {
		c.Learning.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Learning.ImpressionCacheSize <= 0 {
		c.Learning.ImpressionCacheSize = 10000
	}
	if c.Learning.SnapshotEvery <= 0 {
		c.Learning.SnapshotEvery = 100
	}
	if c.Learning.OffsetFlushMin <= 0 {
		c.Learning.OffsetFlushMin = 60
	}
	if c.Learning.PatternRecomputeMin <= 0 {
		c.Learning.PatternRecomputeMin = 15
	}
	if c.Learning.RetentionDays <= 0 {
		c.Learning.RetentionDays = 90
	}
	if c.Learning.TrajectoryCap <= 0 {
		c.Learning.TrajectoryCap = 1000
	}
	if c.Learning.KeepRecent <= 0 {
		c.Learning.KeepRecent = 5
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions is required")
	}
	if c.Policy.Dir == "" && !c.Policy.InMemory {
		return fmt.Errorf("policy.dir is required unless policy.in_memory is set")
	}
	if c.Retrieval.OverfetchFactor < 1 || c.Retrieval.OverfetchFactor > 10 {
		return fmt.Errorf("retrieval.overfetch_factor must be in [1, 10], got %d", c.Retrieval.OverfetchFactor)
	}
	if c.Retrieval.DiversityLambda > 1 {
		return fmt.Errorf("retrieval.diversity_lambda must be in (0, 1], got %g", c.Retrieval.DiversityLambda)
	}
	if c.Ranker.Discount >= 1 {
		return fmt.Errorf("ranker.discount must be below 1, got %g", c.Ranker.Discount)
	}
	if c.Refiner.EpsilonFloor > c.Refiner.Epsilon {
		return fmt.Errorf("refiner.epsilon_floor must not exceed refiner.epsilon")
	}
	if c.Memory.Beta > 1 || c.Memory.ColdStartBeta > 1 {
		return fmt.Errorf("memory beta rates must be in [0, 1]")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
