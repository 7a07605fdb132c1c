// Package config loads the researcher configuration with viper. Values come
// from defaults, an optional YAML file, and PERISCOPE_* environment
// overrides, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ServicesConfig holds the endpoints of the external sidecars.
type ServicesConfig struct {
	LLMURL       string        `mapstructure:"llm_url"`
	SearchURL    string        `mapstructure:"search_url"`
	DiscoveryURL string        `mapstructure:"discovery_url"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
}

// DecompositionConfig bounds the query decomposer's output contract.
type DecompositionConfig struct {
	MinSubQuestions  int           `mapstructure:"min_sub_questions"`
	MaxSubQuestions  int           `mapstructure:"max_sub_questions"`
	MaxTermsPerQuery int           `mapstructure:"max_terms_per_query"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// SearchConfig controls provider fan-out.
type SearchConfig struct {
	TermsPerSubQuestion int           `mapstructure:"terms_per_sub_question"`
	ResultLimit         int           `mapstructure:"result_limit"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
	Burst               int           `mapstructure:"burst"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// ValidationConfig controls the answer validator.
type ValidationConfig struct {
	ConfidenceFloor    float64       `mapstructure:"confidence_floor"`
	MaxHitsPerQuestion int           `mapstructure:"max_hits_per_question"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// RetryConfig bounds the gap-fill controller on the research path.
type RetryConfig struct {
	MaxRounds        int           `mapstructure:"max_rounds"` // default 0: retries are opt-in per call
	AlternativeTerms int           `mapstructure:"alternative_terms"`
	WallClockBudget  time.Duration `mapstructure:"wall_clock_budget"`
}

// QualityConfig controls the corpus quality gate.
type QualityConfig struct {
	MinDocuments     int           `mapstructure:"min_documents"`
	RecencyWindow    time.Duration `mapstructure:"recency_window"`
	TopCompetitors   int           `mapstructure:"top_competitors"`
	LowCoverageFloor float64       `mapstructure:"low_coverage_floor"`
	JudgeEnabled     bool          `mapstructure:"judge_enabled"`
	JudgeSampleSize  int           `mapstructure:"judge_sample_size"`
	GapFillMinYield  int           `mapstructure:"gap_fill_min_yield"`
	GapFillBudget    time.Duration `mapstructure:"gap_fill_budget"`
	MaxIterations    int           `mapstructure:"max_iterations"`
}

// RedisConfig configures the dedup index backend.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// PostgresConfig configures the corpus store.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// TemporalConfig configures the workflow engine connection.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// TracingConfig configures optional OTLP tracing.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// ServiceConfig holds the researcher's own listen ports.
type ServiceConfig struct {
	APIPort int `mapstructure:"api_port"`
}

// ObservabilityConfig holds metrics/health/tracing knobs.
type ObservabilityConfig struct {
	MetricsPort int           `mapstructure:"metrics_port"`
	LogLevel    string        `mapstructure:"log_level"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// Config is the full researcher configuration.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Services      ServicesConfig      `mapstructure:"services"`
	Decomposition DecompositionConfig `mapstructure:"decomposition"`
	Search        SearchConfig        `mapstructure:"search"`
	Validation    ValidationConfig    `mapstructure:"validation"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Quality       QualityConfig       `mapstructure:"quality"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Temporal      TemporalConfig      `mapstructure:"temporal"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.api_port", 8081)

	v.SetDefault("services.llm_url", "http://llm-service:8000")
	v.SetDefault("services.search_url", "http://search-service:8090")
	v.SetDefault("services.discovery_url", "http://discovery-service:8091")
	v.SetDefault("services.http_timeout", 30*time.Second)

	v.SetDefault("decomposition.min_sub_questions", 3)
	v.SetDefault("decomposition.max_sub_questions", 6)
	v.SetDefault("decomposition.max_terms_per_query", 3)
	v.SetDefault("decomposition.timeout", 30*time.Second)

	v.SetDefault("search.terms_per_sub_question", 2)
	v.SetDefault("search.result_limit", 10)
	v.SetDefault("search.requests_per_second", 8.0)
	v.SetDefault("search.burst", 12)
	v.SetDefault("search.timeout", 15*time.Second)

	v.SetDefault("validation.confidence_floor", 0.3)
	v.SetDefault("validation.max_hits_per_question", 8)
	v.SetDefault("validation.timeout", 60*time.Second)

	v.SetDefault("retry.max_rounds", 0)
	v.SetDefault("retry.alternative_terms", 3)
	v.SetDefault("retry.wall_clock_budget", 120*time.Second)

	v.SetDefault("quality.min_documents", 5)
	v.SetDefault("quality.recency_window", 48*time.Hour)
	v.SetDefault("quality.top_competitors", 3)
	v.SetDefault("quality.low_coverage_floor", 0.5)
	v.SetDefault("quality.judge_enabled", true)
	v.SetDefault("quality.judge_sample_size", 10)
	v.SetDefault("quality.gap_fill_min_yield", 3)
	v.SetDefault("quality.gap_fill_budget", 120*time.Second)
	v.SetDefault("quality.max_iterations", 1)

	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.dedup_ttl", 24*time.Hour)

	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "periscope")
	v.SetDefault("postgres.database", "periscope")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("temporal.host_port", "temporal:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "periscope-researcher")

	v.SetDefault("observability.metrics_port", 2112)
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "periscope-researcher")
	v.SetDefault("observability.tracing.otlp_endpoint", "localhost:4317")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PERISCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from PERISCOPE_CONFIG_PATH (or the conventional
// locations) if present; a missing file is not an error, defaults and env
// overrides still apply.
func Load() (*Config, error) {
	v := newViper()

	cfgPath := os.Getenv("PERISCOPE_CONFIG_PATH")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
	} else {
		v.SetConfigName("researcher")
		v.SetConfigType("yaml")
		v.AddConfigPath("/app/config")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errorsAs(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the config file on change and invokes onChange with the new
// snapshot. Invalid snapshots are logged and skipped; the previous config
// stays active.
func Watch(logger *zap.Logger, onChange func(*Config)) error {
	cfgPath := os.Getenv("PERISCOPE_CONFIG_PATH")
	if cfgPath == "" {
		return nil // nothing to watch, env/defaults only
	}
	v := newViper()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgPath, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			logger.Warn("Ignoring config reload, unmarshal failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := cfg.Validate(); err != nil {
			logger.Warn("Ignoring config reload, validation failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("Configuration reloaded", zap.String("file", e.Name))
		onChange(&cfg)
	})
	v.WatchConfig()
	return nil
}

// Validate enforces the structural invariants the pipeline depends on.
func (c *Config) Validate() error {
	if c.Decomposition.MinSubQuestions < 1 || c.Decomposition.MaxSubQuestions < c.Decomposition.MinSubQuestions {
		return fmt.Errorf("decomposition bounds invalid: min=%d max=%d",
			c.Decomposition.MinSubQuestions, c.Decomposition.MaxSubQuestions)
	}
	if c.Validation.ConfidenceFloor < 0 || c.Validation.ConfidenceFloor > 1 {
		return fmt.Errorf("validation.confidence_floor out of range: %f", c.Validation.ConfidenceFloor)
	}
	if c.Retry.MaxRounds < 0 {
		return fmt.Errorf("retry.max_rounds must be >= 0, got %d", c.Retry.MaxRounds)
	}
	if c.Quality.MaxIterations < 1 {
		return fmt.Errorf("quality.max_iterations must be >= 1, got %d", c.Quality.MaxIterations)
	}
	if c.Quality.GapFillMinYield < 0 {
		return fmt.Errorf("quality.gap_fill_min_yield must be >= 0, got %d", c.Quality.GapFillMinYield)
	}
	if c.Search.TermsPerSubQuestion < 1 {
		return fmt.Errorf("search.terms_per_sub_question must be >= 1, got %d", c.Search.TermsPerSubQuestion)
	}
	return nil
}

// DSN renders the Postgres connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// errorsAs is a tiny wrapper so the viper sentinel check reads cleanly above.
func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	if err == nil {
		return false
	}
	if cf, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = cf
		return true
	}
	return false
}
