package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Pitch      PitchConfig      `yaml:"pitch" mapstructure:"pitch"`
	Preference PreferenceConfig `yaml:"preference" mapstructure:"preference"`
	Quota      QuotaConfig      `yaml:"quota" mapstructure:"quota"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	GeneratorModel string `yaml:"generator_model" mapstructure:"generator_model"`
	CriticModel    string `yaml:"critic_model" mapstructure:"critic_model"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the generation call timeout as a duration.
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// JinaConfig holds Jina embeddings API settings.
type JinaConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ScoringConfig configures the match score engine and ranker.
type ScoringConfig struct {
	// Factor weights; renormalized at scoring time if they do not sum to 1.
	StrategyWeight float64 `yaml:"strategy_weight" mapstructure:"strategy_weight"`
	SizeFitWeight  float64 `yaml:"size_fit_weight" mapstructure:"size_fit_weight"`
	SemanticWeight float64 `yaml:"semantic_weight" mapstructure:"semantic_weight"`
	ESGWeight      float64 `yaml:"esg_weight" mapstructure:"esg_weight"`

	// SizeTolerancePct is the band outside the LP's stated check-size range
	// over which size-fit degrades linearly to zero, as a fraction of the
	// range bound (0.5 = 50% beyond the bound).
	SizeTolerancePct float64 `yaml:"size_tolerance_pct" mapstructure:"size_tolerance_pct"`

	// MaxConcurrency bounds the ranker's per-candidate fan-out.
	MaxConcurrency int `yaml:"max_concurrency" mapstructure:"max_concurrency"`

	// FreshnessDays marks profile inputs older than this as stale.
	FreshnessDays int `yaml:"freshness_days" mapstructure:"freshness_days"`

	// PageSize is the default rank page size.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// FreshnessWindow returns FreshnessDays as a duration.
func (c ScoringConfig) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessDays) * 24 * time.Hour
}

// PitchConfig configures the generator/critic/synthesizer loop.
type PitchConfig struct {
	// MaxAttempts is the regeneration budget per match (completed critic
	// passes, not transport retries).
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// MinSpecificRefs is the personalization floor before generic_content
	// is flagged.
	MinSpecificRefs int `yaml:"min_specific_refs" mapstructure:"min_specific_refs"`

	// WallClockSecs caps one synthesizer run end to end, including
	// transport-level retries that do not consume the attempt budget.
	WallClockSecs int `yaml:"wall_clock_secs" mapstructure:"wall_clock_secs"`
}

// WallClock returns WallClockSecs as a duration.
func (c PitchConfig) WallClock() time.Duration {
	return time.Duration(c.WallClockSecs) * time.Second
}

// PreferenceConfig configures the preference learner.
type PreferenceConfig struct {
	// MinSamples is the interaction count before a preference materializes.
	MinSamples int `yaml:"min_samples" mapstructure:"min_samples"`

	// DecayDays is the unconfirmed window after which confidence decays.
	DecayDays int `yaml:"decay_days" mapstructure:"decay_days"`

	// DecayFactor multiplies confidence once per elapsed decay window.
	DecayFactor float64 `yaml:"decay_factor" mapstructure:"decay_factor"`

	// ReversalWindow is how many recent interactions must uniformly
	// contradict a stored preference before it is replaced outright.
	ReversalWindow int `yaml:"reversal_window" mapstructure:"reversal_window"`

	// DisabledOrgs opt out of learning entirely.
	DisabledOrgs []string `yaml:"disabled_orgs" mapstructure:"disabled_orgs"`
}

// QuotaConfig configures per-organization external API budgets.
type QuotaConfig struct {
	TokensPerDay      int     `yaml:"tokens_per_day" mapstructure:"tokens_per_day"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LPMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "lpmatch.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.generator_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.critic_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("jina.base_url", "https://api.jina.ai")
	v.SetDefault("jina.model", "jina-embeddings-v3")
	v.SetDefault("jina.timeout_secs", 30)
	v.SetDefault("scoring.strategy_weight", 0.35)
	v.SetDefault("scoring.size_fit_weight", 0.25)
	v.SetDefault("scoring.semantic_weight", 0.25)
	v.SetDefault("scoring.esg_weight", 0.15)
	v.SetDefault("scoring.size_tolerance_pct", 0.5)
	v.SetDefault("scoring.max_concurrency", 8)
	v.SetDefault("scoring.freshness_days", 90)
	v.SetDefault("scoring.page_size", 25)
	v.SetDefault("pitch.max_attempts", 3)
	v.SetDefault("pitch.min_specific_refs", 3)
	v.SetDefault("pitch.wall_clock_secs", 300)
	v.SetDefault("preference.min_samples", 5)
	v.SetDefault("preference.decay_days", 60)
	v.SetDefault("preference.decay_factor", 0.8)
	v.SetDefault("preference.reversal_window", 5)
	v.SetDefault("quota.tokens_per_day", 2000000)
	v.SetDefault("quota.requests_per_second", 2)
	v.SetDefault("quota.burst", 4)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
