// Package config defines the engine's configuration surface (spec §6) and
// loads it via Viper, grounded on the teacher's internal/config package:
// mapstructure-tagged structs, go-playground/validator/v10 tags, and an
// env-prefixed AutomaticEnv binding.
package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/sentinelgate/ruleengine/internal/errs"
)

// RuleSource selects which loader backs the engine.
type RuleSource string

const (
	SourceCloud RuleSource = "cloud"
	SourceLocal RuleSource = "local"
)

// Config is the literal field set of spec §6's configuration surface.
type Config struct {
	RuleSource RuleSource `mapstructure:"rule_source" validate:"required,oneof=cloud local"`

	APIURL    string `mapstructure:"api_url" validate:"required_if=RuleSource cloud,omitempty,url"`
	APIKey    string `mapstructure:"api_key" validate:"required_if=RuleSource cloud"`
	ProjectID string `mapstructure:"project_id" validate:"required_if=RuleSource cloud"`

	LocalRulesPath string `mapstructure:"local_rules_path" validate:"required_if=RuleSource local"`
	EnableHotReload bool  `mapstructure:"enable_hot_reload"`

	CacheMaxSize int `mapstructure:"cache_max_size" validate:"required,min=1"`

	HTTPTimeoutMs      int `mapstructure:"http_timeout" validate:"required,min=1"`
	ExecutionTimeoutMs int `mapstructure:"execution_timeout_ms" validate:"required,min=0"`
	BatchSize          int `mapstructure:"batch_size" validate:"required,min=1"`

	MaxRetries       int `mapstructure:"max_retries" validate:"min=0"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" validate:"required,min=1"`

	CircuitFailureThreshold int `mapstructure:"circuit_failure_threshold" validate:"required,min=1"`
	CircuitOpenDurationMs   int `mapstructure:"circuit_open_duration_ms" validate:"required,min=1"`

	MaxConcurrentEvaluations int `mapstructure:"max_concurrent_evaluations" validate:"required,min=1"`
	QueueTimeoutMs           int `mapstructure:"queue_timeout_ms" validate:"required,min=1"`

	MaxSignatureAgeMs int `mapstructure:"max_signature_age_ms" validate:"min=0"`

	MemoryWarningPct  float64 `mapstructure:"memory_warning_pct" validate:"min=0,max=100"`
	MemoryCriticalPct float64 `mapstructure:"memory_critical_pct" validate:"min=0,max=100,gtefield=MemoryWarningPct"`

	AuditDBPath string `mapstructure:"audit_db_path"`
}

// Defaults returns the spec §6 default values, intended as the Viper
// SetDefault seed before a file/env overlay is applied.
func Defaults() Config {
	return Config{
		RuleSource:               SourceCloud,
		CacheMaxSize:             1000,
		HTTPTimeoutMs:            5000,
		ExecutionTimeoutMs:       5000,
		BatchSize:                10,
		MaxRetries:               3,
		RetryBaseDelayMs:         1000,
		CircuitFailureThreshold:  5,
		CircuitOpenDurationMs:    30000,
		MaxConcurrentEvaluations: 50,
		QueueTimeoutMs:           5000,
		MaxSignatureAgeMs:        3_600_000,
		MemoryWarningPct:         70,
		MemoryCriticalPct:        85,
	}
}

// HTTPTimeout returns HTTPTimeoutMs as a time.Duration.
func (c Config) HTTPTimeout() time.Duration { return time.Duration(c.HTTPTimeoutMs) * time.Millisecond }

// ExecutionTimeout returns ExecutionTimeoutMs as a time.Duration. Validate
// rejects zero; a Config that skips validation and carries zero gets "no
// per-execution deadline" from the engine (spec §8's `timeout = 0` boundary
// case is handled by the caller passing an already-expired context instead).
func (c Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutMs) * time.Millisecond
}

// RetryBaseDelay returns RetryBaseDelayMs as a time.Duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// CircuitOpenDuration returns CircuitOpenDurationMs as a time.Duration.
func (c Config) CircuitOpenDuration() time.Duration {
	return time.Duration(c.CircuitOpenDurationMs) * time.Millisecond
}

// QueueTimeout returns QueueTimeoutMs as a time.Duration.
func (c Config) QueueTimeout() time.Duration { return time.Duration(c.QueueTimeoutMs) * time.Millisecond }

// MaxSignatureAge returns MaxSignatureAgeMs as a time.Duration.
func (c Config) MaxSignatureAge() time.Duration {
	return time.Duration(c.MaxSignatureAgeMs) * time.Millisecond
}

var validate = validator.New()

// Validate runs struct-tag validation, including the cross-field rules the
// tags carry (required_if on RuleSource, gtefield on the memory thresholds).
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Wrap(errs.KindConfigError, err, "configuration failed validation")
	}
	return nil
}

// Load reads configuration from an optional file plus RULEENGINE_-prefixed
// environment variables, overlaying Defaults(). An empty configFile means
// "rely on environment and defaults only" (valid for containerized
// deployments with no mounted config file).
func Load(configFile string) (Config, error) {
	v := viper.New()

	def := Defaults()
	v.SetDefault("rule_source", string(def.RuleSource))
	v.SetDefault("cache_max_size", def.CacheMaxSize)
	v.SetDefault("http_timeout", def.HTTPTimeoutMs)
	v.SetDefault("execution_timeout_ms", def.ExecutionTimeoutMs)
	v.SetDefault("batch_size", def.BatchSize)
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("retry_base_delay_ms", def.RetryBaseDelayMs)
	v.SetDefault("circuit_failure_threshold", def.CircuitFailureThreshold)
	v.SetDefault("circuit_open_duration_ms", def.CircuitOpenDurationMs)
	v.SetDefault("max_concurrent_evaluations", def.MaxConcurrentEvaluations)
	v.SetDefault("queue_timeout_ms", def.QueueTimeoutMs)
	v.SetDefault("max_signature_age_ms", def.MaxSignatureAgeMs)
	v.SetDefault("memory_warning_pct", def.MemoryWarningPct)
	v.SetDefault("memory_critical_pct", def.MemoryCriticalPct)
	v.SetDefault("enable_hot_reload", false)
	// Keys with no spec default still need registering so that Unmarshal
	// picks up their RULEENGINE_* environment overrides.
	v.SetDefault("api_url", "")
	v.SetDefault("api_key", "")
	v.SetDefault("project_id", "")
	v.SetDefault("local_rules_path", "")
	v.SetDefault("audit_db_path", "")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errs.Wrap(errs.KindConfigError, err, "reading config file %q", configFile)
		}
	}

	v.SetEnvPrefix("RULEENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(errs.KindConfigError, err, "unmarshalling configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
