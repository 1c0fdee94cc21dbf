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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Generator GeneratorConfig `yaml:"generator" mapstructure:"generator"`
	Verifier  VerifierConfig  `yaml:"verifier" mapstructure:"verifier"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Bounce    BounceConfig    `yaml:"bounce" mapstructure:"bounce"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Lookup    LookupConfig    `yaml:"lookup" mapstructure:"lookup"`
	VerifyAPI VerifyAPIConfig `yaml:"verify_api" mapstructure:"verify_api"`
	Mailbox   MailboxConfig   `yaml:"mailbox" mapstructure:"mailbox"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the contact store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path        string `yaml:"path" mapstructure:"path"`     // sqlite file path
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GeneratorConfig configures candidate generation.
type GeneratorConfig struct {
	MaxCandidates int      `yaml:"max_candidates" mapstructure:"max_candidates"`
	TLDs          []string `yaml:"tlds" mapstructure:"tlds"`
}

// VerifierConfig configures the verification pipeline.
type VerifierConfig struct {
	RulesPath      string        `yaml:"rules_path" mapstructure:"rules_path"`
	DNSTimeout     time.Duration `yaml:"dns_timeout" mapstructure:"dns_timeout"`
	DNSMaxAttempts int           `yaml:"dns_max_attempts" mapstructure:"dns_max_attempts"`
	APIEnabled     bool          `yaml:"api_enabled" mapstructure:"api_enabled"`
}

// RetryConfig configures the retry coordinator.
type RetryConfig struct {
	MaxPerOrganization int           `yaml:"max_per_organization" mapstructure:"max_per_organization"`
	Cooldown           time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// BounceConfig configures the bounce monitor.
type BounceConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Lookback     time.Duration `yaml:"lookback" mapstructure:"lookback"`
}

// PipelineConfig configures the worker pool orchestrator.
type PipelineConfig struct {
	Workers      int           `yaml:"workers" mapstructure:"workers"`
	OrgTimeout   time.Duration `yaml:"org_timeout" mapstructure:"org_timeout"`
	RequeueLimit int           `yaml:"requeue_limit" mapstructure:"requeue_limit"`
}

// LookupConfig holds settings for the external email-discovery lookup.
type LookupConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// VerifyAPIConfig holds settings for the external verification API.
type VerifyAPIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MailboxConfig holds inbox feed connection settings.
type MailboxConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Folder  string `yaml:"folder" mapstructure:"folder"`
}

// ServerConfig configures the status API server.
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
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "outreach.db")
	v.SetDefault("generator.max_candidates", 8)
	v.SetDefault("generator.tlds", []string{".com", ".io", ".co", ".net"})
	v.SetDefault("verifier.dns_timeout", "5s")
	v.SetDefault("verifier.dns_max_attempts", 3)
	v.SetDefault("verifier.api_enabled", false)
	v.SetDefault("retry.max_per_organization", 2)
	v.SetDefault("retry.cooldown", "72h")
	v.SetDefault("bounce.poll_interval", "15m")
	v.SetDefault("bounce.lookback", "168h")
	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.org_timeout", "30s")
	v.SetDefault("pipeline.requeue_limit", 1)
	v.SetDefault("lookup.base_url", "https://api.hunter.io/v2")
	v.SetDefault("verify_api.base_url", "https://api.emailcheck.dev/v1")
	v.SetDefault("mailbox.base_url", "")
	v.SetDefault("mailbox.folder", "INBOX")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
