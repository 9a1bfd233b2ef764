package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "AGENTDESK"
	configPathEnv  = "AGENTDESK_CONFIG"
	defaultCfgFile = "config.json"

	maxHistoryLimit = 10
)

// Failure policies for the pipeline.
const (
	QuotaFailOpen   = "open"
	QuotaFailClosed = "closed"

	CompletionFallbackText = "fallback_text"
	CompletionPropagate    = "propagate"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Pipeline    PipelineConfig            `mapstructure:"pipeline"`
	Gateway     GatewayConfig             `mapstructure:"gateway"`
	Auth        AuthConfig                `mapstructure:"auth"`
	NATS        NATSConfig                `mapstructure:"nats"`
	Reports     ReportsConfig             `mapstructure:"reports"`
}

type BasicConfig struct {
	ServerAddress string `mapstructure:"server_address"`
	// Database selects the entry of Databases to open: sqlite3, mysql or postgres.
	Database      string `mapstructure:"database"`
	LogLevel      string `mapstructure:"log_level"`
	EncryptionKey string `mapstructure:"encryption_key"`
	DiagnosticCap int    `mapstructure:"diagnostics_capacity"`
}

type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
}

// PipelineConfig tunes the inbound message pipeline.
type PipelineConfig struct {
	Provider                string  `mapstructure:"provider"`
	HistoryLimit            int     `mapstructure:"history_limit"`
	DefaultMonthlyLimit     int     `mapstructure:"default_monthly_limit"`
	QuotaFailurePolicy      string  `mapstructure:"quota_failure_policy"`
	CompletionFailurePolicy string  `mapstructure:"completion_failure_policy"`
	FallbackReply           string  `mapstructure:"fallback_reply"`
	DefaultSystemPrompt     string  `mapstructure:"default_system_prompt"`
	DedupeTTLMinutes        int     `mapstructure:"dedupe_ttl_minutes"`
	LockTTLSeconds          int     `mapstructure:"lock_ttl_seconds"`
	RateLimitPerSecond      float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst          int     `mapstructure:"rate_limit_burst"`
}

type GatewayConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	CronSecret string `mapstructure:"cron_secret"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type ReportsConfig struct {
	Schedule  string `mapstructure:"schedule"`
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
}

// Load reads configuration from the provided path (defaults to $AGENTDESK_CONFIG or
// config.json). A missing default file is not an error: defaults and environment
// variables are used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv(configPathEnv)
		explicit = path != ""
	}
	if path == "" {
		path = defaultCfgFile
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if _, statErr := os.Stat(absPath); statErr == nil {
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
	} else if explicit || !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("open config %s: %w", absPath, statErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.database", "sqlite3")
	v.SetDefault("basic_config.log_level", "info")
	v.SetDefault("basic_config.encryption_key", "")
	v.SetDefault("basic_config.diagnostics_capacity", 100)
	v.SetDefault("databases.sqlite3.dsn", "data/agentdesk.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("providers.openai.model", "gpt-3.5-turbo")
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("pipeline.provider", "openai")
	v.SetDefault("pipeline.history_limit", 10)
	v.SetDefault("pipeline.default_monthly_limit", 100)
	v.SetDefault("pipeline.quota_failure_policy", QuotaFailOpen)
	v.SetDefault("pipeline.completion_failure_policy", CompletionFallbackText)
	v.SetDefault("pipeline.fallback_reply", "Desculpe, ocorreu um erro ao processar sua mensagem. Por favor, tente novamente mais tarde.")
	v.SetDefault("pipeline.default_system_prompt", "Você é um assistente útil e prestativo.")
	v.SetDefault("pipeline.dedupe_ttl_minutes", 24*60)
	v.SetDefault("pipeline.lock_ttl_seconds", 10)
	v.SetDefault("pipeline.rate_limit_per_second", 0)
	v.SetDefault("pipeline.rate_limit_burst", 20)
	v.SetDefault("gateway.timeout_seconds", 30)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.cron_secret", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "agentdesk")
	v.SetDefault("reports.schedule", "5 0 * * *")
	v.SetDefault("reports.workers", 4)
	v.SetDefault("reports.queue_size", 64)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Conventional names used by the deployment secrets.
	_ = v.BindEnv("basic_config.encryption_key", "AGENTDESK_ENCRYPTION_KEY", "ENCRYPTION_KEY")
	_ = v.BindEnv("providers.openai.api_key", "AGENTDESK_PROVIDERS_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("auth.jwt_secret", "AGENTDESK_AUTH_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("auth.cron_secret", "AGENTDESK_AUTH_CRON_SECRET", "CRON_SECRET")
}

func (c *Config) normalize(baseDir string) error {
	c.BasicConfig.Database = strings.ToLower(strings.TrimSpace(c.BasicConfig.Database))
	dbCfg, ok := c.Databases[c.BasicConfig.Database]
	if !ok {
		return fmt.Errorf("database config for %s not found", c.BasicConfig.Database)
	}
	if c.BasicConfig.Database == "sqlite3" || c.BasicConfig.Database == "sqlite" {
		if dbCfg.DSN == "" {
			return errors.New("sqlite dsn must be configured")
		}
		if dbCfg.DSN != ":memory:" && !strings.HasPrefix(dbCfg.DSN, "file:") && !filepath.IsAbs(dbCfg.DSN) {
			dbCfg.DSN = filepath.Join(baseDir, dbCfg.DSN)
			c.Databases[c.BasicConfig.Database] = dbCfg
		}
	}

	switch c.Pipeline.QuotaFailurePolicy {
	case QuotaFailOpen, QuotaFailClosed:
	default:
		return fmt.Errorf("invalid quota_failure_policy %q", c.Pipeline.QuotaFailurePolicy)
	}
	switch c.Pipeline.CompletionFailurePolicy {
	case CompletionFallbackText, CompletionPropagate:
	default:
		return fmt.Errorf("invalid completion_failure_policy %q", c.Pipeline.CompletionFailurePolicy)
	}
	if c.Pipeline.HistoryLimit <= 0 || c.Pipeline.HistoryLimit > maxHistoryLimit {
		c.Pipeline.HistoryLimit = maxHistoryLimit
	}
	if c.Reports.Workers <= 0 {
		c.Reports.Workers = 1
	}
	if c.Reports.QueueSize <= 0 {
		c.Reports.QueueSize = 64
	}
	return nil
}

// Provider returns the settings of the configured completion provider.
func (c *Config) Provider() (string, ProviderConfig, error) {
	name := strings.ToLower(strings.TrimSpace(c.Pipeline.Provider))
	provCfg, ok := c.Providers[name]
	if !ok {
		return "", ProviderConfig{}, fmt.Errorf("provider %s not configured", name)
	}
	return name, provCfg, nil
}
