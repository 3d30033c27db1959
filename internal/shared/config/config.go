package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Enhance  EnhanceConfig  `mapstructure:"enhance"`
	Pedra    PedraConfig    `mapstructure:"pedra"`
	Vance    VanceConfig    `mapstructure:"vance"`
	Credits  CreditsConfig  `mapstructure:"credits"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
	ResetTokenExpiry  time.Duration `mapstructure:"reset_token_expiry"`
	Issuer            string        `mapstructure:"issuer"`
	// LogResetTokens writes password reset tokens to the debug log. Local use only.
	LogResetTokens bool `mapstructure:"log_reset_tokens"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// EnhanceConfig holds orchestration settings for the enhancement path.
type EnhanceConfig struct {
	Provider string `mapstructure:"provider"`
	// Modes sends a mode to a provider other than Provider.
	Modes                map[string]string `mapstructure:"modes"`
	Guests               map[string]bool   `mapstructure:"guests"`
	PersistRemoteResults bool              `mapstructure:"persist_remote_results"`
	BatchConcurrency     int               `mapstructure:"batch_concurrency"`
	MaxBatchSize         int               `mapstructure:"max_batch_size"`
	JobTimeout           time.Duration     `mapstructure:"job_timeout"`
	RateLimit            int               `mapstructure:"rate_limit"`
	RateLimitWindow      time.Duration     `mapstructure:"rate_limit_window"`
	BreakerFailures      uint32            `mapstructure:"breaker_failures"`
	BreakerTimeout       time.Duration     `mapstructure:"breaker_timeout"`
}

// PedraConfig holds the synchronous prompt-edit provider configuration.
type PedraConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	StandardPrompt string        `mapstructure:"standard_prompt"`
}

// VanceConfig holds the asynchronous job provider configuration.
type VanceConfig struct {
	APIKey       string                    `mapstructure:"api_key"`
	BaseURL      string                    `mapstructure:"base_url"`
	Timeout      time.Duration             `mapstructure:"timeout"`
	PollInterval time.Duration             `mapstructure:"poll_interval"`
	MaxPolls     int                       `mapstructure:"max_polls"`
	MaxAttempts  int                       `mapstructure:"max_attempts"`
	BackoffStep  time.Duration             `mapstructure:"backoff_step"`
	Jobs         map[string]VanceJobConfig `mapstructure:"jobs"`
}

// VanceJobConfig is a named processing configuration sent as jconfig.
type VanceJobConfig struct {
	Name        string         `mapstructure:"name"`
	Module      string         `mapstructure:"module"`
	Params      map[string]any `mapstructure:"params"`
	PromptParam string         `mapstructure:"prompt_param"`
}

// CreditsConfig holds ledger settings.
type CreditsConfig struct {
	SignupGrant         int           `mapstructure:"signup_grant"`
	ReconcileInterval   time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatch      int           `mapstructure:"reconcile_batch"`
	ReconcileMaxAttempt int           `mapstructure:"reconcile_max_attempts"`
}

// StripeConfig holds checkout configuration.
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	SuccessURL    string `mapstructure:"success_url"`
	CancelURL     string `mapstructure:"cancel_url"`
}

// HTTPConfig holds outbound HTTP client configuration.
type HTTPConfig struct {
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/homeglow")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("HOMEGLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applySecretOverrides(&cfg)

	return &cfg, nil
}

// applySecretOverrides reads sensitive values that are never kept in files.
func applySecretOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"HOMEGLOW_JWT_SECRET", &cfg.Auth.JWTSecret},
		{"HOMEGLOW_DB_PASSWORD", &cfg.Database.Password},
		{"HOMEGLOW_REDIS_PASSWORD", &cfg.Redis.Password},
		{"HOMEGLOW_STORAGE_SECRET_KEY", &cfg.Storage.SecretAccessKey},
		{"HOMEGLOW_PEDRA_API_KEY", &cfg.Pedra.APIKey},
		{"HOMEGLOW_VANCE_API_KEY", &cfg.Vance.APIKey},
		{"HOMEGLOW_STRIPE_SECRET_KEY", &cfg.Stripe.SecretKey},
		{"HOMEGLOW_STRIPE_WEBHOOK_SECRET", &cfg.Stripe.WebhookSecret},
	}
	for _, o := range overrides {
		if val := os.Getenv(o.env); val != "" {
			*o.target = val
		}
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 12*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.max_upload_mb", 25)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "homeglow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.access_token_expiry", 24*time.Hour)
	v.SetDefault("auth.reset_token_expiry", 30*time.Minute)
	v.SetDefault("auth.issuer", "homeglow")
	v.SetDefault("auth.log_reset_tokens", false)

	// Storage defaults
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.bucket", "temp-uploads")
	v.SetDefault("storage.use_path_style", true)

	// Enhancement defaults
	v.SetDefault("enhance.provider", "vance")
	v.SetDefault("enhance.modes", map[string]string{"magic": "pedra"})
	v.SetDefault("enhance.guests", map[string]bool{"pedra": false, "vance": true})
	v.SetDefault("enhance.persist_remote_results", true)
	v.SetDefault("enhance.batch_concurrency", 4)
	v.SetDefault("enhance.max_batch_size", 20)
	v.SetDefault("enhance.job_timeout", 11*time.Minute)
	v.SetDefault("enhance.rate_limit", 30)
	v.SetDefault("enhance.rate_limit_window", time.Minute)
	v.SetDefault("enhance.breaker_failures", 5)
	v.SetDefault("enhance.breaker_timeout", 30*time.Second)

	// Pedra defaults
	v.SetDefault("pedra.base_url", "https://app.pedra.ai/api")
	v.SetDefault("pedra.timeout", 60*time.Second)
	v.SetDefault("pedra.standard_prompt", "enhance, fix perspective and make HD")

	// Vance defaults
	v.SetDefault("vance.base_url", "https://api-service.vanceai.com/web_api/v1")
	v.SetDefault("vance.timeout", 60*time.Second)
	v.SetDefault("vance.poll_interval", 2*time.Second)
	v.SetDefault("vance.max_polls", 300)
	v.SetDefault("vance.max_attempts", 3)
	v.SetDefault("vance.backoff_step", 2*time.Second)
	v.SetDefault("vance.jobs", map[string]any{
		"standard": map[string]any{
			"name":   "enlarge",
			"module": "enlarge",
			"params": map[string]any{
				"model_name":     "EnlargeStable",
				"scale":          "4x",
				"suppress_noise": 26,
				"remove_blur":    26,
			},
		},
	})

	// Credits defaults
	v.SetDefault("credits.signup_grant", 0)
	v.SetDefault("credits.reconcile_interval", 5*time.Minute)
	v.SetDefault("credits.reconcile_batch", 50)
	v.SetDefault("credits.reconcile_max_attempts", 10)

	// Stripe defaults
	v.SetDefault("stripe.success_url", "/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("stripe.cancel_url", "/pricing")

	// Outbound HTTP defaults
	v.SetDefault("http.dial_timeout", 10*time.Second)
	v.SetDefault("http.keep_alive", 30*time.Second)
	v.SetDefault("http.max_idle_conns", 100)
	v.SetDefault("http.max_idle_conns_per_host", 10)
	v.SetDefault("http.idle_conn_timeout", 90*time.Second)
	v.SetDefault("http.tls_handshake_timeout", 10*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
