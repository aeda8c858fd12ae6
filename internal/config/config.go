package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	DatabasePath   string `mapstructure:"database_path"`
	APIPort        string `mapstructure:"api_port"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"` // text or json
	DataDir        string `mapstructure:"data_dir"`
	AttachmentsDir string `mapstructure:"attachments_dir"` // blob store root, empty means DataDir/attachments
	JWTSecret      string `mapstructure:"jwt_secret"`
	CORSOrigins    string `mapstructure:"cors_origins"` // comma separated, * means all

	SyncInterval time.Duration `mapstructure:"sync_interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	LogRetention time.Duration `mapstructure:"log_retention"` // activity log entries older than this are pruned at startup, zero keeps all

	IMAP  IMAPConfig  `mapstructure:"imap"`
	OAuth OAuthConfig `mapstructure:"oauth"`
}

// IMAPConfig describes the mailbox to ingest from
type IMAPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	UseTLS   bool   `mapstructure:"use_tls"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"` // used when no OAuth refresh token is configured
	Mailbox  string `mapstructure:"mailbox"`
}

// OAuthConfig holds the long-lived credential exchanged for IMAP access tokens
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RefreshToken string   `mapstructure:"refresh_token"`
	TokenURL     string   `mapstructure:"token_url"` // empty means Google's endpoint
	Scopes       []string `mapstructure:"scopes"`
}

// Default configuration values
const (
	DefaultDatabasePath = "data/mailkeeper.db"
	DefaultAPIPort      = "8080"
	DefaultLogLevel     = "INFO"
	DefaultLogFormat    = "text"
	DefaultDataDir      = "data"
	DefaultJWTSecret    = "mailkeeper-default-secret-change-in-production"
	DefaultCORSOrigins  = "*"
	DefaultSyncInterval = 15 * time.Minute
	DefaultStartupDelay = 10 * time.Second
	DefaultLogRetention = 30 * 24 * time.Hour
	DefaultIMAPHost     = "imap.gmail.com"
	DefaultIMAPPort     = 993
	DefaultMailbox      = "INBOX"
	DefaultOAuthScope   = "https://mail.google.com/"

	// EnvPrefix prefixes every environment override, e.g. MAILKEEPER_IMAP_HOST
	EnvPrefix = "MAILKEEPER"
)

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	return LoadFrom(".", DefaultDataDir)
}

// LoadFrom looks for config.{json,yaml,toml} in the given directories
func LoadFrom(paths ...string) (*Config, error) {
	v := newViper()
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("api_port", DefaultAPIPort)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("attachments_dir", "")
	v.SetDefault("jwt_secret", DefaultJWTSecret)
	v.SetDefault("cors_origins", DefaultCORSOrigins)
	v.SetDefault("sync_interval", DefaultSyncInterval)
	v.SetDefault("startup_delay", DefaultStartupDelay)
	v.SetDefault("log_retention", DefaultLogRetention)

	v.SetDefault("imap.host", DefaultIMAPHost)
	v.SetDefault("imap.port", DefaultIMAPPort)
	v.SetDefault("imap.use_tls", true)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.mailbox", DefaultMailbox)

	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.refresh_token", "")
	v.SetDefault("oauth.token_url", "")
	v.SetDefault("oauth.scopes", []string{DefaultOAuthScope})

	return v
}

// Validate rejects values the scheduler and transport cannot work with
func (c *Config) Validate() error {
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %v", c.SyncInterval)
	}
	if c.StartupDelay < 0 {
		return fmt.Errorf("startup_delay must not be negative, got %v", c.StartupDelay)
	}
	if c.IMAP.Port <= 0 {
		return fmt.Errorf("imap.port must be positive, got %d", c.IMAP.Port)
	}
	if c.IMAP.Mailbox == "" {
		c.IMAP.Mailbox = DefaultMailbox
	}
	return nil
}

// GetAttachmentsDir returns the blob store root
// If AttachmentsDir is set, use it; otherwise use DataDir/attachments
func (c *Config) GetAttachmentsDir() string {
	if c.AttachmentsDir != "" {
		return c.AttachmentsDir
	}
	return filepath.Join(c.DataDir, "attachments")
}

// UsesOAuth reports whether IMAP authentication goes through XOAUTH2
func (c *Config) UsesOAuth() bool {
	return c.OAuth.RefreshToken != ""
}

// GetCORSOrigins splits the configured origin list
func (c *Config) GetCORSOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
