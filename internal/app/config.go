package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the QRVerify backend.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Verification VerificationConfig `mapstructure:"verification"`
	Terms        TermsConfig        `mapstructure:"terms"`
	Email        EmailConfig        `mapstructure:"email"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	BaseURL  string `mapstructure:"base_url"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures session and CSRF settings.
type AuthConfig struct {
	JWT  JWTSettings  `mapstructure:"jwt"`
	CSRF CSRFSettings `mapstructure:"csrf"`
}

// JWTSettings configures JWT access tokens for sessions.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// CSRFSettings configures the signed per-action CSRF tokens.
type CSRFSettings struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// VerificationConfig tunes the email verification token lifecycle.
type VerificationConfig struct {
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	ResendCooldown time.Duration `mapstructure:"resend_cooldown"`
	TokenBytes     int           `mapstructure:"token_bytes"`
}

// TermsConfig carries the live required terms version. Bumping it forces
// every user back through the acceptance gate.
type TermsConfig struct {
	CurrentVersion int `mapstructure:"current_version"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// MaintenanceConfig controls the retention cleaner.
type MaintenanceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Schedule       string        `mapstructure:"schedule"`
	TokenRetention time.Duration `mapstructure:"token_retention"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("QRVERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate enforces invariants that defaulting cannot express.
func (c *Config) Validate() error {
	if c.Terms.CurrentVersion < 1 {
		return errors.New("config: terms.current_version must be >= 1")
	}
	if c.Verification.TokenTTL <= 0 {
		return errors.New("config: verification.token_ttl must be positive")
	}
	if c.Verification.ResendCooldown < 0 {
		return errors.New("config: verification.resend_cooldown must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.base_url", "http://localhost:8000")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/qrverify.sqlite")

	v.SetDefault("auth.jwt.issuer", "qrverify")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.csrf.ttl", "2h")

	v.SetDefault("verification.token_ttl", "24h")
	v.SetDefault("verification.resend_cooldown", "90s")
	v.SetDefault("verification.token_bytes", 48)

	v.SetDefault("terms.current_version", 1)

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "0 3 * * *")
	v.SetDefault("maintenance.token_retention", "2160h") // 90 days
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Normalised trims and lowercases the free-form database fields.
func (c *DatabaseConfig) Normalised() DatabaseConfig {
	out := *c
	out.Driver = strings.ToLower(strings.TrimSpace(out.Driver))
	out.Path = strings.TrimSpace(out.Path)
	out.DSN = strings.TrimSpace(out.DSN)
	return out
}
