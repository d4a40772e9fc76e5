package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server ServerConfig   `mapstructure:"server"`
	DB     DatabaseConfig `mapstructure:"database"`
	JWT    JWTConfig      `mapstructure:"jwt"`
	Crypto CryptoConfig   `mapstructure:"crypto"`
	Core   CoreConfig     `mapstructure:"core"`
	CORS   CORSConfig     `mapstructure:"cors"`
	Admin  AdminConfig    `mapstructure:"admin"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

type JWTConfig struct {
	PrivateKey    string        `mapstructure:"private_key"` // Base64-encoded PEM
	PublicKey     string        `mapstructure:"public_key"`  // Base64-encoded PEM
	AccessExpiry  time.Duration `mapstructure:"access_expiry"`
	RefreshExpiry time.Duration `mapstructure:"refresh_expiry"`
	Issuer        string        `mapstructure:"issuer"`
}

type CryptoConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"` // 64-char hex string
}

// CoreConfig configures the single remote Core endpoint this repository's
// ConnectionToCore dials, plus the timeouts spec.md §4.2 requires at the
// controller boundary (dial/connect timeout, default per-request timeout).
type CoreConfig struct {
	HostURL          string        `mapstructure:"host_url"`
	AuthToken        string        `mapstructure:"auth_token"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	AutoConnectOnRun bool          `mapstructure:"auto_connect_on_run"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// AdminConfig seeds the one bootstrap operator account this repository
// provisions out of band (there is no self-service registration endpoint).
// Left blank, no account is seeded and an operator must insert one directly.
type AdminConfig struct {
	BootstrapEmail    string `mapstructure:"bootstrap_email"`
	BootstrapPassword string `mapstructure:"bootstrap_password"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 3200)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("jwt.access_expiry", 15*time.Minute)
	v.SetDefault("jwt.refresh_expiry", 7*24*time.Hour)
	v.SetDefault("jwt.issuer", "corebridge")

	v.SetDefault("core.connect_timeout", 30*time.Second)
	v.SetDefault("core.request_timeout", 30*time.Second)
	v.SetDefault("core.auto_connect_on_run", true)

	v.SetDefault("cors.allow_origins", []string{"http://localhost:3000", "http://localhost:3100"})

	// Env mapping
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map environment variables to config keys
	envMap := map[string]string{
		"database.url":             "DATABASE_URL",
		"jwt.private_key":          "JWT_PRIVATE_KEY",
		"jwt.public_key":           "JWT_PUBLIC_KEY",
		"jwt.issuer":               "JWT_ISSUER",
		"crypto.encryption_key":    "ENCRYPTION_KEY",
		"core.host_url":            "CORE_HOST_URL",
		"core.auth_token":          "CORE_AUTH_TOKEN",
		"server.port":              "PORT",
		"server.mode":              "GIN_MODE",
		"admin.bootstrap_email":    "ADMIN_BOOTSTRAP_EMAIL",
		"admin.bootstrap_password": "ADMIN_BOOTSTRAP_PASSWORD",
	}

	for key, env := range envMap {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if cfg.DB.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWT.PrivateKey == "" || cfg.JWT.PublicKey == "" {
		return nil, fmt.Errorf("JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required")
	}
	if cfg.Crypto.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.Core.HostURL == "" {
		return nil, fmt.Errorf("CORE_HOST_URL is required")
	}

	return &cfg, nil
}
