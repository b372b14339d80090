package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "SPARK"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "spark.db"
	defaultLogLevel      = "info"
	defaultTokenTTLMin   = 30
	defaultRedisTopic    = "spark:notifications"
	defaultAllowedOrigin = "*"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	SigningSecret string
	TokenTTL      time.Duration
	LogLevel      string
	AllowedOrigin string
	RedisAddress  string
	RedisTopic    string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMin)
	configViper.SetDefault("cors.allowed_origin", defaultAllowedOrigin)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.topic", defaultRedisTopic)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		LogLevel:      configViper.GetString("log.level"),
		AllowedOrigin: configViper.GetString("cors.allowed_origin"),
		RedisAddress:  configViper.GetString("redis.address"),
		RedisTopic:    configViper.GetString("redis.topic"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	return nil
}
