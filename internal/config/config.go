// Package config loads process configuration and resolves runtime settings.
//
// SOURCES, lowest precedence first:
//  1. built-in defaults
//  2. an optional YAML file (--config)
//  3. a .env file in the working directory, if present
//  4. real environment variables (JWT_SECRET, GITHUB_CLIENT_ID, ...)
//
// Some settings can also be edited by the blog owner at runtime. Those live in
// the options table and are merged in by Resolver, never read ad hoc.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process-level configuration.
type Config struct {
	Port          int    `mapstructure:"port"`
	DBPath        string `mapstructure:"db_path"`
	PublicURL     string `mapstructure:"public_url"`
	FrontendURL   string `mapstructure:"frontend_url"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	SecureCookies bool   `mapstructure:"secure_cookies"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`

	GitHubClientID     string `mapstructure:"github_client_id"`
	GitHubClientSecret string `mapstructure:"github_client_secret"`
	GitHubCallbackURL  string `mapstructure:"github_callback_url"`
	QQBrokerURL        string `mapstructure:"qq_broker_url"`
	QQCallbackURL      string `mapstructure:"qq_callback_url"`

	RevalidateURL    string `mapstructure:"revalidate_url"`
	RevalidateSecret string `mapstructure:"revalidate_secret"`
	RevalidateSalt   string `mapstructure:"revalidate_salt"`

	AMQPURL        string `mapstructure:"amqp_url"`
	ChangeExchange string `mapstructure:"change_exchange"`
	ChangeQueue    string `mapstructure:"change_queue"`

	CacheCapacity int           `mapstructure:"cache_capacity"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`

	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	CommentRate     int           `mapstructure:"comment_rate"`
	CommentRateSpan time.Duration `mapstructure:"comment_rate_window"`

	ReviewDurable bool `mapstructure:"review_durable"`
	ReviewWorkers int  `mapstructure:"review_workers"`

	TurnstileSecret string `mapstructure:"turnstile_secret"`

	OpenAIEndpoint string `mapstructure:"openai_endpoint"`
	OpenAIKey      string `mapstructure:"openai_key"`
	OpenAIModel    string `mapstructure:"openai_model"`
}

var defaults = map[string]any{
	"port":                 8080,
	"db_path":              "data/blogcore.db",
	"public_url":           "http://localhost:8080",
	"frontend_url":         "http://localhost:3000",
	"jwt_secret":           "",
	"secure_cookies":       true,
	"log_level":            "info",
	"log_format":           "text",
	"github_client_id":     "",
	"github_client_secret": "",
	"github_callback_url":  "",
	"qq_broker_url":        "https://api-space.tnxg.top",
	"qq_callback_url":      "",
	"revalidate_url":       "",
	"revalidate_secret":    "",
	"revalidate_salt":      "",
	"amqp_url":             "",
	"change_exchange":      "content.changes",
	"change_queue":         "blogcore.cache",
	"cache_capacity":       1000,
	"cache_ttl":            5 * time.Minute,
	"redis_addr":           "",
	"redis_password":       "",
	"redis_db":             0,
	"comment_rate":         5,
	"comment_rate_window":  time.Minute,
	"review_durable":       false,
	"review_workers":       4,
	"turnstile_secret":     "",
	"openai_endpoint":      "",
	"openai_key":           "",
	"openai_model":         "gpt-4o-mini",
}

// Load reads configuration from defaults, the optional file at path, .env and
// the environment, then validates it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	cfg.fillDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fillDerived computes values that default from other values.
func (c *Config) fillDerived() {
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")
	if c.GitHubCallbackURL == "" {
		c.GitHubCallbackURL = c.PublicURL + "/auth/github/callback"
	}
	if c.QQCallbackURL == "" {
		c.QQCallbackURL = c.PublicURL + "/auth/qq/callback"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("config: cache_capacity must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: cache_ttl must be positive")
	}
	if c.RevalidateURL != "" && c.RevalidateSecret == "" {
		return errors.New("config: REVALIDATE_SECRET is required when REVALIDATE_URL is set")
	}
	if c.ReviewWorkers <= 0 {
		return fmt.Errorf("config: review_workers must be positive")
	}
	return nil
}
