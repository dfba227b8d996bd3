package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                     = "JOTTER"
	defaultHTTPAddress            = "0.0.0.0:8080"
	defaultClientURL              = "http://localhost:5173"
	defaultLoginURL               = "http://localhost:5173/login"
	defaultDatabasePath           = "jotter.db"
	defaultLogLevel               = "info"
	defaultLogFormat              = "json"
	defaultCookieName             = "jotter_session"
	defaultSessionTTL             = 24 * time.Hour
	defaultSessionCleanupInterval = 15 * time.Minute
	defaultRedisAddress           = "localhost:6379"
	defaultGoogleJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultRequestsPerMinute      = 120
	defaultRequestBurst           = 30

	// SessionStoreDatabase keeps sessions in the SQLite database.
	SessionStoreDatabase = "database"
	// SessionStoreRedis keeps sessions in Redis.
	SessionStoreRedis = "redis"
)

// OAuthClientConfig holds the credentials of a single OAuth provider.
type OAuthClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether the provider has been configured.
func (c OAuthClientConfig) Enabled() bool {
	return strings.TrimSpace(c.ClientID) != ""
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress            string
	ClientURL              string
	LoginURL               string
	DatabasePath           string
	LogLevel               string
	LogFormat              string
	SessionCookieName      string
	SessionCookieSecure    bool
	SessionTTL             time.Duration
	SessionStore           string
	SessionCleanupInterval time.Duration
	RedisAddress           string
	RedisPassword          string
	RedisDB                int
	OAuthStateSecret       string
	Google                 OAuthClientConfig
	GoogleJWKSURL          string
	GitHub                 OAuthClientConfig
	RequestsPerMinute      int
	RequestBurst           int
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
	configViper.SetDefault("http.client_url", defaultClientURL)
	configViper.SetDefault("http.login_url", defaultLoginURL)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.cookie_secure", false)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("session.store", SessionStoreDatabase)
	configViper.SetDefault("session.cleanup_interval", defaultSessionCleanupInterval)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("oauth.state_secret", "")
	configViper.SetDefault("google.client_id", "")
	configViper.SetDefault("google.client_secret", "")
	configViper.SetDefault("google.redirect_url", "")
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("github.client_id", "")
	configViper.SetDefault("github.client_secret", "")
	configViper.SetDefault("github.redirect_url", "")
	configViper.SetDefault("ratelimit.requests_per_minute", defaultRequestsPerMinute)
	configViper.SetDefault("ratelimit.burst", defaultRequestBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:            configViper.GetString("http.address"),
		ClientURL:              strings.TrimRight(strings.TrimSpace(configViper.GetString("http.client_url")), "/"),
		LoginURL:               strings.TrimSpace(configViper.GetString("http.login_url")),
		DatabasePath:           configViper.GetString("database.path"),
		LogLevel:               configViper.GetString("log.level"),
		LogFormat:              configViper.GetString("log.format"),
		SessionCookieName:      strings.TrimSpace(configViper.GetString("session.cookie_name")),
		SessionCookieSecure:    configViper.GetBool("session.cookie_secure"),
		SessionTTL:             configViper.GetDuration("session.ttl"),
		SessionStore:           strings.ToLower(strings.TrimSpace(configViper.GetString("session.store"))),
		SessionCleanupInterval: configViper.GetDuration("session.cleanup_interval"),
		RedisAddress:           configViper.GetString("redis.address"),
		RedisPassword:          configViper.GetString("redis.password"),
		RedisDB:                configViper.GetInt("redis.db"),
		OAuthStateSecret:       configViper.GetString("oauth.state_secret"),
		Google: OAuthClientConfig{
			ClientID:     configViper.GetString("google.client_id"),
			ClientSecret: configViper.GetString("google.client_secret"),
			RedirectURL:  configViper.GetString("google.redirect_url"),
		},
		GoogleJWKSURL: configViper.GetString("google.jwks_url"),
		GitHub: OAuthClientConfig{
			ClientID:     configViper.GetString("github.client_id"),
			ClientSecret: configViper.GetString("github.client_secret"),
			RedirectURL:  configViper.GetString("github.redirect_url"),
		},
		RequestsPerMinute: configViper.GetInt("ratelimit.requests_per_minute"),
		RequestBurst:      configViper.GetInt("ratelimit.burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.OAuthStateSecret) == "" {
		return fmt.Errorf("oauth.state_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SessionCookieName == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	switch c.SessionStore {
	case SessionStoreDatabase:
	case SessionStoreRedis:
		if strings.TrimSpace(c.RedisAddress) == "" {
			return fmt.Errorf("redis.address is required for the redis session store")
		}
	default:
		return fmt.Errorf("session.store %q is not supported", c.SessionStore)
	}
	if c.ClientURL == "" {
		return fmt.Errorf("http.client_url is required")
	}
	if c.LoginURL == "" {
		return fmt.Errorf("http.login_url is required")
	}
	if !c.Google.Enabled() && !c.GitHub.Enabled() {
		return fmt.Errorf("at least one identity provider must be configured")
	}
	if c.Google.Enabled() && strings.TrimSpace(c.Google.RedirectURL) == "" {
		return fmt.Errorf("google.redirect_url is required")
	}
	if c.GitHub.Enabled() && strings.TrimSpace(c.GitHub.RedirectURL) == "" {
		return fmt.Errorf("github.redirect_url is required")
	}
	if c.RequestsPerMinute <= 0 || c.RequestBurst <= 0 {
		return fmt.Errorf("ratelimit values must be positive")
	}
	return nil
}
