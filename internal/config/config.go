package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "COLLABSTORE"
	defaultHTTPAddress     = "0.0.0.0:3000"
	defaultStorageDriver   = StorageDriverJSON
	defaultStoragePath     = "data/database.json"
	defaultDatabasePath    = "data/collabstore.db"
	defaultFilesRoot       = "data/files"
	defaultLogLevel        = "info"
	defaultCookieName      = "wv-collab-token"
	defaultTokenTTLMinutes = 24 * 60
	defaultWriteTimeout    = 30 * time.Second
	defaultAllowedOrigins  = "http://localhost:1234"
)

const (
	StorageDriverJSON   = "json"
	StorageDriverSQLite = "sqlite"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	StorageDriver  string
	StoragePath    string
	DatabasePath   string
	FilesRoot      string
	SigningSecret  string
	CookieName     string
	TokenTTL       time.Duration
	SecureCookies  bool
	WriteTimeout   time.Duration
	LegacyBounds   bool
	AllowedOrigins []string
	LogLevel       string
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
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("storage.path", defaultStoragePath)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("files.root", defaultFilesRoot)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.secure_cookies", false)
	configViper.SetDefault("store.write_timeout", defaultWriteTimeout)
	configViper.SetDefault("query.legacy_bounds", false)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		StorageDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		StoragePath:    configViper.GetString("storage.path"),
		DatabasePath:   configViper.GetString("database.path"),
		FilesRoot:      configViper.GetString("files.root"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		CookieName:     configViper.GetString("auth.cookie_name"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		SecureCookies:  configViper.GetBool("auth.secure_cookies"),
		WriteTimeout:   configViper.GetDuration("store.write_timeout"),
		LegacyBounds:   configViper.GetBool("query.legacy_bounds"),
		AllowedOrigins: splitList(configViper.GetStringSlice("cors.allowed_origins")),
		LogLevel:       configViper.GetString("log.level"),
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
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	switch c.StorageDriver {
	case StorageDriverJSON:
		if strings.TrimSpace(c.StoragePath) == "" {
			return fmt.Errorf("storage.path is required")
		}
	case StorageDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", StorageDriverJSON, StorageDriverSQLite, c.StorageDriver)
	}
	if strings.TrimSpace(c.FilesRoot) == "" {
		return fmt.Errorf("files.root is required")
	}
	return nil
}

// splitList accepts both list values and comma-separated env strings.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
