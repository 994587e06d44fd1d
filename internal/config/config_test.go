package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageDriver != StorageDriverJSON || cfg.StoragePath != defaultStoragePath {
		t.Fatalf("unexpected storage defaults %#v", cfg)
	}
	if cfg.CookieName != "wv-collab-token" {
		t.Fatalf("unexpected cookie name %s", cfg.CookieName)
	}
	if cfg.WriteTimeout != 30*time.Second {
		t.Fatalf("unexpected write timeout %v", cfg.WriteTimeout)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected token ttl %v", cfg.TokenTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:1234" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.LegacyBounds {
		t.Fatalf("expected conjunctive bounds by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("COLLABSTORE_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("COLLABSTORE_STORAGE_DRIVER", "SQLite")
	t.Setenv("COLLABSTORE_STORE_WRITE_TIMEOUT", "5s")
	t.Setenv("COLLABSTORE_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("COLLABSTORE_QUERY_LEGACY_BOUNDS", "true")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SigningSecret != "from-env" || cfg.StorageDriver != StorageDriverSQLite {
		t.Fatalf("expected env overrides, got %#v", cfg)
	}
	if cfg.WriteTimeout != 5*time.Second {
		t.Fatalf("unexpected write timeout %v", cfg.WriteTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if !cfg.LegacyBounds {
		t.Fatalf("expected legacy bounds from env")
	}
}

func TestLoadValidates(t *testing.T) {
	testCases := []struct {
		name    string
		values  map[string]any
		wantErr string
	}{
		{name: "missing secret", values: map[string]any{}, wantErr: "auth.signing_secret"},
		{name: "unknown driver", values: map[string]any{"auth.signing_secret": "s", "storage.driver": "redis"}, wantErr: "storage.driver"},
		{name: "empty files root", values: map[string]any{"auth.signing_secret": "s", "files.root": " "}, wantErr: "files.root"},
		{name: "zero ttl", values: map[string]any{"auth.signing_secret": "s", "auth.token_ttl_minutes": 0}, wantErr: "auth.token_ttl_minutes"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.values {
				configViper.Set(key, value)
			}
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", testCase.wantErr, err)
			}
		})
	}
}
