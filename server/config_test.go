package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mikey73/onecareer/directory"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func testClientConfigs() []directory.ClientConfig {
	return []directory.ClientConfig{{
		ClientID:     "test",
		ClientSecret: "secret",
		RedirectURIs: []string{"http://localhost/callback"},
	}}
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  dev_mode: true
oauth2_clients:
  - client_id: web
    client_secret: s3cret
    redirect_uris: ["http://localhost/callback"]
    scopes: ["read", "write"]
`)

	t.Setenv("ONECAREER_SERVER_PUBLIC_URL", "https://auth.example.com")
	t.Setenv("ONECAREER_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("ONECAREER_OAUTH_ACCESS_TOKEN_TTL", "15m")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Server.PublicURL != "https://auth.example.com" {
		t.Fatalf("PublicURL override mismatch, got %q", cfg.Server.PublicURL)
	}
	if cfg.Storage.RedisURL != "redis://cache:6379/2" {
		t.Fatalf("RedisURL override mismatch, got %q", cfg.Storage.RedisURL)
	}
	if cfg.OAuth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("AccessTokenTTL override mismatch, got %s", cfg.OAuth.AccessTokenTTL)
	}
	if cfg.OAuth.CodeTTL != 60*time.Second {
		t.Fatalf("CodeTTL default lost, got %s", cfg.OAuth.CodeTTL)
	}
	if len(cfg.OAuth2Clients) != 1 || cfg.OAuth2Clients[0].Scopes[1] != "write" {
		t.Fatalf("clients not decoded: %+v", cfg.OAuth2Clients)
	}
}

func TestLoadConfigKeepsFileValuesWithoutEnv(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:9090
  dev_mode: true
rate_limit:
  headers: false
  login:
    limit: 3
    period: 10s
oauth2_clients:
  - client_id: web
    client_secret: s3cret
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Server.PublicURL != "http://localhost:9090" {
		t.Fatalf("PublicURL mismatch, got %q", cfg.Server.PublicURL)
	}
	if cfg.RateLimit.Headers {
		t.Fatalf("expected headers disabled")
	}
	if cfg.RateLimit.Login.Limit != 3 || cfg.RateLimit.Login.Period != 10*time.Second {
		t.Fatalf("login limit mismatch: %+v", cfg.RateLimit.Login)
	}
	if cfg.RateLimit.Global.Limit != 600 {
		t.Fatalf("global limit default lost: %+v", cfg.RateLimit.Global)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `server:
  public_url: http://localhost:8080
  dev_mode: true
  unknown_field: value
oauth2_clients:
  - client_id: web
    client_secret: s3cret
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected error for unknown field")
	}
	if !containsAny(err.Error(), []string{"unknown_field", "not found", "field"}) {
		t.Fatalf("error should mention unknown field, got: %v", err)
	}
}

func TestLoadConfigIgnoresCommentLines(t *testing.T) {
	path := writeConfig(t, `# onecareer
server:
  # public_url: http://ignored
  public_url: http://localhost:8080
oauth2_clients:
  - client_id: web
    client_secret: s3cret
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Server.PublicURL != "http://localhost:8080" {
		t.Fatalf("PublicURL mismatch, got %q", cfg.Server.PublicURL)
	}
}

func TestConfigValidateRequiresClient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OAuth2Clients = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when no oauth2_clients configured")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateProductionRequirements(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.Server.DevMode = false
		cfg.Server.TLS.Domains = []string{"auth.example.com"}
		cfg.Storage.RedisURL = "redis://localhost:6379/0"
		cfg.Storage.DatabaseURL = "postgres://localhost/onecareer"
		cfg.Accounts.VerificationSecret = "prod-secret"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("complete production config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no_domains", func(c *Config) { c.Server.TLS.Domains = nil }, "tls.domains"},
		{"no_redis", func(c *Config) { c.Storage.RedisURL = "" }, "redis_url"},
		{"no_database", func(c *Config) { c.Storage.DatabaseURL = "" }, "database_url"},
		{"dev_secret", func(c *Config) { c.Accounts.VerificationSecret = devVerificationSecret }, "verification_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestConfigValidationErrorMessages(t *testing.T) {
	tests := []struct {
		name          string
		setupConfig   func(*Config)
		expectedError []string
	}{
		{
			name: "missing_public_url",
			setupConfig: func(c *Config) {
				c.Server.PublicURL = ""
			},
			expectedError: []string{"public_url", "required"},
		},
		{
			name: "invalid_public_url_format",
			setupConfig: func(c *Config) {
				c.Server.PublicURL = "localhost:8080"
			},
			expectedError: []string{"http://", "https://"},
		},
		{
			name: "invalid_tls_version",
			setupConfig: func(c *Config) {
				c.Server.TLS.MinVersion = "1.0"
			},
			expectedError: []string{"1.2", "1.3"},
		},
		{
			name: "missing_oauth2_client_id",
			setupConfig: func(c *Config) {
				c.OAuth2Clients = []directory.ClientConfig{{ClientSecret: "x"}}
			},
			expectedError: []string{"client_id"},
		},
		{
			name: "missing_oauth2_client_secret",
			setupConfig: func(c *Config) {
				c.OAuth2Clients = []directory.ClientConfig{{ClientID: "web"}}
			},
			expectedError: []string{"client_secret"},
		},
		{
			name: "invalid_redirect_uri",
			setupConfig: func(c *Config) {
				c.OAuth2Clients = testClientConfigs()
				c.OAuth2Clients[0].RedirectURIs = []string{"javascript:alert(1)"}
			},
			expectedError: []string{"redirect_uri", "http://", "https://"},
		},
		{
			name: "negative_rate_limit",
			setupConfig: func(c *Config) {
				c.RateLimit.Login.Limit = -1
			},
			expectedError: []string{"rate_limit.login.limit"},
		},
		{
			name: "sub_second_period",
			setupConfig: func(c *Config) {
				c.RateLimit.Global.Period = 500 * time.Millisecond
			},
			expectedError: []string{"rate_limit.global.period"},
		},
		{
			name: "negative_ttl",
			setupConfig: func(c *Config) {
				c.OAuth.CodeTTL = -time.Second
			},
			expectedError: []string{"ttl"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setupConfig(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !containsAny(err.Error(), tt.expectedError) {
				t.Errorf("error should contain one of %v, got: %v", tt.expectedError, err)
			}
		})
	}
}

func TestInferCORSOrigins(t *testing.T) {
	cfg := Config{
		OAuth2Clients: []directory.ClientConfig{
			{RedirectURIs: []string{"http://localhost:3000/callback", "http://localhost:3001/auth"}},
			{RedirectURIs: []string{"https://app.example.com/callback", "http://localhost:3000/other"}},
		},
	}

	got := cfg.InferCORSOrigins()
	want := []string{"http://localhost:3000", "http://localhost:3001", "https://app.example.com"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("origin %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestExtractOrigin(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"http_with_path", "http://localhost:3000/callback", "http://localhost:3000"},
		{"https_with_port", "https://example.com:8443/api/v1", "https://example.com:8443"},
		{"wildcard", "*", ""},
		{"empty", "", ""},
		{"no_scheme", "localhost:3000/callback", ""},
		{"ipv4_address", "http://127.0.0.1:3000/callback", "http://127.0.0.1:3000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if origin := extractOrigin(tt.url); origin != tt.expected {
				t.Errorf("extractOrigin(%q) = %q, expected %q", tt.url, origin, tt.expected)
			}
		})
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if substr != "" && strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
