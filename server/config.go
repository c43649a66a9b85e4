package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/mikey73/onecareer/directory"
	"github.com/mikey73/onecareer/oauth"
)

// Hardcoded CORS defaults
var (
	DefaultCORSAllowedHeaders = []string{"Authorization", "Content-Type"}
	DefaultCORSAllowedMethods = []string{"GET", "POST", "OPTIONS"}
)

const devVerificationSecret = "dev-verification-secret"

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server        ServerConfig             `yaml:"server"`
	OAuth         OAuthConfig              `yaml:"oauth"`
	RateLimit     RateLimitConfig          `yaml:"rate_limit"`
	Storage       StorageConfig            `yaml:"storage"`
	Accounts      AccountsConfig           `yaml:"accounts"`
	OAuth2Clients []directory.ClientConfig `yaml:"oauth2_clients"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL         string     `yaml:"public_url" env:"ONECAREER_SERVER_PUBLIC_URL"`
	DevListenAddr     string     `yaml:"dev_listen_addr" env:"ONECAREER_SERVER_DEV_LISTEN_ADDR"`
	HTTPListenAddr    string     `yaml:"http_listen_addr" env:"ONECAREER_SERVER_HTTP_LISTEN_ADDR"`
	HTTPSListenAddr   string     `yaml:"https_listen_addr" env:"ONECAREER_SERVER_HTTPS_LISTEN_ADDR"`
	DevMode           bool       `yaml:"dev_mode" env:"ONECAREER_SERVER_DEV_MODE"`
	TLS               TLSConfig  `yaml:"tls"`
	TrustProxyHeaders bool       `yaml:"trust_proxy_headers" env:"ONECAREER_SERVER_TRUST_PROXY_HEADERS"`
	CORS              CORSConfig `yaml:"cors"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains" env:"ONECAREER_SERVER_TLS_DOMAINS" env-separator:","`
	Email      string   `yaml:"email" env:"ONECAREER_SERVER_TLS_EMAIL"`
	MinVersion string   `yaml:"min_version"`
	CacheDir   string   `yaml:"cache_dir" env:"ONECAREER_SERVER_TLS_CACHE_DIR"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// CORSConfig lists browser origins allowed to call the API. When no origins
// are configured they are inferred from client redirect URIs.
type CORSConfig struct {
	ClientOriginURLs []string `yaml:"client_origin_urls"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
}

// OAuthConfig tunes code and token lifetimes.
type OAuthConfig struct {
	CodeTTL           time.Duration `yaml:"code_ttl" env:"ONECAREER_OAUTH_CODE_TTL"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl" env:"ONECAREER_OAUTH_ACCESS_TOKEN_TTL"`
	AcceptAnyRedirect bool          `yaml:"accept_any_redirect"`
}

// RateLimitConfig configures the fixed-window guards. A zero limit disables one.
type RateLimitConfig struct {
	Headers bool        `yaml:"headers"`
	Global  LimitConfig `yaml:"global"`
	Login   LimitConfig `yaml:"login"`
	Account LimitConfig `yaml:"account"`
}

// LimitConfig is one limiter's threshold.
type LimitConfig struct {
	Limit  int64         `yaml:"limit"`
	Period time.Duration `yaml:"period"`
}

// StorageConfig points at the backing stores. Empty URLs select in-memory
// stores, which is only allowed in dev mode.
type StorageConfig struct {
	RedisURL    string `yaml:"redis_url" env:"ONECAREER_REDIS_URL"`
	DatabaseURL string `yaml:"database_url" env:"ONECAREER_DATABASE_URL"`
}

// AccountsConfig configures registration, password recovery and seeding.
type AccountsConfig struct {
	VerificationSecret string                  `yaml:"verification_secret" env:"ONECAREER_VERIFICATION_SECRET"`
	VerificationTTL    time.Duration           `yaml:"verification_ttl"`
	ValidateURL        string                  `yaml:"validate_url"`
	ResetURL           string                  `yaml:"reset_url"`
	Seed               []directory.AccountSeed `yaml:"seed"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to apply environment overrides", "error", err)
		return Config{}, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				MinVersion: "1.2",
				CacheDir:   ".secrets/tls",
				HSTSMaxAge: 31536000,
			},
		},
		OAuth: OAuthConfig{
			CodeTTL:        oauth.DefaultCodeTTL,
			AccessTokenTTL: oauth.DefaultAccessTTL,
		},
		RateLimit: RateLimitConfig{
			Headers: true,
			Global:  LimitConfig{Limit: 600, Period: time.Minute},
			Login:   LimitConfig{Limit: 10, Period: time.Minute},
			Account: LimitConfig{Limit: 300, Period: time.Minute},
		},
		Accounts: AccountsConfig{
			VerificationSecret: devVerificationSecret,
			VerificationTTL:    directory.DefaultVerificationTTL,
		},
	}
}

// DefaultConfig returns the configuration template written by -config-cmd init.
func DefaultConfig() Config {
	cfg := defaultConfig()
	cfg.Accounts.ValidateURL = cfg.Server.PublicURL + "/account/validate"
	cfg.Accounts.ResetURL = cfg.Server.PublicURL + "/account/reset"
	cfg.OAuth2Clients = []directory.ClientConfig{{
		ClientID:     "example-client",
		ClientSecret: "change-me",
		RedirectURIs: []string{"http://localhost:3000/callback"},
	}}
	cfg.Accounts.Seed = []directory.AccountSeed{{
		ClientID: "example-client",
		Email:    "dev@example.com",
		Password: "change-me",
		FullName: "Dev User",
		Role:     string(directory.RoleTalent),
	}}
	return cfg
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}

	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	if !c.Server.DevMode {
		if c.Storage.RedisURL == "" {
			slog.Error("Missing required configuration for production mode", "field", "storage.redis_url")
			return errors.New("storage.redis_url is required in production")
		}
		if c.Storage.DatabaseURL == "" {
			slog.Error("Missing required configuration for production mode", "field", "storage.database_url")
			return errors.New("storage.database_url is required in production")
		}
		if c.Accounts.VerificationSecret == "" || c.Accounts.VerificationSecret == devVerificationSecret {
			slog.Error("Missing required configuration for production mode", "field", "accounts.verification_secret")
			return errors.New("accounts.verification_secret must be set in production")
		}
	}
	if c.Accounts.VerificationSecret == "" {
		slog.Error("Missing required configuration", "field", "accounts.verification_secret")
		return errors.New("accounts.verification_secret is required")
	}

	if c.OAuth.CodeTTL < 0 || c.OAuth.AccessTokenTTL < 0 {
		slog.Error("Invalid token lifetime", "code_ttl", c.OAuth.CodeTTL, "access_token_ttl", c.OAuth.AccessTokenTTL)
		return errors.New("oauth ttls must not be negative")
	}

	limits := map[string]LimitConfig{
		"global":  c.RateLimit.Global,
		"login":   c.RateLimit.Login,
		"account": c.RateLimit.Account,
	}
	for name, l := range limits {
		if l.Limit < 0 {
			slog.Error("Invalid rate limit", "field", "rate_limit."+name+".limit", "value", l.Limit)
			return fmt.Errorf("rate_limit.%s.limit must not be negative", name)
		}
		if l.Limit > 0 && l.Period < time.Second {
			slog.Error("Invalid rate limit period", "field", "rate_limit."+name+".period", "value", l.Period)
			return fmt.Errorf("rate_limit.%s.period must be at least 1s", name)
		}
	}

	if len(c.OAuth2Clients) == 0 {
		slog.Error("No OAuth2 clients configured")
		return errors.New("at least one OAuth2 client must be configured")
	}
	for i, client := range c.OAuth2Clients {
		if client.ClientID == "" {
			slog.Error("OAuth2 client missing client_id", "index", i)
			return fmt.Errorf("oauth2_clients[%d]: client_id is required", i)
		}
		if client.ClientSecret == "" {
			slog.Error("OAuth2 client missing client_secret", "client_id", client.ClientID, "index", i)
			return fmt.Errorf("oauth2_clients[%d] (%s): client_secret is required", i, client.ClientID)
		}
		for j, uri := range client.RedirectURIs {
			if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
				slog.Error("Invalid redirect URI", "client_id", client.ClientID, "redirect_uri", uri, "index", j, "reason", "must be a valid HTTP(S) URL")
				return fmt.Errorf("oauth2_clients[%d] (%s): redirect_uris[%d] must start with http:// or https://, got: %s", i, client.ClientID, j, uri)
			}
		}
	}

	if c.OAuth.AcceptAnyRedirect && !c.Server.DevMode {
		slog.Warn("Redirect URI checks are disabled", "field", "oauth.accept_any_redirect")
	}

	return nil
}

// InferCORSOrigins extracts allowed origins from OAuth2 client redirect URIs.
func (c Config) InferCORSOrigins() []string {
	seen := make(map[string]bool)
	origins := []string{}

	for _, client := range c.OAuth2Clients {
		for _, redirectURI := range client.RedirectURIs {
			if origin := extractOrigin(redirectURI); origin != "" && !seen[origin] {
				seen[origin] = true
				origins = append(origins, origin)
			}
		}
	}

	return origins
}

// extractOrigin returns scheme://host[:port] for a URL.
func extractOrigin(urlStr string) string {
	if urlStr == "" || urlStr == "*" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
