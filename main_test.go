package main

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mikey73/onecareer/server"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunSetupWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	answers := strings.Join([]string{
		"y",                     // dev mode
		"http://localhost:9000", // public url
		"127.0.0.1:9000",        // listen addr
		"",                      // redis
		"",                      // postgres
		"portal",                // client id
		"http://localhost:3000/cb, http://localhost:3001/cb",
	}, "\n") + "\n"

	cfg, err := runSetup(path, strings.NewReader(answers), discardLogger())
	if err != nil {
		t.Fatalf("runSetup returned error: %v", err)
	}

	if cfg.Server.PublicURL != "http://localhost:9000" {
		t.Fatalf("unexpected public url %q", cfg.Server.PublicURL)
	}
	if len(cfg.OAuth2Clients) != 1 || cfg.OAuth2Clients[0].ClientID != "portal" {
		t.Fatalf("unexpected clients %+v", cfg.OAuth2Clients)
	}
	if len(cfg.OAuth2Clients[0].RedirectURIs) != 2 {
		t.Fatalf("expected two redirect uris, got %v", cfg.OAuth2Clients[0].RedirectURIs)
	}
	if len(cfg.OAuth2Clients[0].ClientSecret) != 48 {
		t.Fatalf("expected generated client secret, got %q", cfg.OAuth2Clients[0].ClientSecret)
	}
	if cfg.Accounts.Seed[0].ClientID != "portal" {
		t.Fatalf("seed account should belong to the new client, got %q", cfg.Accounts.Seed[0].ClientID)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config file should be private, got %v", info.Mode().Perm())
	}

	if err := runConfigInit(path, strings.NewReader(""), discardLogger()); err == nil {
		t.Fatalf("expected init to refuse an existing file")
	}
}

func TestRunCheckWithMemoryStores(t *testing.T) {
	if err := runCheck(context.Background(), server.DefaultConfig(), discardLogger()); err != nil {
		t.Fatalf("runCheck returned error: %v", err)
	}
}

func TestRunCheckFailsOnUnreachableRedis(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Storage.RedisURL = "redis://127.0.0.1:1/0?dial_timeout=100ms&max_retries=-1"
	if err := runCheck(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatalf("expected error for unreachable redis")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), discardLogger())
	if err == nil || !strings.Contains(err.Error(), "-config-cmd=init") {
		t.Fatalf("expected hint to run init, got %v", err)
	}
}

func TestTLSMinVersion(t *testing.T) {
	if tlsMinVersion("1.3") != tls.VersionTLS13 {
		t.Fatalf("expected TLS 1.3")
	}
	if tlsMinVersion("") != tls.VersionTLS12 {
		t.Fatalf("expected TLS 1.2 by default")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"ERR":     slog.LevelError,
	}

	for input, want := range tests {
		got, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseLogLevelInvalid(t *testing.T) {
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}
