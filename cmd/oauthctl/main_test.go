package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mikey73/onecareer/directory"
	"github.com/mikey73/onecareer/server"
)

func startServer(t *testing.T) string {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.OAuth2Clients = []directory.ClientConfig{{ClientID: "cli", ClientSecret: "cli-secret"}}
	cfg.Accounts.Seed = []directory.AccountSeed{
		{ID: 7, ClientID: "cli", Email: "c@d.com", Password: "hunter2", FullName: "Cee Dee"},
	}
	app, err := server.NewApp(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewApp returned error: %v", err)
	}
	srv := httptest.NewServer(app.Routes())
	t.Cleanup(func() {
		srv.Close()
		_ = app.Close()
	})
	return srv.URL
}

func runCLI(t *testing.T, base, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"-base-url", base, "-client-id", "cli", "-client-secret", "cli-secret"}, args...)
	err := run(context.Background(), full, strings.NewReader(stdin), &out, io.Discard)
	return out.String(), err
}

func TestTokenInfoAndInvalidate(t *testing.T) {
	base := startServer(t)

	out, err := runCLI(t, base, "hunter2\n", "token", "c@d.com")
	if err != nil {
		t.Fatalf("token returned error: %v", err)
	}
	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal([]byte(out), &tok); err != nil {
		t.Fatalf("decode token output %q: %v", out, err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		t.Fatalf("expected a token pair, got %q", out)
	}

	out, err = runCLI(t, base, "", "tokeninfo", tok.AccessToken)
	if err != nil {
		t.Fatalf("tokeninfo returned error: %v", err)
	}
	if !strings.Contains(out, `"account_id": 7`) {
		t.Fatalf("unexpected tokeninfo output %q", out)
	}

	if _, err := runCLI(t, base, "", "invalidate", tok.AccessToken); err != nil {
		t.Fatalf("invalidate returned error: %v", err)
	}
	if _, err := runCLI(t, base, "", "tokeninfo", tok.AccessToken); err == nil {
		t.Fatalf("expected tokeninfo to fail after invalidate")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	base := startServer(t)

	_, err := runCLI(t, base, "nope\n", "login", "c@d.com")
	if err == nil {
		t.Fatalf("expected login failure")
	}
	if !strings.Contains(err.Error(), "1306") {
		t.Fatalf("expected EmailOrPasswordNotFound code, got %v", err)
	}
}

func TestUsageErrors(t *testing.T) {
	base := startServer(t)

	if _, err := runCLI(t, base, ""); err == nil {
		t.Fatalf("expected usage error without a command")
	}
	if _, err := runCLI(t, base, "", "frobnicate"); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
	if _, err := runCLI(t, base, "", "refresh", "only-one"); err == nil {
		t.Fatalf("expected missing argument error")
	}
}

func TestAuthURL(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-base-url", "https://auth.example.com",
		"-client-id", "cli",
		"-redirect-uri", "https://app.example.com/cb",
		"authurl", "st",
	}, strings.NewReader(""), &out, io.Discard)
	if err != nil {
		t.Fatalf("authurl returned error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "https://auth.example.com/oauth2/authorize?") {
		t.Fatalf("unexpected url %q", out.String())
	}
}

func TestPasswordRecoveryCommands(t *testing.T) {
	base := startServer(t)

	out, err := runCLI(t, base, "", "recover", "c@d.com")
	if err != nil {
		t.Fatalf("recover returned error: %v", err)
	}
	var sent struct {
		ResetToken string `json:"reset_token"`
	}
	if err := json.Unmarshal([]byte(out), &sent); err != nil || sent.ResetToken == "" {
		t.Fatalf("expected a reset token in dev mode, got %q (%v)", out, err)
	}

	if _, err := runCLI(t, base, "", "reset-check", sent.ResetToken); err != nil {
		t.Fatalf("reset-check returned error: %v", err)
	}
	if _, err := runCLI(t, base, "newpass1\nnewpass1\n", "reset", sent.ResetToken); err != nil {
		t.Fatalf("reset returned error: %v", err)
	}
	if _, err := runCLI(t, base, "", "reset-check", sent.ResetToken); err == nil {
		t.Fatalf("expected reset-check to fail once the token is spent")
	}

	out, err = runCLI(t, base, "newpass1\n", "account-login", "c@d.com")
	if err != nil {
		t.Fatalf("account-login returned error: %v", err)
	}
	if !strings.Contains(out, `"account_id": 7`) {
		t.Fatalf("unexpected account-login output %q", out)
	}
	if _, err := runCLI(t, base, "hunter2\n", "account-login", "c@d.com"); err == nil {
		t.Fatalf("expected the old password to be rejected")
	}
}
