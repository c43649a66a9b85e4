// Command oauthctl drives the onecareer authorization API from a shell.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mikey73/onecareer/client"
)

const usage = `usage: oauthctl [flags] <command> [args]

commands:
  ping
  login <email> [scope]          prompts for the password
  exchange <code> [scope]
  token <email> [scope]          login then exchange
  refresh <access> <refresh> [scope]
  tokeninfo <access>
  invalidate <access>
  authurl <state> [scope]
  register <email> <fullname> <role>
  validate <vhash>
  resend <email>
  account-login <email>          prompts for the password; revokes the account's tokens
  recover <email>
  reset-check <vhash>
  reset <vhash>                  prompts for the new password twice
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "oauthctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("oauthctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	baseURL := fs.String("base-url", envOr("ONECAREER_BASE_URL", "http://127.0.0.1:8080"), "API base URL")
	clientID := fs.String("client-id", os.Getenv("ONECAREER_CLIENT_ID"), "API client id")
	clientSecret := fs.String("client-secret", os.Getenv("ONECAREER_CLIENT_SECRET"), "API client secret")
	redirectURI := fs.String("redirect-uri", "", "Redirect URI for authurl")
	timeout := fs.Duration("timeout", 15*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}
	if fs.NArg() == 0 {
		return errors.New(usage)
	}

	c, err := client.New(client.Config{
		BaseURL:      *baseURL,
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		RedirectURI:  *redirectURI,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	reader := bufio.NewReader(stdin)
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "ping":
		if err := c.Ping(ctx); err != nil {
			return err
		}
		return printJSON(stdout, map[string]string{"status": "ok"})
	case "login":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		password := askRequired(reader, stderr, "Password")
		grant, err := c.Login(ctx, rest[0], password, optArg(rest, 1))
		if err != nil {
			return err
		}
		return printJSON(stdout, grant)
	case "exchange":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		tok, err := c.Exchange(ctx, rest[0], optArg(rest, 1))
		if err != nil {
			return err
		}
		return printJSON(stdout, tok)
	case "token":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		password := askRequired(reader, stderr, "Password")
		grant, err := c.Login(ctx, rest[0], password, optArg(rest, 1))
		if err != nil {
			return err
		}
		tok, err := c.Exchange(ctx, grant.Code, optArg(rest, 1))
		if err != nil {
			return err
		}
		return printJSON(stdout, tok)
	case "refresh":
		if err := needArgs(rest, 2); err != nil {
			return err
		}
		bundle, err := c.Refresh(ctx, rest[0], rest[1], optArg(rest, 2))
		if err != nil {
			return err
		}
		return printJSON(stdout, bundle)
	case "tokeninfo":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		info, err := c.TokenInfo(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, info)
	case "invalidate":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		if err := c.Invalidate(ctx, rest[0]); err != nil {
			return err
		}
		return printJSON(stdout, map[string]string{"status": "invalidated"})
	case "authurl":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		_, err := fmt.Fprintln(stdout, c.AuthCodeURL(rest[0], optArg(rest, 1)))
		return err
	case "register":
		if err := needArgs(rest, 3); err != nil {
			return err
		}
		password := askRequired(reader, stderr, "Password")
		acc, err := c.Register(ctx, client.RegisterRequest{
			Email:    rest[0],
			Password: password,
			FullName: rest[1],
			Role:     rest[2],
		})
		if err != nil {
			return err
		}
		return printJSON(stdout, acc)
	case "validate":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		acc, err := c.Validate(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, acc)
	case "resend":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		token, err := c.Resend(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]string{"status": "sent", "verification_token": token})
	case "account-login":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		password := askRequired(reader, stderr, "Password")
		acc, err := c.AccountLogin(ctx, rest[0], password)
		if err != nil {
			return err
		}
		return printJSON(stdout, acc)
	case "recover":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		token, err := c.Recover(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]string{"status": "sent", "reset_token": token})
	case "reset-check":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		if err := c.CheckReset(ctx, rest[0]); err != nil {
			return err
		}
		return printJSON(stdout, map[string]string{"status": "ok"})
	case "reset":
		if err := needArgs(rest, 1); err != nil {
			return err
		}
		password := askRequired(reader, stderr, "New password")
		confirm := askRequired(reader, stderr, "Confirm password")
		acc, err := c.ResetPassword(ctx, rest[0], password, confirm)
		if err != nil {
			return err
		}
		return printJSON(stdout, acc)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

func needArgs(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected at least %d argument(s)\n%s", n, usage)
	}
	return nil
}

func optArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func askRequired(reader *bufio.Reader, out io.Writer, prompt string) string {
	for {
		fmt.Fprintf(out, "%s: ", prompt)
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" || err != nil {
			return input
		}
		fmt.Fprintln(out, "This value is required. Please enter a value.")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
