package oauth

import (
	"crypto/subtle"
	"slices"
	"strings"
)

// Client is a registered API consumer.
type Client struct {
	ID           string
	Secret       string
	Active       bool
	RedirectURIs []string
	Scopes       []string
}

// CheckSecret compares secret in constant time. An empty secret never matches.
func (c *Client) CheckSecret(secret string) bool {
	if secret == "" || c.Secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(c.Secret)) == 1
}

// ValidRedirect ensures the redirect URI is registered and safe.
func (c *Client) ValidRedirect(uri string) bool {
	if !isSafeRedirectURI(uri) {
		return false
	}
	return slices.Contains(c.RedirectURIs, uri)
}

// isSafeRedirectURI rejects schemes and shapes that enable open redirects.
func isSafeRedirectURI(uri string) bool {
	if uri == "" {
		return false
	}

	lower := strings.ToLower(uri)
	for _, scheme := range []string{"javascript:", "data:", "file:", "vbscript:", "about:"} {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}

	// Protocol-relative URLs could redirect anywhere.
	if strings.HasPrefix(uri, "//") {
		return false
	}

	idx := strings.Index(uri, "://")
	if idx == -1 {
		return false
	}
	scheme := uri[:idx]
	rest := uri[idx+3:]
	if scheme != "http" && scheme != "https" {
		return false
	}

	// Blocks user:pass@host and path@domain tricks.
	if strings.Contains(rest, "@") {
		return false
	}

	host := rest
	if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
		host = rest[:slashIdx]
	}
	return !strings.Contains(host, "#")
}

// ValidateScopes reports whether every requested scope is allowed.
// An empty request is always allowed.
func (c *Client) ValidateScopes(scope string) bool {
	for _, sc := range strings.Fields(scope) {
		if !slices.Contains(c.Scopes, sc) {
			return false
		}
	}
	return true
}

// scopeMatches applies the exact-or-open policy: a record with an empty scope
// accepts any request, otherwise the request must be empty or identical.
func scopeMatches(recorded, requested string) bool {
	return recorded == "" || requested == "" || recorded == requested
}
