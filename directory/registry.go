package directory

import (
	"context"
	"errors"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/oauth"
)

// ClientConfig describes an API client.
type ClientConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURIs []string `yaml:"redirect_uris"`
	Scopes       []string `yaml:"scopes"`
	Disabled     bool     `yaml:"disabled"`
}

// Registry holds registered API clients. It is read-only once built.
type Registry struct {
	clients map[string]*oauth.Client
}

var _ oauth.ClientDirectory = (*Registry)(nil)

// NewRegistry builds the registry from configuration.
func NewRegistry(cfgs []ClientConfig) (*Registry, error) {
	clients := make(map[string]*oauth.Client, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ClientID == "" {
			return nil, errors.New("client_id required")
		}
		clients[cfg.ClientID] = &oauth.Client{
			ID:           cfg.ClientID,
			Secret:       cfg.ClientSecret,
			Active:       !cfg.Disabled,
			RedirectURIs: cfg.RedirectURIs,
			Scopes:       cfg.Scopes,
		}
	}
	return &Registry{clients: clients}, nil
}

// Get retrieves a client definition.
func (r *Registry) Get(id string) (*oauth.Client, bool) {
	client, ok := r.clients[id]
	return client, ok
}

// FindClient implements oauth.ClientDirectory.
func (r *Registry) FindClient(_ context.Context, id string) (*oauth.Client, bool, error) {
	client, ok := r.clients[id]
	return client, ok, nil
}

// Authenticate validates API client credentials.
func (r *Registry) Authenticate(id, secret string) (*oauth.Client, error) {
	client, ok := r.clients[id]
	if !ok || !client.Active || !client.CheckSecret(secret) {
		return nil, apierr.ErrAPIKey
	}
	return client, nil
}
