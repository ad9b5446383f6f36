package devauth

// Package devauth provides a config-driven OAuthProvider for local development.
// It stands in for a real IdP so the OAuth login path can be exercised end to end.

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/ports"
	"github.com/target/rolegate/internal/util"
)

// Code is the only authorization code Exchange accepts.
const Code = "dev"

// Config controls the dev auth provider behavior.
type Config struct {
	Principal   string
	Email       string
	Roles       []string
	RedirectURL string // used when Begin receives none
}

// Provider implements ports.OAuthProvider without contacting an IdP.
// Begin sends the browser straight back to the redirect URL with code=dev and
// the generated state; Exchange returns the configured identity.
type Provider struct {
	identity    domainauth.Identity
	redirectURL string
}

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Principal == "" {
		return nil, errors.New("dev auth: Principal is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("dev auth: RedirectURL is required")
	}
	return &Provider{
		identity: domainauth.Identity{
			Principal: cfg.Principal,
			Email:     cfg.Email,
			Roles:     append([]string(nil), cfg.Roles...),
			Method:    domainauth.MethodOAuth,
		},
		redirectURL: cfg.RedirectURL,
	}, nil
}

// Begin returns the local callback URL and cryptographically secure state and nonce.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, string, string, error) {
	state, err := util.RandomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := util.RandomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	target := in.RedirectURL
	if target == "" {
		target = p.redirectURL
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", "", "", fmt.Errorf("parse redirect url: %w", err)
	}
	q := u.Query()
	q.Set("code", Code)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), state, nonce, nil
}

// Exchange returns the configured identity for the dev code.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code != Code {
		return domainauth.Identity{}, domainauth.OAuthExchangeFailed(errors.New("dev auth: unexpected code"))
	}
	return p.identity.Clone(), nil
}
