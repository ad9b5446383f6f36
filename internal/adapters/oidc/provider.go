package oidc

// Package oidc provides the OAuth2/OIDC authorization-code provider.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/ports"
	"github.com/target/rolegate/internal/util"
)

// DefaultRoleAttribute is the claim path used when none is configured.
const DefaultRoleAttribute = "groups"

const (
	stateLength    = 32
	nonceLength    = 32
	maxUserInfoLen = 1 << 20
)

// Provider implements ports.OAuthProvider. With a discovery URL it verifies
// ID tokens through go-oidc; with explicit endpoints it reads claims from the
// userinfo endpoint.
type Provider struct {
	config      *oauth2.Config
	httpClient  *http.Client
	userInfoURL string
	roleExpr    string
	mapper      ports.RoleMapper

	// nil in plain OAuth2 mode
	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

// ProviderConfig holds configuration for the provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string

	// DiscoveryURL selects OIDC mode. Either it or AuthURL+TokenURL is required.
	DiscoveryURL string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string

	// RoleAttribute is a JMESPath expression over the merged claims yielding
	// a string or list of strings, e.g. "groups" or "realm_access.roles".
	RoleAttribute string

	HTTPClient *http.Client // Optional, defaults to a 30s-timeout client
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// NewProvider validates config and, in OIDC mode, fetches the discovery document.
func NewProvider(ctx context.Context, config ProviderConfig, mapper ports.RoleMapper) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if config.DiscoveryURL == "" && (config.AuthURL == "" || config.TokenURL == "") {
		return nil, errors.New("discovery URL or auth and token URLs are required")
	}
	if config.DiscoveryURL == "" && config.UserInfoURL == "" {
		return nil, errors.New("user info URL is required without discovery")
	}
	if mapper == nil {
		return nil, errors.New("role mapper is required")
	}

	roleExpr := strings.TrimSpace(config.RoleAttribute)
	if roleExpr == "" {
		roleExpr = DefaultRoleAttribute
	}
	if _, err := jmespath.Compile(roleExpr); err != nil {
		return nil, fmt.Errorf("role attribute %q: %w", roleExpr, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	p := &Provider{
		httpClient:  httpClient,
		userInfoURL: config.UserInfoURL,
		roleExpr:    roleExpr,
		mapper:      mapper,
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       strings.Fields(config.Scope),
			Endpoint:     oauth2.Endpoint{AuthURL: config.AuthURL, TokenURL: config.TokenURL},
		},
	}

	if config.DiscoveryURL != "" {
		// Single discovery fetch; explicit endpoints override discovered ones.
		octx := gooidc.ClientContext(ctx, httpClient)
		issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
		issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
		op, err := gooidc.NewProvider(octx, issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc new provider: %w", err)
		}
		p.oidcProvider = op
		p.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID})

		endpoint := op.Endpoint()
		if config.AuthURL != "" {
			endpoint.AuthURL = config.AuthURL
		}
		if config.TokenURL != "" {
			endpoint.TokenURL = config.TokenURL
		}
		p.config.Endpoint = endpoint
	}

	return p, nil
}

// Begin implements ports.OAuthProvider. A non-empty in.RedirectURL overrides
// the configured redirect_uri for this flow.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, string, string, error) {
	state, err := util.RandomString(stateLength)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := util.RandomString(nonceLength)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_type", "code")}
	if p.oidcProvider != nil {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))
	}
	if in.RedirectURL != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", in.RedirectURL))
	}
	return p.config.AuthCodeURL(state, opts...), state, nonce, nil
}

// Exchange implements ports.OAuthProvider. IdP rejections are reported as
// domainauth.ErrOAuthExchangeFailed, transport failures as ErrBackendUnavailable.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, exchangeFailed(errors.New("authorization code is required"))
	}
	if p.oidcProvider != nil && in.Nonce == "" {
		return domainauth.Identity{}, exchangeFailed(errors.New("nonce is required"))
	}

	ctx = gooidc.ClientContext(ctx, p.httpClient)
	var opts []oauth2.AuthCodeOption
	if in.RedirectURL != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", in.RedirectURL))
	}
	token, err := p.config.Exchange(ctx, in.Code, opts...)
	if err != nil {
		return domainauth.Identity{}, classify(fmt.Errorf("exchange code for token: %w", err))
	}

	claims, err := p.collectClaims(ctx, token, in.Nonce)
	if err != nil {
		return domainauth.Identity{}, err
	}

	principal := claimString(claims, "preferred_username", "samaccountname", "email", "sub")
	if principal == "" {
		return domainauth.Identity{}, exchangeFailed(errors.New("no usable subject claim"))
	}

	values, err := p.roleValues(claims)
	if err != nil {
		return domainauth.Identity{}, exchangeFailed(err)
	}

	return domainauth.Identity{
		Principal:   principal,
		Roles:       p.mapper.Map(values),
		Method:      domainauth.MethodOAuth,
		Email:       claimString(claims, "email", "mail"),
		DisplayName: claimString(claims, "name"),
	}, nil
}

// collectClaims merges ID token claims (when present) with userinfo claims.
// ID token values win on conflict.
func (p *Provider) collectClaims(ctx context.Context, tok *oauth2.Token, nonce string) (map[string]any, error) {
	claims := map[string]any{}

	if p.verifier != nil && p.hasOpenIDScope() {
		rawID, err := getIDTokenFromToken(tok)
		if err != nil {
			return nil, exchangeFailed(err)
		}
		idTok, err := p.verifier.Verify(ctx, rawID)
		if err != nil {
			return nil, classify(fmt.Errorf("verify id_token: %w", err))
		}
		if idTok.Nonce != nonce {
			return nil, exchangeFailed(errors.New("invalid nonce"))
		}
		if claimsErr := idTok.Claims(&claims); claimsErr != nil {
			return nil, exchangeFailed(fmt.Errorf("parse id_token claims: %w", claimsErr))
		}
	}

	if !p.needsUserInfo(claims) {
		return claims, nil
	}
	info, err := p.userInfo(ctx, tok)
	if err != nil {
		return nil, err
	}
	for k, v := range info {
		if _, ok := claims[k]; !ok {
			claims[k] = v
		}
	}
	return claims, nil
}

func (p *Provider) needsUserInfo(claims map[string]any) bool {
	if len(claims) == 0 {
		return true
	}
	if p.oidcProvider == nil && p.userInfoURL == "" {
		return false
	}
	v, err := jmespath.Search(p.roleExpr, claims)
	return err != nil || v == nil
}

func (p *Provider) userInfo(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	out := map[string]any{}
	if p.userInfoURL == "" && p.oidcProvider != nil {
		ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
		if err != nil {
			return nil, classify(fmt.Errorf("fetch user info: %w", err))
		}
		if claimsErr := ui.Claims(&out); claimsErr != nil {
			return nil, exchangeFailed(fmt.Errorf("decode user info: %w", claimsErr))
		}
		return out, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, exchangeFailed(fmt.Errorf("build user info request: %w", err))
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, domainauth.BackendUnavailable(fmt.Errorf("fetch user info: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoLen))
	if err != nil {
		return nil, domainauth.BackendUnavailable(fmt.Errorf("read user info: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, exchangeFailed(fmt.Errorf("user info: unexpected status %d", resp.StatusCode))
	}
	if unmarshalErr := json.Unmarshal(body, &out); unmarshalErr != nil {
		return nil, exchangeFailed(fmt.Errorf("decode user info: %w", unmarshalErr))
	}
	return out, nil
}

// roleValues evaluates the role expression. A missing claim yields no values.
func (p *Provider) roleValues(claims map[string]any) ([]string, error) {
	v, err := jmespath.Search(p.roleExpr, claims)
	if err != nil {
		return nil, fmt.Errorf("evaluate role attribute: %w", err)
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' }), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case []string:
		return t, nil
	default:
		return nil, fmt.Errorf("role attribute %q yielded %T, want string or list", p.roleExpr, v)
	}
}

// hasOpenIDScope reports whether the configured scopes include "openid".
func (p *Provider) hasOpenIDScope() bool {
	for _, sc := range p.config.Scopes {
		if sc == "openid" {
			return true
		}
	}
	return false
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}

// claimString returns the first non-empty string claim among keys.
func claimString(claims map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := claims[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func exchangeFailed(cause error) error {
	return domainauth.OAuthExchangeFailed(cause)
}

// classify separates IdP rejections from transport failures.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return exchangeFailed(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domainauth.BackendUnavailable(err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return domainauth.BackendUnavailable(err)
	}
	return exchangeFailed(err)
}
