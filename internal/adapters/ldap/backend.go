package ldap

// Package ldap authenticates principals against an LDAP directory and maps
// their group memberships onto internal roles.

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/ports"
)

// Conn is the subset of *ldap.Conn the backend uses.
type Conn interface {
	Bind(username, password string) error
	Search(req *goldap.SearchRequest) (*goldap.SearchResult, error)
	StartTLS(cfg *tls.Config) error
	SetTimeout(d time.Duration)
	Close() error
}

// Dialer opens a connection to an ldap:// or ldaps:// address.
type Dialer func(ctx context.Context, addr string, tlsCfg *tls.Config) (Conn, error)

// Config describes the directory and how to find users and groups in it.
type Config struct {
	URL                string
	StartTLS           bool
	InsecureSkipVerify bool

	// BindDN and BindPassword are the service account used for searches.
	// Empty BindDN searches anonymously.
	BindDN       string
	BindPassword string

	SearchBase string
	// UserFilter locates the user entry; %s is the escaped principal.
	UserFilter string
	// BindDNTemplate, when set, binds directly as template with %s replaced by the escaped principal
	// and skips the user search.
	BindDNTemplate string

	// GroupSearchBase defaults to SearchBase.
	GroupSearchBase string
	// GroupFilter selects the user's groups; %s is the escaped principal and
	// {dn} the escaped user DN.
	GroupFilter string
	// GroupAttribute names the group attribute handed to the role mapper.
	GroupAttribute string

	EmailAttribute       string
	DisplayNameAttribute string
}

// Defaults for optional Config fields.
const (
	DefaultUserFilter     = "(uid=%s)"
	DefaultGroupFilter    = "(memberUid=%s)"
	DefaultGroupAttribute = "cn"
	defaultEmailAttr      = "mail"
	defaultNameAttr       = "cn"
)

// Backend implements ports.CredentialBackend against LDAP.
type Backend struct {
	cfg    Config
	dial   Dialer
	mapper ports.RoleMapper
	logger *slog.Logger
}

// Options groups optional collaborators.
type Options struct {
	Dialer Dialer
	Logger *slog.Logger
}

// New validates cfg and builds a Backend.
func New(cfg Config, mapper ports.RoleMapper, opts Options) (*Backend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("ldap: server url is required")
	}
	if cfg.BindDNTemplate == "" && cfg.SearchBase == "" {
		return nil, errors.New("ldap: search base is required unless a bind DN template is set")
	}
	if cfg.BindDNTemplate != "" && strings.Count(cfg.BindDNTemplate, "%s") != 1 {
		return nil, errors.New("ldap: bind DN template must contain exactly one %s")
	}
	if cfg.UserFilter == "" {
		cfg.UserFilter = DefaultUserFilter
	}
	if cfg.BindDNTemplate == "" && strings.Count(cfg.UserFilter, "%s") != 1 {
		return nil, errors.New("ldap: user filter must contain exactly one %s")
	}
	if cfg.GroupFilter == "" {
		cfg.GroupFilter = DefaultGroupFilter
	}
	if cfg.GroupAttribute == "" {
		cfg.GroupAttribute = DefaultGroupAttribute
	}
	if cfg.GroupSearchBase == "" {
		cfg.GroupSearchBase = cfg.SearchBase
	}
	if cfg.EmailAttribute == "" {
		cfg.EmailAttribute = defaultEmailAttr
	}
	if cfg.DisplayNameAttribute == "" {
		cfg.DisplayNameAttribute = defaultNameAttr
	}
	if mapper == nil {
		return nil, errors.New("ldap: role mapper is required")
	}

	dial := opts.Dialer
	if dial == nil {
		dial = dialURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, dial: dial, mapper: mapper, logger: logger.With("component", "ldap_backend")}, nil
}

func dialURL(ctx context.Context, addr string, tlsCfg *tls.Config) (Conn, error) {
	d := &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}
	c, err := goldap.DialURL(addr, goldap.DialWithDialer(d), goldap.DialWithTLSConfig(tlsCfg))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Method implements ports.CredentialBackend.
func (b *Backend) Method() domainauth.Method { return domainauth.MethodLDAP }

// userEntry is what the user lookup step yields.
type userEntry struct {
	dn          string
	email       string
	displayName string
}

// Authenticate implements ports.CredentialBackend.
func (b *Backend) Authenticate(ctx context.Context, principal, secret string) (domainauth.Identity, error) {
	principal = strings.TrimSpace(principal)
	// An empty password would be an unauthenticated bind, which most servers accept.
	if principal == "" || secret == "" {
		return domainauth.Identity{}, domainauth.ErrInvalidCredentials
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: b.cfg.InsecureSkipVerify, //nolint:gosec // opt-in for lab directories
	}
	if host := hostOf(b.cfg.URL); host != "" {
		tlsCfg.ServerName = host
	}

	conn, err := b.dial(ctx, b.cfg.URL, tlsCfg)
	if err != nil {
		return domainauth.Identity{}, domainauth.BackendUnavailable(fmt.Errorf("dial %s: %w", b.cfg.URL, err))
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			b.logger.DebugContext(ctx, "ldap close failed", "error", cerr)
		}
	}()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}

	if b.cfg.StartTLS {
		if tlsErr := conn.StartTLS(tlsCfg); tlsErr != nil {
			return domainauth.Identity{}, domainauth.BackendUnavailable(fmt.Errorf("starttls: %w", tlsErr))
		}
	}

	user, err := b.locateAndBind(conn, principal, secret)
	if err != nil {
		return domainauth.Identity{}, err
	}

	groups, err := b.groupsFor(conn, principal, user.dn)
	if err != nil {
		return domainauth.Identity{}, err
	}

	return domainauth.Identity{
		Principal:   principal,
		Roles:       b.mapper.Map(groups),
		Method:      domainauth.MethodLDAP,
		Email:       user.email,
		DisplayName: user.displayName,
	}, nil
}

// locateAndBind finds the user's DN and proves the secret by binding as it.
// On return the connection is bound as the identity used for group search.
func (b *Backend) locateAndBind(conn Conn, principal, secret string) (userEntry, error) {
	if b.cfg.BindDNTemplate != "" {
		dn := strings.Replace(b.cfg.BindDNTemplate, "%s", goldap.EscapeDN(principal), 1)
		if err := conn.Bind(dn, secret); err != nil {
			return userEntry{}, classifyBindErr(err)
		}
		return userEntry{dn: dn}, b.serviceBind(conn)
	}

	if err := b.serviceBind(conn); err != nil {
		return userEntry{}, err
	}

	req := goldap.NewSearchRequest(
		b.cfg.SearchBase,
		goldap.ScopeWholeSubtree, goldap.NeverDerefAliases,
		2, 0, false,
		strings.Replace(b.cfg.UserFilter, "%s", goldap.EscapeFilter(principal), 1),
		[]string{"dn", b.cfg.EmailAttribute, b.cfg.DisplayNameAttribute},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil && !goldap.IsErrorWithCode(err, goldap.LDAPResultSizeLimitExceeded) {
		return userEntry{}, domainauth.BackendUnavailable(fmt.Errorf("user search: %w", err))
	}
	if res == nil || len(res.Entries) != 1 {
		return userEntry{}, domainauth.ErrInvalidCredentials
	}

	entry := res.Entries[0]
	if bindErr := conn.Bind(entry.DN, secret); bindErr != nil {
		return userEntry{}, classifyBindErr(bindErr)
	}
	if rebindErr := b.serviceBind(conn); rebindErr != nil {
		return userEntry{}, rebindErr
	}
	return userEntry{
		dn:          entry.DN,
		email:       entry.GetAttributeValue(b.cfg.EmailAttribute),
		displayName: entry.GetAttributeValue(b.cfg.DisplayNameAttribute),
	}, nil
}

// serviceBind binds as the configured service account. Without one the
// connection keeps its current binding.
func (b *Backend) serviceBind(conn Conn) error {
	if b.cfg.BindDN == "" {
		return nil
	}
	if err := conn.Bind(b.cfg.BindDN, b.cfg.BindPassword); err != nil {
		// A rejected service account is a deployment problem, not the user's.
		return domainauth.BackendUnavailable(fmt.Errorf("service bind: %w", err))
	}
	return nil
}

func (b *Backend) groupsFor(conn Conn, principal, userDN string) ([]string, error) {
	filter := strings.ReplaceAll(b.cfg.GroupFilter, "{dn}", goldap.EscapeFilter(userDN))
	filter = strings.ReplaceAll(filter, "%s", goldap.EscapeFilter(principal))

	req := goldap.NewSearchRequest(
		b.cfg.GroupSearchBase,
		goldap.ScopeWholeSubtree, goldap.NeverDerefAliases,
		0, 0, false,
		filter,
		[]string{b.cfg.GroupAttribute},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, domainauth.BackendUnavailable(fmt.Errorf("group search: %w", err))
	}

	groups := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		if v := e.GetAttributeValue(b.cfg.GroupAttribute); v != "" {
			groups = append(groups, v)
			continue
		}
		groups = append(groups, e.DN)
	}
	return groups, nil
}

func classifyBindErr(err error) error {
	if goldap.IsErrorWithCode(err, goldap.LDAPResultInvalidCredentials) ||
		goldap.IsErrorWithCode(err, goldap.LDAPResultInvalidDNSyntax) ||
		goldap.IsErrorWithCode(err, goldap.LDAPResultNoSuchObject) {
		return domainauth.InvalidCredentials(err)
	}
	return domainauth.BackendUnavailable(fmt.Errorf("user bind: %w", err))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
