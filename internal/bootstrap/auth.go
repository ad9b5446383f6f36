package bootstrap

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/rolegate/config"
	"github.com/target/rolegate/internal/adapters/authroles"
	"github.com/target/rolegate/internal/adapters/dbauth"
	"github.com/target/rolegate/internal/adapters/devauth"
	"github.com/target/rolegate/internal/adapters/ldap"
	"github.com/target/rolegate/internal/adapters/memory"
	"github.com/target/rolegate/internal/adapters/oidc"
	redisadapter "github.com/target/rolegate/internal/adapters/redis"
	"github.com/target/rolegate/internal/adapters/static"
	"github.com/target/rolegate/internal/data"
	domainauth "github.com/target/rolegate/internal/domain/auth"
	apperrors "github.com/target/rolegate/internal/errors"
	"github.com/target/rolegate/internal/ports"
	"github.com/target/rolegate/internal/service"
)

// AuthDeps contains what BuildAuth needs.
type AuthDeps struct {
	Config      *config.AppConfig
	File        *config.AuthFile // nil loads Config.Auth.File
	DB          *sql.DB          // required when database auth is enabled
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	Now         func() time.Time
}

// AuthRuntime is the wired auth stack.
type AuthRuntime struct {
	Service  *service.AuthService
	Registry *domainauth.Registry
	Sessions ports.SessionStore
}

// BuildAuth builds the role registry, stores, enabled backends and the
// OAuth provider, then the auth service over them. Any misconfiguration is
// returned as a configuration error and should abort startup.
func BuildAuth(ctx context.Context, deps AuthDeps) (*AuthRuntime, error) {
	if deps.Config == nil {
		return nil, apperrors.Configurationf("auth: config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	file := deps.File
	if file == nil {
		loaded, err := config.LoadAuthFile(cfg.Auth.File)
		if err != nil {
			return nil, err
		}
		file = loaded
	}

	reg, err := domainauth.NewRegistry(file.RoleDefinitions())
	if err != nil {
		return nil, err
	}
	if err = file.ValidateUserRoles(reg); err != nil {
		return nil, err
	}

	defaultRoles := file.DefaultRoles
	if len(cfg.Auth.DefaultRoles) > 0 {
		defaultRoles = cfg.Auth.DefaultRoles
	}
	for _, r := range defaultRoles {
		if _, ok := reg.Resolve(r); !ok {
			return nil, apperrors.Configurationf("default role %q is not defined", r)
		}
	}
	mapper := authroles.NewGroupMapper(authroles.Config{
		Mappings: file.GroupMappings,
		IsRole: func(name string) bool {
			_, ok := reg.Resolve(name)
			return ok
		},
		DefaultRoles: defaultRoles,
	})

	sessions, states, err := buildStores(cfg, deps.RedisClient, deps.Now)
	if err != nil {
		return nil, err
	}

	backends, err := buildBackends(cfg, file, deps.DB, mapper, logger)
	if err != nil {
		return nil, err
	}

	oauth, err := buildOAuthProvider(ctx, cfg, mapper)
	if err != nil {
		return nil, err
	}

	svc, err := service.NewAuthService(service.AuthServiceOptions{
		Registry:          reg,
		Sessions:          sessions,
		States:            states,
		Backends:          backends,
		OAuth:             oauth,
		OAuthProviderType: cfg.Auth.OAuth.ProviderType,
		SessionTTL:        cfg.Session.TTL,
		OAuthStateTTL:     cfg.Auth.OAuth.StateTTL,
		BackendTimeout:    cfg.Auth.BackendTimeout,
		Logger:            logger,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "build auth service")
	}

	enabled := make([]string, 0, 4)
	for m, v := range svc.Methods().Methods {
		if v.Enabled {
			enabled = append(enabled, string(m))
		}
	}
	logger.InfoContext(ctx, "auth configured",
		"methods", enabled,
		"roles", reg.Names(),
		"session_store", cfg.Session.Store,
	)

	return &AuthRuntime{Service: svc, Registry: reg, Sessions: sessions}, nil
}

//nolint:ireturn // the store implementation is chosen by configuration.
func buildStores(
	cfg *config.AppConfig,
	client redis.UniversalClient,
	now func() time.Time,
) (ports.SessionStore, ports.StateStore, error) {
	if cfg.Session.Store != config.SessionStoreRedis {
		return memory.NewSessionStore(memory.SessionStoreConfig{Sliding: cfg.Session.Sliding, Now: now}),
			memory.NewStateStore(now), nil
	}
	if client == nil {
		return nil, nil, apperrors.Configurationf("SESSION_STORE=redis requires a redis connection")
	}
	sessions := redisadapter.NewSessionStore(client, redisadapter.SessionStoreOptions{
		Prefix:           cfg.Session.RedisPrefix,
		ExpiredRetention: cfg.Session.ExpiredRetention,
		Sliding:          cfg.Session.Sliding,
		Now:              now,
	})
	return sessions, redisadapter.NewStateStore(client, cfg.Session.OAuthStatePrefix), nil
}

func buildBackends(
	cfg *config.AppConfig,
	file *config.AuthFile,
	db *sql.DB,
	mapper ports.RoleMapper,
	logger *slog.Logger,
) ([]ports.CredentialBackend, error) {
	var backends []ports.CredentialBackend

	if cfg.Auth.Static.Enabled {
		users := make([]static.User, 0, len(file.Users))
		for _, u := range file.Users {
			users = append(users, static.User{
				Username:     u.Username,
				PasswordHash: u.PasswordHash,
				Password:     u.Password,
				Roles:        u.Roles,
			})
		}
		if len(users) == 0 {
			logger.Warn("static auth enabled with no users configured")
		}
		b, err := static.New(users, static.Options{Cost: cfg.Auth.Static.BcryptCost})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "static backend")
		}
		backends = append(backends, b)
	}

	if cfg.Auth.Database.Enabled {
		if db == nil {
			return nil, apperrors.Configurationf("database auth enabled without a database connection")
		}
		b, err := dbauth.New(data.NewUserRepo(db), cfg.Auth.Database.BcryptCost)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "database backend")
		}
		backends = append(backends, b)
	}

	if cfg.Auth.LDAP.Enabled {
		l := cfg.Auth.LDAP
		b, err := ldap.New(ldap.Config{
			URL:                  l.URL,
			StartTLS:             l.StartTLS,
			InsecureSkipVerify:   l.InsecureSkipVerify,
			BindDN:               l.BindDN,
			BindPassword:         l.BindPassword,
			SearchBase:           l.SearchBase,
			UserFilter:           l.UserFilter,
			BindDNTemplate:       l.BindDNTemplate,
			GroupSearchBase:      l.GroupSearchBase,
			GroupFilter:          l.GroupFilter,
			GroupAttribute:       l.GroupAttribute,
			EmailAttribute:       l.EmailAttribute,
			DisplayNameAttribute: l.NameAttribute,
		}, mapper, ldap.Options{Logger: logger})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "ldap backend")
		}
		if l.InsecureSkipVerify {
			logger.Warn("ldap TLS certificate verification disabled")
		}
		backends = append(backends, b)
	}

	return backends, nil
}

//nolint:ireturn // mock and OIDC providers share the port.
func buildOAuthProvider(ctx context.Context, cfg *config.AppConfig, mapper ports.RoleMapper) (ports.OAuthProvider, error) {
	o := cfg.Auth.OAuth
	if !o.Enabled {
		return nil, nil
	}

	switch o.Mode {
	case config.OAuthModeMock:
		d := cfg.Auth.DevAuth
		prov, err := devauth.NewProvider(devauth.Config{
			Principal:   d.Principal,
			Email:       d.Email,
			Roles:       d.Roles,
			RedirectURL: o.RedirectURL,
		})
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "dev auth provider")
		}
		return prov, nil

	case config.OAuthModeOIDC:
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:      o.ClientID,
			ClientSecret:  o.ClientSecret,
			RedirectURL:   o.RedirectURL,
			Scope:         o.Scope,
			DiscoveryURL:  o.DiscoveryURL,
			AuthURL:       o.AuthURL,
			TokenURL:      o.TokenURL,
			UserInfoURL:   o.UserInfoURL,
			RoleAttribute: o.RoleAttribute,
		}, mapper)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "oidc provider")
		}
		return prov, nil

	default:
		return nil, apperrors.Configurationf("unknown OAUTH_MODE %q", o.Mode)
	}
}
