package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/rolegate/config"
	"github.com/target/rolegate/internal/service"
)

// ServiceOrchestrationConfig contains everything RunServices needs.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Auth        *AuthRuntime
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	// Listener overrides binding Config.HTTP.Addr.
	Listener net.Listener
}

// RunServicesWithShutdown runs the enabled services until SIGINT/SIGTERM or
// the first service failure.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunServices(ctx, cfg)
}

// RunServices runs the enabled services under one errgroup. It returns when
// ctx is cancelled and every service has stopped, or when one fails, in
// which case the others are cancelled.
func RunServices(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Auth == nil {
		return errors.New("service orchestration config is incomplete")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(enabled) == 0 {
		return errors.New("no services enabled")
	}

	var sweeper *service.SessionSweeper
	if enabled[config.ServiceModeSweeper] {
		sweeper, err = service.NewSessionSweeper(service.SweeperOptions{
			Store:    cfg.Auth.Sessions,
			Interval: cfg.Config.Session.SweepInterval,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("create session sweeper: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeHTTP] {
		server := NewHTTPServer(HTTPServerConfig{
			HTTP:        cfg.Config.HTTP,
			Auth:        cfg.Auth.Service,
			DB:          cfg.DB,
			RedisClient: cfg.RedisClient,
			Logger:      logger,
		})
		ln := cfg.Listener
		if ln == nil {
			var lc net.ListenConfig
			ln, err = lc.Listen(ctx, "tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", server.Addr, err)
			}
		}
		g.Go(func() error {
			return ServeHTTP(gctx, server, ln, cfg.Config.HTTP.ShutdownTimeout, logger)
		})
	}

	if sweeper != nil {
		g.Go(func() error {
			if err := sweeper.Run(gctx); err != nil {
				return fmt.Errorf("session sweeper: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("services stopped", "error", err)
	return err
}
