// Package app provides the top-level application lifecycle management for the
// auction service. It wires together all dependencies (stores, caches, blob
// storage, streams and services) and starts the appropriate goroutines based
// on the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/bookauction/internal/auth"
	"github.com/alanyoungcy/bookauction/internal/config"
	"github.com/alanyoungcy/bookauction/internal/domain"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	stdout  io.Writer
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		stdout: os.Stdout,
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.ensureBootstrapAdmin(ctx, deps.Users, deps.Clock); err != nil {
		return fmt.Errorf("app: bootstrap admin: %w", err)
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "archiver":
		return a.ArchiverMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// ensureBootstrapAdmin creates the configured admin account on first start
// and prints its token once. The token cannot be recovered later.
func (a *App) ensureBootstrapAdmin(ctx context.Context, users domain.UserStore, clock domain.Clock) error {
	id := a.cfg.Auth.BootstrapAdmin
	if id == "" {
		return nil
	}
	_, err := users.GetUser(ctx, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	token, hash, err := auth.NewToken(id)
	if err != nil {
		return err
	}
	if err := users.CreateUser(ctx, domain.User{
		ID:          id,
		DisplayName: a.cfg.Auth.BootstrapAdminName,
		Role:        domain.RoleAdmin,
		TokenHash:   hash,
		CreatedAt:   clock.Now(),
	}); err != nil {
		return err
	}
	a.logger.WarnContext(ctx, "app: bootstrap admin created, token printed to stdout", slog.String("user_id", id))
	_, _ = fmt.Fprintf(a.stdout, "bootstrap admin token: %s\n", token)
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
