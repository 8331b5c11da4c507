package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"picked/cmd/internal/directory"
	"picked/cmd/internal/messaging"
)

// Serve is the `picked serve` entrypoint. It runs until SIGINT or SIGTERM.
func Serve(cfg Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Migrate applies the messaging and profile schemas to PICKED_DATABASE_URL.
func Migrate(ctx context.Context, cfg Config, log *slog.Logger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate: PICKED_DATABASE_URL is not set")
	}
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := messaging.ApplySchema(ctx, pool, cfg.DBSchema); err != nil {
		return err
	}
	profiles, err := directory.NewPostgres(pool, cfg.DBSchema)
	if err != nil {
		return err
	}
	if err := profiles.ApplySchema(ctx); err != nil {
		return err
	}
	log.Info("db.migrate.ok", "schema", cfg.DBSchema)
	return nil
}

// IssueToken signs an access token for userID with the configured key.
// It is meant for local testing against a running server.
func IssueToken(cfg Config, userID string, now time.Time) (string, time.Time, error) {
	if cfg.Auth.PasetoV4SecretKeyHex == "" {
		return "", time.Time{}, fmt.Errorf("token: PICKED_PASETO_V4_SECRET_KEY_HEX is not set")
	}
	tm, err := newTokenManager(cfg, slog.Default())
	if err != nil {
		return "", time.Time{}, err
	}
	sid, err := messaging.NewID(now)
	if err != nil {
		return "", time.Time{}, err
	}
	return tm.Issue(userID, sid, now)
}
