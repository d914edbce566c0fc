package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/internal/confloader"
	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address", EnvVars: []string{"TOKENGUARD_ADDR"}},
			&cli.StringFlag{Name: "redis-addr", Usage: "Redis address", EnvVars: []string{"REDIS_ADDR"}},
			&cli.StringFlag{Name: "postgres-url", Usage: "Postgres URL for the session registry", EnvVars: []string{"DATABASE_URL"}},
			&cli.StringFlag{Name: "handoff-key", Usage: "shared key required on POST /v1/sessions", EnvVars: []string{"TOKENGUARD_HANDOFF_KEY"}},
			&cli.BoolFlag{Name: "dev", Usage: "use an in-process Redis and a generated signing key"},
			&cli.BoolFlag{Name: "watch", Value: true, Usage: "reload keys when the config file changes"},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	logger := newLogger(c)
	configPath := c.String("config")

	base := tokenguard.DefaultConfig()
	if c.Bool("dev") {
		secret, err := randomSecret()
		if err != nil {
			return err
		}
		base.Keys = []tokenguard.KeyConfig{{ID: "dev", Algorithm: "hs256", Material: secret}}
		logger.Warn("dev mode: generated an ephemeral signing key and in-process redis")
	}

	cfg, err := tokenguard.LoadConfigOver(base, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, w := range cfg.Lint().BySeverity(tokenguard.LintWarn) {
		logger.Warn("config lint", "code", w.Code, "severity", w.Severity.String(), "message", w.Message)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := tokenguard.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithAuditSink(tokenguard.NewSlogSink(logger.With("stream", "audit"))).
		WithLatencyHistograms(true)

	redisAddr := c.String("redis-addr")
	if redisAddr == "" && c.Bool("dev") {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		redisAddr = mr.Addr()
	}
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		builder.WithRedis(rdb)
		logger.Info("using redis", "addr", redisAddr)
	}

	if url := c.String("postgres-url"); url != "" {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		builder.WithPostgres(pool)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("engine ready",
		"signing_algorithm", report.SigningAlgorithm,
		"primary_key_id", report.PrimaryKeyID,
		"session_backend", report.SessionBackend,
		"rate_limiting", report.RateLimitingActive,
	)

	if configPath != "" && c.Bool("watch") {
		watcher, err := watchKeys(engine, base, configPath, logger)
		if err != nil {
			logger.Warn("key reload disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	handler, err := newRouter(engine, []byte(c.String("handoff-key")), logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              c.String("addr"),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// watchKeys rotates the engine's key ring whenever the config file
// changes. Other sections need a restart.
func watchKeys(engine *tokenguard.Engine, base tokenguard.Config, path string, logger *slog.Logger) (*confloader.Watcher, error) {
	watcher, err := confloader.NewWatcher(logger)
	if err != nil {
		return nil, err
	}
	if err := watcher.Watch(path); err != nil {
		_ = watcher.Stop()
		return nil, err
	}
	watcher.OnChange(func(string) {
		if err := reloadKeys(engine, base, path); err != nil {
			logger.Error("key reload failed", "error", err)
			return
		}
		logger.Info("signing keys reloaded", "primary_key_id", engine.SecurityReport().PrimaryKeyID)
	})
	go watcher.Start()
	return watcher, nil
}

func reloadKeys(engine *tokenguard.Engine, base tokenguard.Config, path string) error {
	cfg, err := tokenguard.LoadConfigOver(base, path)
	if err != nil {
		return err
	}
	ring, err := cfg.KeyRing()
	if err != nil {
		return err
	}
	return engine.RotateKeys(ring)
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
