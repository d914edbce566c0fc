package tokenguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/tokenguard/internal/audit"
	"github.com/MrEthical07/tokenguard/internal/rate"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/kvstore"
	"github.com/MrEthical07/tokenguard/refresh"
	"github.com/MrEthical07/tokenguard/session"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	xrate "golang.org/x/time/rate"
)

const (
	postgresConnectTimeout = 5 * time.Second
	failOpenWarnInterval   = 30 * time.Second
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config Config

	redis       redis.UniversalClient
	primary     kvstore.Store
	sessionRepo session.Repository
	pgPool      *pgxpool.Pool
	resolver    jwt.IdentityResolver
	auditSink   AuditSink
	logger      *slog.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the networked primary for the key/value layer and, unless
// another backend is selected, for sessions.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPrimaryStore sets a custom networked primary. It takes precedence
// over WithRedis for the key/value layer.
func (b *Builder) WithPrimaryStore(store kvstore.Store) *Builder {
	b.primary = store
	return b
}

// WithSessionRepository overrides Session.Backend.
func (b *Builder) WithSessionRepository(repo session.Repository) *Builder {
	b.sessionRepo = repo
	return b
}

// WithPostgres supplies the pool for the postgres session backend. The
// Engine does not close a supplied pool.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.pgPool = pool
	return b
}

// WithResolver overrides the canonical subject resolver.
func (b *Builder) WithResolver(r jwt.IdentityResolver) *Builder {
	b.resolver = r
	return b
}

// WithAuditSink sets the audit destination. Audit.Enabled must also be set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger shared by every component.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Verify latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ring, err := cfg.KeyRing()
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:  cfg,
		log:     logger.With("component", "tokenguard"),
		now:     now,
		metrics: NewMetrics(cfg.Metrics),

		failOpenWarn: xrate.Sometimes{Interval: failOpenWarnInterval},
	}

	// -------- KEY/VALUE LAYER --------
	engine.memory = kvstore.NewMemoryStore(kvstore.MemoryConfig{
		SweepInterval: cfg.Store.SweepInterval,
		SoftLimit:     cfg.Store.SoftLimit,
		MaxEntries:    cfg.Store.MaxEntries,
		Logger:        logger,
		Now:           now,
	})
	primary := b.primary
	if primary == nil && b.redis != nil {
		primary = kvstore.NewRedisStore(b.redis, cfg.Store.RedisPrefix)
	}
	engine.store = kvstore.NewFallbackStore(primary, engine.memory, kvstore.FallbackConfig{
		OpTimeout:         cfg.Store.OpTimeout,
		RetryPrimaryAfter: cfg.Store.RetryPrimaryAfter,
		Logger:            logger,
		Observer:          engine.metrics.storeObserver(),
		Now:               now,
	})

	// -------- TOKEN CODEC --------
	codec, err := jwt.NewManager(jwt.Config{
		Ring:         ring,
		AccessTTL:    cfg.JWT.AccessTTL,
		RefreshTTL:   cfg.JWT.RefreshTTL,
		Issuer:       cfg.JWT.Issuer,
		Audience:     cfg.JWT.Audience,
		Leeway:       cfg.JWT.Leeway,
		MaxFutureIAT: cfg.JWT.MaxFutureIAT,
		Resolver:     b.resolver,
		Now:          now,
	})
	if err != nil {
		engine.closeOwned()
		return nil, err
	}
	engine.codec = codec

	// -------- REFRESH ROTATION --------
	engine.refresh = refresh.NewManager(engine.store, refresh.Config{
		OpTimeout:    cfg.Refresh.OpTimeout,
		LockTTL:      cfg.Refresh.LockTTL,
		LockAttempts: cfg.Refresh.LockAttempts,
		LockBackoff:  cfg.Refresh.LockBackoff,
		ForceLock:    cfg.Refresh.ForceLock,
		Logger:       logger,
		Now:          now,
	})

	// -------- RATE LIMITER --------
	if cfg.RateLimit.Enabled {
		limiter, err := rate.New(engine.store, rate.Config{
			BurstLimit:      cfg.RateLimit.BurstLimit,
			BurstWindow:     cfg.RateLimit.BurstWindow,
			SustainedLimit:  cfg.RateLimit.SustainedLimit,
			SustainedWindow: cfg.RateLimit.SustainedWindow,
			BypassScope:     cfg.RateLimit.BypassScope,
		})
		if err != nil {
			engine.closeOwned()
			return nil, err
		}
		engine.limiter = limiter
	}

	// -------- SESSION REGISTRY --------
	repo, backend, err := b.sessionRepository(engine, cfg, now)
	if err != nil {
		engine.closeOwned()
		return nil, err
	}
	engine.sessionBackend = backend
	engine.sessions = session.NewStore(repo, engine.refresh, session.Config{
		TTL:    cfg.Session.TTL,
		Logger: logger,
		Now:    now,
	})

	// -------- AUDIT --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
	}, b.auditSink)

	b.built = true

	return engine, nil
}

func (b *Builder) sessionRepository(engine *Engine, cfg Config, now func() time.Time) (session.Repository, string, error) {
	if b.sessionRepo != nil {
		return b.sessionRepo, "custom", nil
	}

	switch cfg.Session.Backend {
	case "memory":
		return session.NewMemoryRepository(now), "memory", nil
	case "redis":
		if b.redis == nil {
			return nil, "", errors.New("redis session backend requires a redis client")
		}
		return session.NewRedisRepository(b.redis, cfg.Session.RedisPrefix, now), "redis", nil
	case "postgres":
		return b.postgresRepository(engine, cfg, now)
	default:
		if b.pgPool != nil {
			return b.postgresRepository(engine, cfg, now)
		}
		if b.redis != nil {
			return session.NewRedisRepository(b.redis, cfg.Session.RedisPrefix, now), "redis", nil
		}
		return session.NewMemoryRepository(now), "memory", nil
	}
}

func (b *Builder) postgresRepository(engine *Engine, cfg Config, now func() time.Time) (session.Repository, string, error) {
	pool := b.pgPool
	if pool == nil {
		if cfg.Session.DatabaseURL == "" {
			return nil, "", errors.New("postgres session backend requires DatabaseURL or WithPostgres")
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresConnectTimeout)
		defer cancel()

		var err error
		pool, err = pgxpool.New(ctx, cfg.Session.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		engine.pgPool = pool
	}

	repo := session.NewPostgresRepository(pool, now)
	ctx, cancel := context.WithTimeout(context.Background(), postgresConnectTimeout)
	defer cancel()
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, "", err
	}
	return repo, "postgres", nil
}
