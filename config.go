package tokenguard

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/tokenguard/jwt"
)

// Config is the full engine configuration. Build it with DefaultConfig,
// adjust it, and hand it to Builder.WithConfig; it is treated as immutable
// afterwards.
type Config struct {
	JWT       JWTConfig       `koanf:"jwt"`
	Keys      []KeyConfig     `koanf:"keys"`
	Store     StoreConfig     `koanf:"store"`
	Refresh   RefreshConfig   `koanf:"refresh"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Session   SessionConfig   `koanf:"session"`
	Audit     AuditConfig     `koanf:"audit"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token lifetimes and verification tolerances.
type JWTConfig struct {
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
	Issuer     string        `koanf:"issuer"`
	Audience   string        `koanf:"audience"`
	// Leeway is the clock-skew tolerance applied to exp/nbf/iat (0..2m).
	Leeway       time.Duration `koanf:"leeway"`
	MaxFutureIAT time.Duration `koanf:"max_future_iat"`
}

// KeyConfig is one key ring entry. The first entry signs; every entry
// verifies. Material is the raw secret for hs256 or PEM for ed25519;
// MaterialFile, when set, is read instead.
type KeyConfig struct {
	ID           string `koanf:"id"`
	Algorithm    string `koanf:"algorithm"`
	Material     string `koanf:"material"`
	MaterialFile string `koanf:"material_file"`
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig controls the key/value layer shared by refresh rotation and
// rate limiting.
type StoreConfig struct {
	RedisPrefix string `koanf:"redis_prefix"`
	// OpTimeout bounds every primary call before falling back.
	OpTimeout         time.Duration `koanf:"op_timeout"`
	RetryPrimaryAfter time.Duration `koanf:"retry_primary_after"`
	SweepInterval     time.Duration `koanf:"sweep_interval"`
	SoftLimit         int           `koanf:"soft_limit"`
	MaxEntries        int           `koanf:"max_entries"`
}

// RefreshConfig controls refresh-token rotation.
type RefreshConfig struct {
	OpTimeout    time.Duration `koanf:"op_timeout"`
	LockTTL      time.Duration `koanf:"lock_ttl"`
	LockAttempts int           `koanf:"lock_attempts"`
	LockBackoff  time.Duration `koanf:"lock_backoff"`
	// ForceLock always uses the advisory-lock claim path.
	ForceLock bool `koanf:"force_lock"`
	// EscalateReplay revokes the whole family when a consumed or superseded
	// refresh token is presented again.
	EscalateReplay bool `koanf:"escalate_replay"`
}

// RateLimitConfig controls the two-window admission limiter.
type RateLimitConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BurstLimit      int           `koanf:"burst_limit"`
	BurstWindow     time.Duration `koanf:"burst_window"`
	SustainedLimit  int           `koanf:"sustained_limit"`
	SustainedWindow time.Duration `koanf:"sustained_window"`
	BypassScope     string        `koanf:"bypass_scope"`
	// FailOpen admits requests when the counter store errors.
	FailOpen bool `koanf:"fail_open"`
}

// SessionConfig controls the device session registry.
type SessionConfig struct {
	TTL         time.Duration `koanf:"ttl"`
	RedisPrefix string        `koanf:"redis_prefix"`
	// Backend selects the repository: "auto" (Postgres when a pool is
	// supplied, else Redis when a client is, else memory), "memory",
	// "redis" or "postgres".
	Backend     string `koanf:"backend"`
	DatabaseURL string `koanf:"database_url"`
}

// AuditConfig controls asynchronous audit delivery.
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	DropIfFull bool `koanf:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the defaults every field falls back to. Keys are
// left empty; a ring must always be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:    5 * time.Minute,
			RefreshTTL:   7 * 24 * time.Hour,
			Leeway:       30 * time.Second,
			MaxFutureIAT: 10 * time.Minute,
		},
		Store: StoreConfig{
			RedisPrefix:       "tg",
			OpTimeout:         150 * time.Millisecond,
			RetryPrimaryAfter: 2 * time.Second,
			SweepInterval:     60 * time.Second,
			SoftLimit:         100_000,
			MaxEntries:        1_000_000,
		},
		Refresh: RefreshConfig{
			OpTimeout:      2 * time.Second,
			LockTTL:        5 * time.Second,
			LockAttempts:   3,
			LockBackoff:    20 * time.Millisecond,
			EscalateReplay: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			BurstLimit:      20,
			BurstWindow:     10 * time.Second,
			SustainedLimit:  100,
			SustainedWindow: 60 * time.Second,
			BypassScope:     "ratelimit:bypass",
			FailOpen:        true,
		},
		Session: SessionConfig{
			TTL:         30 * 24 * time.Hour,
			RedisPrefix: "tg:sess",
			Backend:     "auto",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Keys = append([]KeyConfig(nil), cfg.Keys...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run with.
// Key material is checked by KeyRing.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL < time.Second {
		return errors.New("JWT AccessTTL must be >= 1s")
	}
	if c.JWT.RefreshTTL < time.Second {
		return errors.New("JWT RefreshTTL must be >= 1s")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within 0..2m")
	}

	if len(c.Keys) == 0 {
		return errors.New("at least one signing key is required")
	}
	seen := make(map[string]struct{}, len(c.Keys))
	for i, k := range c.Keys {
		if strings.TrimSpace(k.ID) == "" {
			return fmt.Errorf("Keys[%d] ID must be set", i)
		}
		if _, dup := seen[k.ID]; dup {
			return fmt.Errorf("Keys[%d] duplicates key id %q", i, k.ID)
		}
		seen[k.ID] = struct{}{}
		if k.Material == "" && k.MaterialFile == "" {
			return fmt.Errorf("Keys[%d] needs Material or MaterialFile", i)
		}
	}

	if c.Store.OpTimeout <= 0 {
		return errors.New("Store OpTimeout must be > 0")
	}
	if c.Store.MaxEntries < 0 {
		return errors.New("Store MaxEntries must be >= 0")
	}

	if c.Refresh.LockAttempts < 1 {
		return errors.New("Refresh LockAttempts must be >= 1")
	}
	if c.Refresh.LockTTL <= 0 || c.Refresh.OpTimeout <= 0 {
		return errors.New("Refresh LockTTL and OpTimeout must be > 0")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.BurstLimit <= 0 || c.RateLimit.SustainedLimit <= 0 {
			return errors.New("RateLimit limits must be > 0")
		}
		if c.RateLimit.BurstWindow <= 0 || c.RateLimit.SustainedWindow <= 0 {
			return errors.New("RateLimit windows must be > 0")
		}
		if c.RateLimit.BurstWindow > c.RateLimit.SustainedWindow {
			return errors.New("RateLimit BurstWindow must be <= SustainedWindow")
		}
	}

	if c.Session.TTL < c.JWT.RefreshTTL {
		return errors.New("Session TTL must be >= JWT RefreshTTL")
	}
	switch c.Session.Backend {
	case "auto", "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported session backend %q", c.Session.Backend)
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

// KeyRing resolves Keys into a jwt.KeyRing, reading MaterialFile entries
// from disk.
func (c *Config) KeyRing() (*jwt.KeyRing, error) {
	keys := make([]jwt.Key, 0, len(c.Keys))
	for _, k := range c.Keys {
		material := []byte(k.Material)
		if k.MaterialFile != "" {
			data, err := os.ReadFile(k.MaterialFile)
			if err != nil {
				return nil, fmt.Errorf("read key %q: %w", k.ID, err)
			}
			material = data
		}
		alg := jwt.Algorithm(strings.ToLower(strings.TrimSpace(k.Algorithm)))
		if alg == "" {
			alg = jwt.AlgHS256
		}
		keys = append(keys, jwt.Key{ID: k.ID, Algorithm: alg, Material: material})
	}
	return jwt.NewKeyRing(keys...)
}
