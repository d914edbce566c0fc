package test

import (
	"context"
	"net/http"
	"testing"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/middleware"
)

// Guards the exported surface consumers compile against.
func TestPublicAPISurfaceCompile(t *testing.T) {
	_ = tokenguard.New
	_ = tokenguard.DefaultConfig
	_ = tokenguard.LoadConfig
	_ = tokenguard.LoadConfigOver
	_ = tokenguard.PublicError
	_ = tokenguard.WithClientIP

	var _ *tokenguard.Engine
	var _ *tokenguard.Builder
	var _ tokenguard.Config
	var _ tokenguard.TokenPair
	var _ tokenguard.StartOptions
	var _ *tokenguard.Session
	var _ tokenguard.RateIdentity
	var _ tokenguard.RateDecision
	var _ tokenguard.AuditSink = tokenguard.NoOpSink{}
	var _ tokenguard.SecurityReport
	var _ tokenguard.MetricsSnapshot
	var _ tokenguard.LintResult

	var _ error = tokenguard.ErrInvalidCredential
	var _ error = tokenguard.ErrRefreshReuse
	var _ error = tokenguard.ErrFamilyRevoked
	var _ error = tokenguard.ErrRetryLater
	var _ error = tokenguard.ErrRateLimited
	var _ error = tokenguard.ErrServiceUnavailable
	var _ error = tokenguard.ErrSessionNotFound
	var _ error = tokenguard.ErrInvalidRequest
	var _ error = tokenguard.ErrEngineNotReady
	var _ error = &tokenguard.RateLimitError{}

	var _ func(*tokenguard.Engine, middleware.Mode, middleware.CSRFVerifier) func(http.Handler) http.Handler = middleware.Guard
	var _ func(*tokenguard.Engine) func(http.Handler) http.Handler = middleware.RequireToken
	var _ func(*tokenguard.Engine, middleware.CSRFVerifier) func(http.Handler) http.Handler = middleware.RequireTokenAndCSRF
	var _ func(*tokenguard.Engine, string, bool, middleware.IdentityFunc) func(http.Handler) http.Handler = middleware.RateLimit
	var _ func(*tokenguard.Engine, middleware.CSRFVerifier, ...middleware.Route) (*middleware.Table, error) = middleware.NewTable
	var _ func(http.ResponseWriter, error) = middleware.WriteError
	var _ func(context.Context) (*jwt.Claims, bool) = middleware.ClaimsFromContext

	var _ func(*tokenguard.Engine, context.Context, string, map[string]any) (string, error) = (*tokenguard.Engine).IssueAccessToken
	var _ func(*tokenguard.Engine, context.Context, string, map[string]any) (string, error) = (*tokenguard.Engine).IssueRefreshToken
	var _ func(*tokenguard.Engine, context.Context, string) (*jwt.Claims, error) = (*tokenguard.Engine).Verify
	var _ func(*tokenguard.Engine, context.Context, string, string) (*tokenguard.TokenPair, error) = (*tokenguard.Engine).RotateRefresh
	var _ func(*tokenguard.Engine, context.Context, string, string, string) (*tokenguard.Session, error) = (*tokenguard.Engine).CreateSession
	var _ func(*tokenguard.Engine, context.Context, string, tokenguard.StartOptions) (*tokenguard.Session, *tokenguard.TokenPair, error) = (*tokenguard.Engine).StartSession
	var _ func(*tokenguard.Engine, context.Context, string) error = (*tokenguard.Engine).TouchSession
	var _ func(*tokenguard.Engine, context.Context, string) (*tokenguard.Session, error) = (*tokenguard.Engine).GetSession
	var _ func(*tokenguard.Engine, context.Context, string) ([]*tokenguard.Session, error) = (*tokenguard.Engine).ListSessions
	var _ func(*tokenguard.Engine, context.Context, string) error = (*tokenguard.Engine).RevokeSession
	var _ func(*tokenguard.Engine, context.Context, string) (int, error) = (*tokenguard.Engine).RevokeAllSessions
	var _ func(*tokenguard.Engine, context.Context, tokenguard.RateIdentity) (tokenguard.RateDecision, error) = (*tokenguard.Engine).CheckRate
	var _ func(*tokenguard.Engine, *jwt.KeyRing) error = (*tokenguard.Engine).RotateKeys
	var _ func(*tokenguard.Engine) tokenguard.SecurityReport = (*tokenguard.Engine).SecurityReport
}

func TestNilEngineIsNotReady(t *testing.T) {
	var engine *tokenguard.Engine
	_, err := engine.Verify(context.Background(), "x")
	if tokenguard.PublicError(err) != tokenguard.ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
