package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/metrics/export/prometheus"
	"github.com/MrEthical07/tokenguard/middleware"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 16 << 10

// Route table entries; names are referenced when wiring handlers below.
var routes = []middleware.Route{
	{Name: "health", Mode: middleware.Public},
	{Name: "metrics", Mode: middleware.Public},
	{Name: "session.start", Mode: middleware.Public},
	{Name: "token.refresh", Mode: middleware.Public, RateRoute: "token.refresh"},
	{Name: "me", Mode: middleware.TokenOnly, RateRoute: "api"},
	{Name: "session.list", Mode: middleware.TokenOnly, RateRoute: "api"},
	{Name: "session.revoke", Mode: middleware.TokenAndCSRF, RateRoute: "api"},
	{Name: "session.revoke_all", Mode: middleware.TokenAndCSRF, RateRoute: "api"},
}

type server struct {
	engine     *tokenguard.Engine
	handoffKey []byte
	log        *slog.Logger
}

func newRouter(engine *tokenguard.Engine, handoffKey []byte, logger *slog.Logger) (http.Handler, error) {
	table, err := middleware.NewTable(engine, doubleSubmit{}, routes...)
	if err != nil {
		return nil, err
	}
	s := &server{engine: engine, handoffKey: handoffKey, log: logger}

	r := mux.NewRouter()
	r.Handle("/healthz", table.MustHandler("health", http.HandlerFunc(s.health))).Methods(http.MethodGet)
	r.Handle("/metrics", table.MustHandler("metrics", prometheus.NewExporter(engine).Handler())).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Handle("/sessions", table.MustHandler("session.start", http.HandlerFunc(s.startSession))).Methods(http.MethodPost)
	v1.Handle("/sessions", table.MustHandler("session.list", http.HandlerFunc(s.listSessions))).Methods(http.MethodGet)
	v1.Handle("/sessions", table.MustHandler("session.revoke_all", http.HandlerFunc(s.revokeAll))).Methods(http.MethodDelete)
	v1.Handle("/sessions/{id}", table.MustHandler("session.revoke", http.HandlerFunc(s.revokeSession))).Methods(http.MethodDelete)
	v1.Handle("/token/refresh", table.MustHandler("token.refresh", http.HandlerFunc(s.refresh))).Methods(http.MethodPost)
	v1.Handle("/me", table.MustHandler("me", http.HandlerFunc(s.me))).Methods(http.MethodGet)

	return r, nil
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	SessionID        string    `json:"session_id"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func pairResponse(p *tokenguard.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		SessionID:        p.SessionID,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type sessionResponse struct {
	SessionID  string    `json:"session_id"`
	DeviceID   string    `json:"device_id"`
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Current    bool      `json:"current"`
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"store_degraded": s.engine.StoreDegraded(),
	})
}

// startSession is the login hand-off: the caller has already verified the
// user's credentials.
func (s *server) startSession(w http.ResponseWriter, r *http.Request) {
	if len(s.handoffKey) == 0 ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Handoff-Key")), s.handoffKey) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var body struct {
		Owner    string   `json:"owner"`
		DeviceID string   `json:"device_id"`
		Label    string   `json:"label"`
		Scope    []string `json:"scope"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	ctx := r.Context()
	if _, err := s.engine.CheckRate(ctx, tokenguard.RateIdentity{
		Route:    "session.start",
		Subject:  body.Owner,
		DeviceID: body.DeviceID,
	}); err != nil {
		middleware.WriteError(w, err)
		return
	}

	_, pair, err := s.engine.StartSession(ctx, body.Owner, tokenguard.StartOptions{
		DeviceID: body.DeviceID,
		Label:    body.Label,
		Scope:    body.Scope,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pairResponse(pair))
}

func (s *server) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
		SessionID    string `json:"session_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.RefreshToken == "" {
		middleware.WriteError(w, tokenguard.ErrInvalidCredential)
		return
	}

	pair, err := s.engine.RotateRefresh(r.Context(), body.SessionID, body.RefreshToken)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if claims.SessionID != "" {
		if err := s.engine.TouchSession(r.Context(), claims.SessionID); err != nil &&
			!errors.Is(err, tokenguard.ErrSessionNotFound) {
			s.log.Debug("session touch failed", "session_id", claims.SessionID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject":    claims.Subject,
		"session_id": claims.SessionID,
		"scope":      claims.Scope,
		"expires_at": claims.ExpiresAt,
	})
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	records, err := s.engine.ListSessions(r.Context(), claims.Subject)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	out := make([]sessionResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, sessionResponse{
			SessionID:  rec.SessionID,
			DeviceID:   rec.DeviceID,
			Label:      rec.DeviceLabel,
			CreatedAt:  rec.CreatedAt,
			LastSeenAt: rec.LastSeenAt,
			Current:    rec.SessionID == claims.SessionID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *server) revokeSession(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	id := mux.Vars(r)["id"]

	// A session of another owner is reported as missing.
	rec, err := s.engine.GetSession(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if rec.Owner != claims.Subject {
		middleware.WriteError(w, tokenguard.ErrSessionNotFound)
		return
	}

	if err := s.engine.RevokeSession(r.Context(), id); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) revokeAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	n, err := s.engine.RevokeAllSessions(r.Context(), claims.Subject)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteError(w, tokenguard.ErrInvalidRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
