package tokenguard

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/tokenguard/internal/audit"
	"github.com/MrEthical07/tokenguard/jwt"
	"github.com/MrEthical07/tokenguard/refresh"
)

const (
	auditEventSessionStarted  = "session_started"
	auditEventSessionRevoked  = "session_revoked"
	auditEventSessionsRevoked = "sessions_revoked"
	auditEventRefreshRotated  = "refresh_rotated"
	auditEventRefreshRejected = "refresh_rejected"
	auditEventRefreshReplay   = "refresh_replay"
	auditEventFamilyRevoked   = "family_revoked"
	auditEventRateLimited     = "rate_limited"
	auditEventKeysRotated     = "keys_rotated"
)

// AuditErrorCode is the coarse error label attached to audit events.
type AuditErrorCode string

const (
	auditErrMalformed       AuditErrorCode = "malformed"
	auditErrExpired         AuditErrorCode = "expired"
	auditErrSignature       AuditErrorCode = "signature_invalid"
	auditErrUnknownKey      AuditErrorCode = "unknown_key"
	auditErrAlreadyUsed     AuditErrorCode = "already_used"
	auditErrNotAllowed      AuditErrorCode = "not_allowed"
	auditErrFamilyRevoked   AuditErrorCode = "family_revoked"
	auditErrLockTimeout     AuditErrorCode = "lock_timeout"
	auditErrRateLimited     AuditErrorCode = "rate_limited"
	auditErrSessionNotFound AuditErrorCode = "session_not_found"
	auditErrInvalidRequest  AuditErrorCode = "invalid_request"
	auditErrUnavailable     AuditErrorCode = "backend_unavailable"
	auditErrInternal        AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := internalaudit.Event{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   subject,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode keeps the internal failure kind, which never leaves the
// process except through audit sinks.
func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	if kind, ok := jwt.KindOf(err); ok {
		switch kind {
		case jwt.Expired:
			return auditErrExpired
		case jwt.SignatureInvalid:
			return auditErrSignature
		case jwt.UnknownKey:
			return auditErrUnknownKey
		default:
			return auditErrMalformed
		}
	}
	if kind, ok := refresh.KindOf(err); ok {
		switch kind {
		case refresh.AlreadyUsed:
			return auditErrAlreadyUsed
		case refresh.NotAllowed:
			return auditErrNotAllowed
		case refresh.FamilyRevoked:
			return auditErrFamilyRevoked
		case refresh.LockTimeout:
			return auditErrLockTimeout
		}
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrFamilyRevoked):
		return auditErrFamilyRevoked
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidRequest
	case errors.Is(err, ErrServiceUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
