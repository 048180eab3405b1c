package service

import (
	"context"
	"errors"

	"github.com/ebellera/SSO/internal/sso/metrics"
	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
	"github.com/ebellera/SSO/pkg/platform/audit"
	"github.com/ebellera/SSO/pkg/platform/sentinel"
	"github.com/ebellera/SSO/pkg/requestcontext"
)

// Logout ends a global session on behalf of a consumer backend. The session
// is named directly or through one of its pending exchange tokens, and the
// caller's credential must belong to an application the session was handed
// off to. Ending an already ended session succeeds.
func (s *Service) Logout(ctx context.Context, req models.LogoutRequest) (*models.LogoutResult, error) {
	sessionID, err := s.resolveLogoutSession(ctx, req)
	if err != nil {
		s.metrics.IncLogout(metrics.OutcomeRejected)
		return nil, err
	}
	if req.AppCredential == "" {
		s.metrics.IncLogout(metrics.OutcomeRejected)
		return nil, dErrors.New(dErrors.CodeUnauthorized, "application credential required")
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncLogout(metrics.OutcomeSuccess)
		return &models.LogoutResult{AlreadyEnded: true}, nil
	}
	if err != nil {
		s.metrics.IncLogout(metrics.OutcomeError)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}

	// grant sets only grow, so authorizing against a snapshot is safe
	app, err := s.authorizeLogout(ctx, sessionID, req.AppCredential)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.metrics.IncLogout(metrics.OutcomeRejected)
			s.logAudit(ctx, audit.EventAuthFailed,
				"email", session.UserEmail,
				"session_id", sessionID.String(),
				"reason", "logout_credential_not_granted",
			)
		} else {
			s.metrics.IncLogout(metrics.OutcomeError)
		}
		return nil, err
	}

	result, err := s.endSession(ctx, sessionID, "logout:"+app.String())
	if err != nil {
		s.metrics.IncLogout(metrics.OutcomeError)
		return nil, err
	}
	s.metrics.IncLogout(metrics.OutcomeSuccess)
	return result, nil
}

// EndSession runs the logout cascade for the broker's own cookie session.
func (s *Service) EndSession(ctx context.Context, sessionID id.SessionID) (*models.LogoutResult, error) {
	if sessionID.IsNil() {
		return &models.LogoutResult{AlreadyEnded: true}, nil
	}
	return s.endSession(ctx, sessionID, "browser")
}

// SessionActive reports whether sessionID names a live session.
func (s *Service) SessionActive(ctx context.Context, sessionID id.SessionID) (bool, error) {
	if sessionID.IsNil() {
		return false, nil
	}
	_, err := s.sessions.FindByID(ctx, sessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	return true, nil
}

func (s *Service) resolveLogoutSession(ctx context.Context, req models.LogoutRequest) (id.SessionID, error) {
	if req.SessionID != "" {
		sessionID, err := id.ParseSessionID(req.SessionID)
		if err != nil {
			return id.SessionID{}, dErrors.New(dErrors.CodeBadRequest, "globalSessionID is not a valid session id")
		}
		return sessionID, nil
	}
	if req.ExchangeToken != "" {
		pending, err := s.tokens.Find(ctx, req.ExchangeToken, requestcontext.Now(ctx))
		if isTokenGone(err) {
			return id.SessionID{}, dErrors.New(dErrors.CodeBadRequest, "exchange token does not reference a session")
		}
		if err != nil {
			return id.SessionID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load exchange token")
		}
		return pending.SessionID, nil
	}
	return id.SessionID{}, dErrors.New(dErrors.CodeBadRequest, "globalSessionID or exchangeToken is required")
}

// authorizeLogout returns the granted application whose credential matches.
func (s *Service) authorizeLogout(ctx context.Context, sessionID id.SessionID, credential string) (id.ApplicationName, error) {
	apps, err := s.grants.List(ctx, sessionID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to list application grants")
	}
	for _, app := range apps {
		err := s.registry.VerifyApplicationCredential(ctx, app, credential)
		if err == nil {
			return app, nil
		}
		if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify application credential")
		}
	}
	return "", dErrors.New(dErrors.CodeUnauthorized, "application is not part of this session")
}

// endSession destroys the session, its grant set and its pending exchange
// tokens under the session lock. Missing pieces are not errors.
func (s *Service) endSession(ctx context.Context, sessionID id.SessionID, reason string) (*models.LogoutResult, error) {
	unlock := s.locks.lock(sessionID)
	defer unlock()

	result := &models.LogoutResult{}
	session, err := s.sessions.FindByID(ctx, sessionID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		result.AlreadyEnded = true
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	default:
		if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete session")
		}
	}

	grants, err := s.grants.DeleteSession(ctx, sessionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete application grants")
	}
	tokens, err := s.tokens.DeleteBySession(ctx, sessionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke exchange tokens")
	}
	result.RevokedGrants = grants
	result.RevokedTokens = tokens
	s.metrics.AddTokensRevoked(tokens)

	if session != nil {
		s.logAudit(ctx, audit.EventSessionRevoked,
			"email", session.UserEmail,
			"session_id", sessionID.String(),
			"reason", reason,
		)
	}
	return result, nil
}
