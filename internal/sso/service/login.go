package service

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/ebellera/SSO/internal/sso/metrics"
	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
	"github.com/ebellera/SSO/pkg/platform/audit"
	"github.com/ebellera/SSO/pkg/platform/sentinel"
	"github.com/ebellera/SSO/pkg/requestcontext"
)

// LandingURL is where a logged-in browser goes when no application asked for
// a handoff.
const LandingURL = "/"

const rollbackTimeout = 5 * time.Second

// errSessionGone signals that a logout won the race against a handoff.
var errSessionGone = errors.New("session ended during handoff")

// Login authenticates the browser (by its existing session or by submitted
// credentials) and, when a service URL is given, hands it off to that
// application with a fresh exchange token.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	var app *models.Application
	if req.ServiceURL != "" {
		resolved, err := s.registry.ApplicationForURL(req.ServiceURL)
		if err != nil {
			s.metrics.IncLogin(metrics.OutcomeRejected)
			if dErrors.HasCode(err, dErrors.CodeForbiddenOrigin) {
				s.logger.WarnContext(ctx, "login requested for disallowed origin",
					"request_id", requestcontext.RequestID(ctx),
				)
			}
			return nil, err
		}
		app = resolved
	}

	session, created, err := s.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}
	if session == nil {
		s.metrics.IncLogin(metrics.OutcomePrompt)
		return &models.LoginResult{Outcome: models.LoginOutcomePrompt}, nil
	}

	if app == nil {
		s.metrics.IncLogin(metrics.OutcomeSuccess)
		return &models.LoginResult{
			Outcome:        models.LoginOutcomeRedirect,
			RedirectURL:    LandingURL,
			SessionID:      session.ID,
			SessionCreated: created,
		}, nil
	}

	token, err := s.handoff(ctx, session, app.Name)
	if errors.Is(err, errSessionGone) {
		s.metrics.IncLogin(metrics.OutcomePrompt)
		return &models.LoginResult{Outcome: models.LoginOutcomePrompt}, nil
	}
	if err != nil {
		if created {
			s.rollbackSession(ctx, session.ID)
		}
		s.metrics.IncLogin(metrics.OutcomeError)
		return nil, err
	}

	redirect, err := withExchangeToken(req.ServiceURL, token)
	if err != nil {
		s.metrics.IncLogin(metrics.OutcomeError)
		return nil, err
	}
	s.metrics.IncLogin(metrics.OutcomeSuccess)
	return &models.LoginResult{
		Outcome:        models.LoginOutcomeRedirect,
		RedirectURL:    redirect,
		SessionID:      session.ID,
		SessionCreated: created,
		ExchangeToken:  token,
	}, nil
}

// resolveSession returns the session to continue with: a new one when
// credentials were submitted, otherwise the cookie session if it is still
// live. A nil session means the browser must be prompted.
func (s *Service) resolveSession(ctx context.Context, req models.LoginRequest) (*models.GlobalSession, bool, error) {
	if req.Credentials != nil {
		session, err := s.authenticate(ctx, req.Credentials)
		if err != nil {
			return nil, false, err
		}
		if !req.SessionID.IsNil() {
			// a browser holds one session; the one it presented is superseded
			if _, err := s.endSession(ctx, req.SessionID, "superseded"); err != nil {
				s.logger.ErrorContext(ctx, "failed to end superseded session",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
			}
		}
		return session, true, nil
	}

	if req.SessionID.IsNil() {
		return nil, false, nil
	}
	session, err := s.sessions.FindByID(ctx, req.SessionID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		s.metrics.IncLogin(metrics.OutcomeError)
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	return session, false, nil
}

func (s *Service) authenticate(ctx context.Context, creds *models.Credentials) (*models.GlobalSession, error) {
	clientIP := requestcontext.ClientIP(ctx)
	if s.limiter != nil {
		if err := s.limiter.Check(ctx, creds.Email, clientIP); err != nil {
			if dErrors.HasCode(err, dErrors.CodeRateLimited) {
				s.metrics.IncLogin(metrics.OutcomeRejected)
				s.logAudit(ctx, audit.EventAuthFailed, "reason", "locked_out")
				return nil, err
			}
			s.metrics.IncLogin(metrics.OutcomeError)
			return nil, err
		}
	}

	user, err := s.verifier.VerifyCredentials(ctx, creds.Email, creds.Password)
	if err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeInvalidCredentials):
			s.metrics.IncLogin(metrics.OutcomeRejected)
			s.logAudit(ctx, audit.EventAuthFailed, "reason", "invalid_credentials")
			if s.limiter != nil {
				if lerr := s.limiter.RecordFailure(ctx, creds.Email, clientIP); lerr != nil {
					s.logger.WarnContext(ctx, "failed to record login failure",
						"error", lerr,
						"request_id", requestcontext.RequestID(ctx),
					)
				}
			}
			return nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
		case ctx.Err() != nil:
			s.metrics.IncLogin(metrics.OutcomeError)
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "login cancelled")
		default:
			s.metrics.IncLogin(metrics.OutcomeError)
			s.logger.ErrorContext(ctx, "credential verification failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify credentials")
		}
	}

	if s.limiter != nil {
		if err := s.limiter.Clear(ctx, creds.Email, clientIP); err != nil {
			s.logger.WarnContext(ctx, "failed to clear login failures",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}

	session := &models.GlobalSession{
		ID:        id.NewSessionID(),
		UserEmail: user.Email,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.metrics.IncLogin(metrics.OutcomeError)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}
	s.logAudit(ctx, audit.EventSessionCreated,
		"email", user.Email,
		"session_id", session.ID.String(),
	)
	return session, nil
}

// handoff records the grant and mints the exchange token while holding the
// session's lock, so a concurrent logout either sees the grant and its token
// or prevents both.
func (s *Service) handoff(ctx context.Context, session *models.GlobalSession, app id.ApplicationName) (string, error) {
	unlock := s.locks.lock(session.ID)
	defer unlock()

	if _, err := s.sessions.FindByID(ctx, session.ID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", errSessionGone
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if _, err := s.grants.Add(ctx, session.ID, app); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to record application grant")
	}

	value, err := s.newToken()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate exchange token")
	}
	now := requestcontext.Now(ctx)
	token := &models.ExchangeToken{
		Token:       value,
		SessionID:   session.ID,
		Application: app,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.tokenTTL),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store exchange token")
	}

	s.metrics.IncTokensMinted()
	s.logAudit(ctx, audit.EventExchangeTokenIssued,
		"email", session.UserEmail,
		"session_id", session.ID.String(),
		"application", app.String(),
	)
	return value, nil
}

// rollbackSession ends a session created by a login whose handoff failed.
// It outlives ctx: a cancelled request must not leave the session behind.
func (s *Service) rollbackSession(ctx context.Context, sessionID id.SessionID) {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if _, err := s.endSession(rbCtx, sessionID, "rollback"); err != nil {
		s.logger.ErrorContext(ctx, "failed to roll back session after handoff failure",
			"error", err,
			"session_id", sessionID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

// withExchangeToken merges the token into serviceURL's query, replacing any
// value the URL already carried.
func withExchangeToken(serviceURL, token string) (string, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeBadRequest, "serviceURL is not a valid absolute URL")
	}
	q := u.Query()
	q.Set(ExchangeTokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
