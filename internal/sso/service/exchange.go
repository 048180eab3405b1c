package service

import (
	"context"
	"errors"
	"time"

	"github.com/ebellera/SSO/internal/sso/metrics"
	"github.com/ebellera/SSO/internal/sso/models"
	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
	"github.com/ebellera/SSO/pkg/platform/audit"
	"github.com/ebellera/SSO/pkg/platform/sentinel"
	"github.com/ebellera/SSO/pkg/requestcontext"
)

// Exchange redeems an exchange token for a signed assertion. The calling
// backend authenticates with its application credential, which must belong
// to the application the token was minted for.
//
// Unknown, consumed and expired tokens are indistinguishable to the caller.
// A token survives a rejected credential, a missing grant or session, and a
// missing policy; it is gone once claims are built, even if signing fails.
func (s *Service) Exchange(ctx context.Context, appCredential, token string) (*models.ExchangeResult, error) {
	if appCredential == "" || token == "" {
		s.metrics.IncExchange(metrics.OutcomeRejected)
		return nil, badExchange()
	}
	now := requestcontext.Now(ctx)

	pending, err := s.tokens.Find(ctx, token, now)
	if err != nil {
		return nil, s.exchangeStoreError(ctx, err)
	}

	// bcrypt must not run under the token lock
	if err := s.registry.VerifyApplicationCredential(ctx, pending.Application, appCredential); err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			s.metrics.IncExchange(metrics.OutcomeRejected)
			s.logAudit(ctx, audit.EventExchangeRejected,
				"session_id", pending.SessionID.String(),
				"application", pending.Application.String(),
				"reason", "credential_mismatch",
			)
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unauthorized")
		}
		s.metrics.IncExchange(metrics.OutcomeError)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify application credential")
	}

	var claims models.Claims
	var email string
	consumed, err := s.tokens.Consume(ctx, token, now, func(t *models.ExchangeToken) error {
		if t.Application != pending.Application {
			return dErrors.New(dErrors.CodeUnauthorized, "unauthorized")
		}
		granted, err := s.grants.Has(ctx, t.SessionID, t.Application)
		if err != nil {
			return err
		}
		if !granted {
			return dErrors.New(dErrors.CodeUnauthorized, "unauthorized")
		}
		session, err := s.sessions.FindByID(ctx, t.SessionID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeUnauthorized, "unauthorized")
		}
		if err != nil {
			return err
		}
		user, err := s.registry.User(ctx, session.UserEmail)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "session user is not in the directory")
		}
		p, err := s.policies.Resolve(user, t.Application)
		if err != nil {
			return err
		}
		claims = models.NewClaims(user, p, t.SessionID)
		email = user.Email
		return nil
	})
	if err != nil {
		return nil, s.exchangeConsumeError(ctx, pending, err)
	}

	start := time.Now()
	assertion, err := s.signer.Sign(ctx, claims, consumed.Application)
	s.metrics.ObserveSign(start)
	if err != nil {
		s.metrics.IncExchange(metrics.OutcomeError)
		s.logger.ErrorContext(ctx, "failed to sign assertion; exchange token already consumed",
			"error", err,
			"application", consumed.Application.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign assertion")
	}

	s.metrics.IncExchange(metrics.OutcomeSuccess)
	s.logAudit(ctx, audit.EventTokenIssued,
		"email", email,
		"session_id", consumed.SessionID.String(),
		"application", consumed.Application.String(),
	)
	return &models.ExchangeResult{
		Assertion:   assertion,
		Application: consumed.Application,
	}, nil
}

func badExchange() error {
	return dErrors.New(dErrors.CodeBadRequest, "bad request")
}

func isTokenGone(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound) ||
		errors.Is(err, sentinel.ErrExpired) ||
		errors.Is(err, sentinel.ErrAlreadyUsed)
}

func (s *Service) exchangeStoreError(ctx context.Context, err error) error {
	if isTokenGone(err) {
		s.metrics.IncExchange(metrics.OutcomeRejected)
		return badExchange()
	}
	s.metrics.IncExchange(metrics.OutcomeError)
	s.logger.ErrorContext(ctx, "exchange token lookup failed",
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load exchange token")
}

func (s *Service) exchangeConsumeError(ctx context.Context, pending *models.ExchangeToken, err error) error {
	switch {
	case isTokenGone(err):
		// a concurrent redeemer won
		s.metrics.IncExchange(metrics.OutcomeRejected)
		return badExchange()
	case dErrors.HasCode(err, dErrors.CodeUnauthorized):
		s.metrics.IncExchange(metrics.OutcomeRejected)
		s.logAudit(ctx, audit.EventExchangeRejected,
			"session_id", pending.SessionID.String(),
			"application", pending.Application.String(),
			"reason", "grant_or_session_missing",
		)
		return err
	case dErrors.HasCode(err, dErrors.CodeUnknownPolicy):
		s.metrics.IncExchange(metrics.OutcomeRejected)
		s.logger.ErrorContext(ctx, "application has no policy for session user",
			"application", pending.Application.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return err
	default:
		s.metrics.IncExchange(metrics.OutcomeError)
		s.logger.ErrorContext(ctx, "exchange failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		if dErrors.HasCode(err, dErrors.CodeInternal) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "exchange failed")
	}
}
