package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks -exclude_interfaces=SessionStore,GrantStore,ExchangeTokenStore,ApplicationRegistry,PolicyResolver,LoginLimiter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ebellera/SSO/internal/sso/metrics"
	"github.com/ebellera/SSO/internal/sso/models"
	"github.com/ebellera/SSO/internal/sso/policy"
	"github.com/ebellera/SSO/internal/sso/store/exchangetoken"
	"github.com/ebellera/SSO/pkg/attrs"
	id "github.com/ebellera/SSO/pkg/domain"
	"github.com/ebellera/SSO/pkg/platform/audit"
	"github.com/ebellera/SSO/pkg/platform/secrets"
	"github.com/ebellera/SSO/pkg/requestcontext"
)

// DefaultExchangeTokenTTL bounds how long a handoff redirect stays redeemable.
const DefaultExchangeTokenTTL = 2 * time.Minute

// ExchangeTokenParam is the query parameter carrying the exchange token on
// the redirect back to the consumer application.
const ExchangeTokenParam = "exchangeToken"

type SessionStore interface {
	Create(ctx context.Context, session *models.GlobalSession) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.GlobalSession, error)
	Delete(ctx context.Context, sessionID id.SessionID) error
}

type GrantStore interface {
	Add(ctx context.Context, sessionID id.SessionID, app id.ApplicationName) (bool, error)
	Has(ctx context.Context, sessionID id.SessionID, app id.ApplicationName) (bool, error)
	List(ctx context.Context, sessionID id.SessionID) ([]id.ApplicationName, error)
	DeleteSession(ctx context.Context, sessionID id.SessionID) (int, error)
}

type ExchangeTokenStore interface {
	Create(ctx context.Context, token *models.ExchangeToken) error
	Find(ctx context.Context, token string, now time.Time) (*models.ExchangeToken, error)
	Consume(ctx context.Context, token string, now time.Time, validate exchangetoken.ValidateFunc) (*models.ExchangeToken, error)
	DeleteBySession(ctx context.Context, sessionID id.SessionID) (int, error)
}

// CredentialVerifier checks a login form submission.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (*models.UserRecord, error)
}

// ApplicationRegistry answers questions about registered consumers and the
// users they may see.
type ApplicationRegistry interface {
	ApplicationForURL(serviceURL string) (*models.Application, error)
	VerifyApplicationCredential(ctx context.Context, app id.ApplicationName, credential string) error
	User(ctx context.Context, email string) (*models.UserRecord, error)
}

type PolicyResolver interface {
	Resolve(user *models.UserRecord, app id.ApplicationName) (models.AppPolicy, error)
}

// Signer turns claims into an assertion scoped to one application.
type Signer interface {
	Sign(ctx context.Context, claims models.Claims, audience id.ApplicationName) (string, error)
}

// LoginLimiter refuses credential checks for an email and client address that
// failed too often.
type LoginLimiter interface {
	Check(ctx context.Context, email, ip string) error
	RecordFailure(ctx context.Context, email, ip string) error
	Clear(ctx context.Context, email, ip string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Stores groups the three pieces of broker state.
type Stores struct {
	Sessions SessionStore
	Grants   GrantStore
	Tokens   ExchangeTokenStore
}

// Service implements the broker protocol: login, exchange and logout over the
// session store, grant registry and exchange token cache.
type Service struct {
	sessions SessionStore
	grants   GrantStore
	tokens   ExchangeTokenStore

	verifier CredentialVerifier
	registry ApplicationRegistry
	policies PolicyResolver
	signer   Signer
	limiter  LoginLimiter

	locks    *sessionLocks
	tokenTTL time.Duration
	newToken func() (string, error)

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPolicyResolver(r PolicyResolver) Option {
	return func(s *Service) {
		s.policies = r
	}
}

// WithLoginLimiter enables failed-login lockout. Without it every attempt is
// checked.
func WithLoginLimiter(l LoginLimiter) Option {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithExchangeTokenTTL overrides DefaultExchangeTokenTTL. Non-positive values
// are ignored.
func WithExchangeTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithTokenGenerator replaces secrets.Generate for exchange token values.
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		s.newToken = gen
	}
}

// New constructs a Service. Every store and collaborator is required.
func New(stores Stores, verifier CredentialVerifier, registry ApplicationRegistry, signer Signer, opts ...Option) (*Service, error) {
	if stores.Sessions == nil || stores.Grants == nil || stores.Tokens == nil {
		return nil, errors.New("session, grant and exchange token stores are required")
	}
	if verifier == nil || registry == nil || signer == nil {
		return nil, errors.New("credential verifier, application registry and signer are required")
	}
	s := &Service{
		sessions: stores.Sessions,
		grants:   stores.Grants,
		tokens:   stores.Tokens,
		verifier: verifier,
		registry: registry,
		policies: policy.NewResolver(),
		signer:   signer,
		locks:    newSessionLocks(),
		tokenTTL: DefaultExchangeTokenTTL,
		newToken: secrets.Generate,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:      string(event),
		Timestamp:   requestcontext.Now(ctx),
		Subject:     attrs.ExtractString(attributes, "email"),
		SessionID:   attrs.ExtractString(attributes, "session_id"),
		Application: attrs.ExtractString(attributes, "application"),
		Reason:      attrs.ExtractString(attributes, "reason"),
		RequestID:   requestID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
