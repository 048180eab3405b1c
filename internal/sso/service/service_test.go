package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/ebellera/SSO/internal/sso/directory"
	"github.com/ebellera/SSO/internal/sso/lockout"
	"github.com/ebellera/SSO/internal/sso/models"
	"github.com/ebellera/SSO/internal/sso/service/mocks"
	"github.com/ebellera/SSO/internal/sso/store/exchangetoken"
	"github.com/ebellera/SSO/internal/sso/store/grant"
	"github.com/ebellera/SSO/internal/sso/store/session"
	id "github.com/ebellera/SSO/pkg/domain"
	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
	"github.com/ebellera/SSO/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	dir *directory.Directory

	ctrl         *gomock.Controller
	mockVerifier *mocks.MockCredentialVerifier
	mockSigner   *mocks.MockSigner
	mockAudit    *mocks.MockAuditPublisher

	sessions *session.InMemorySessionStore
	grants   *grant.InMemoryGrantStore
	tokens   *exchangetoken.InMemoryExchangeTokenStore
	service  *Service
	ctx      context.Context
	now      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupSuite() {
	s.dir = testDirectory()
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockVerifier = mocks.NewMockCredentialVerifier(s.ctrl)
	s.mockSigner = mocks.NewMockSigner(s.ctrl)
	s.mockAudit = mocks.NewMockAuditPublisher(s.ctrl)
	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	s.service = s.newService()
	s.now = time.Now()
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	s.sessions = session.New()
	s.grants = grant.New()
	s.tokens = exchangetoken.New()
	opts = append([]Option{WithAuditPublisher(s.mockAudit)}, opts...)
	svc, err := New(
		Stores{Sessions: s.sessions, Grants: s.grants, Tokens: s.tokens},
		s.mockVerifier, s.dir, s.mockSigner, opts...,
	)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) expectValidCredentials() {
	user, err := s.dir.User(context.Background(), userEmail)
	s.Require().NoError(err)
	s.mockVerifier.EXPECT().VerifyCredentials(gomock.Any(), userEmail, userPassword).Return(user, nil)
}

// login submits valid credentials for serviceURL and returns the result.
func (s *ServiceSuite) login(serviceURL string) *models.LoginResult {
	s.expectValidCredentials()
	res, err := s.service.Login(s.ctx, models.LoginRequest{
		ServiceURL:  serviceURL,
		Credentials: &models.Credentials{Email: userEmail, Password: userPassword},
	})
	s.Require().NoError(err)
	return res
}

// handoff continues an existing session to serviceURL.
func (s *ServiceSuite) handoff(sid id.SessionID, serviceURL string) *models.LoginResult {
	res, err := s.service.Login(s.ctx, models.LoginRequest{ServiceURL: serviceURL, SessionID: sid})
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) sessionCount() int {
	n, err := s.sessions.Count(context.Background())
	s.Require().NoError(err)
	return n
}

func (s *ServiceSuite) TestNewRequiresCollaborators() {
	_, err := New(Stores{}, s.mockVerifier, s.dir, s.mockSigner)
	s.Error(err)

	_, err = New(Stores{Sessions: session.New(), Grants: grant.New(), Tokens: exchangetoken.New()}, nil, s.dir, s.mockSigner)
	s.Error(err)
}

func (s *ServiceSuite) TestLogin_OriginChecks() {
	cases := map[string]string{
		"disabled origin":          disabledOrigin + "/",
		"unlisted origin":          "http://attacker.test/",
		"allowed but unregistered": orphanOrigin + "/",
	}
	for name, serviceURL := range cases {
		s.Run(name+" is refused before any session work", func() {
			_, err := s.service.Login(s.ctx, models.LoginRequest{
				ServiceURL:  serviceURL,
				Credentials: &models.Credentials{Email: userEmail, Password: userPassword},
			})
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeForbiddenOrigin))
			s.Zero(s.sessionCount())
		})
	}

	s.Run("unparseable serviceURL is a bad request", func() {
		_, err := s.service.Login(s.ctx, models.LoginRequest{ServiceURL: "::not a url"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestLogin_Prompt() {
	s.Run("no session and no credentials", func() {
		res, err := s.service.Login(s.ctx, models.LoginRequest{ServiceURL: consumerOrigin + "/"})
		s.Require().NoError(err)
		s.Equal(models.LoginOutcomePrompt, res.Outcome)
		s.Empty(res.ExchangeToken)
	})

	s.Run("cookie names a session that no longer exists", func() {
		res, err := s.service.Login(s.ctx, models.LoginRequest{
			ServiceURL: consumerOrigin + "/",
			SessionID:  id.NewSessionID(),
		})
		s.Require().NoError(err)
		s.Equal(models.LoginOutcomePrompt, res.Outcome)
	})
}

func (s *ServiceSuite) TestLogin_Credentials() {
	s.Run("invalid credentials leave no state", func() {
		s.mockVerifier.EXPECT().VerifyCredentials(gomock.Any(), userEmail, "wrong").
			Return(nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password"))

		_, err := s.service.Login(s.ctx, models.LoginRequest{
			ServiceURL:  consumerOrigin + "/",
			Credentials: &models.Credentials{Email: userEmail, Password: "wrong"},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
		s.Zero(s.sessionCount())
	})

	s.Run("cancelled verification leaves no state", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		s.mockVerifier.EXPECT().VerifyCredentials(gomock.Any(), userEmail, userPassword).Return(nil, context.Canceled)

		_, err := s.service.Login(ctx, models.LoginRequest{
			Credentials: &models.Credentials{Email: userEmail, Password: userPassword},
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
		s.Zero(s.sessionCount())
	})

	s.Run("verifier failure is internal", func() {
		s.mockVerifier.EXPECT().VerifyCredentials(gomock.Any(), userEmail, userPassword).Return(nil, errors.New("directory down"))

		_, err := s.service.Login(s.ctx, models.LoginRequest{
			Credentials: &models.Credentials{Email: userEmail, Password: userPassword},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("valid credentials without serviceURL land on the broker", func() {
		res := s.login("")
		s.Equal(models.LoginOutcomeRedirect, res.Outcome)
		s.Equal(LandingURL, res.RedirectURL)
		s.True(res.SessionCreated)
		s.False(res.SessionID.IsNil())
		s.Empty(res.ExchangeToken)
	})

	s.Run("valid credentials with serviceURL hand off", func() {
		res := s.login(consumerOrigin + "/dashboard")
		s.Equal(models.LoginOutcomeRedirect, res.Outcome)
		s.NotEmpty(res.ExchangeToken)
		s.Equal(res.ExchangeToken, exchangeTokenFrom(res.RedirectURL))
		s.Contains(res.RedirectURL, consumerOrigin+"/dashboard?")

		granted, err := s.grants.Has(s.ctx, res.SessionID, consumerApp)
		s.Require().NoError(err)
		s.True(granted)

		pending, err := s.tokens.Find(s.ctx, res.ExchangeToken, s.now)
		s.Require().NoError(err)
		s.Equal(res.SessionID, pending.SessionID)
		s.Equal(consumerApp, pending.Application)
		s.Equal(s.now.Add(DefaultExchangeTokenTTL), pending.ExpiresAt)
	})

	s.Run("fresh credentials replace the presented session", func() {
		old := s.login(consumerOrigin + "/")

		s.expectValidCredentials()
		res, err := s.service.Login(s.ctx, models.LoginRequest{
			ServiceURL:  consumerTwoOrigin + "/",
			SessionID:   old.SessionID,
			Credentials: &models.Credentials{Email: userEmail, Password: userPassword},
		})
		s.Require().NoError(err)
		s.NotEqual(old.SessionID, res.SessionID)

		_, err = s.sessions.FindByID(s.ctx, old.SessionID)
		s.Error(err)
		apps, err := s.grants.List(s.ctx, old.SessionID)
		s.Require().NoError(err)
		s.Empty(apps)
		_, err = s.tokens.Find(s.ctx, old.ExchangeToken, s.now)
		s.Error(err)
	})
}

func (s *ServiceSuite) TestLogin_ExistingSession() {
	first := s.login(consumerOrigin + "/")

	s.Run("second application joins without a new session", func() {
		res := s.handoff(first.SessionID, consumerTwoOrigin+"/home")
		s.Equal(models.LoginOutcomeRedirect, res.Outcome)
		s.Equal(first.SessionID, res.SessionID)
		s.False(res.SessionCreated)
		s.NotEqual(first.ExchangeToken, res.ExchangeToken)

		apps, err := s.grants.List(s.ctx, first.SessionID)
		s.Require().NoError(err)
		s.ElementsMatch([]id.ApplicationName{consumerApp, consumerTwoApp}, apps)
	})

	s.Run("repeat handoff keeps the grant set and mints a new token", func() {
		res := s.handoff(first.SessionID, consumerOrigin+"/again")
		s.NotEqual(first.ExchangeToken, res.ExchangeToken)

		apps, err := s.grants.List(s.ctx, first.SessionID)
		s.Require().NoError(err)
		s.Len(apps, 2)
	})

	s.Run("existing query is kept and a stale token parameter replaced", func() {
		res := s.handoff(first.SessionID, consumerOrigin+"/page?tab=2&exchangeToken=stale")
		s.Equal(res.ExchangeToken, exchangeTokenFrom(res.RedirectURL))
		s.Contains(res.RedirectURL, "tab=2")
		s.NotContains(res.RedirectURL, "stale")
	})

	s.Run("no serviceURL redirects to landing", func() {
		res := s.handoff(first.SessionID, "")
		s.Equal(LandingURL, res.RedirectURL)
		s.Empty(res.ExchangeToken)
	})
}

func (s *ServiceSuite) TestLogin_MintFailureRollsBackFreshSession() {
	s.service = s.newService(WithTokenGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))
	s.expectValidCredentials()

	_, err := s.service.Login(s.ctx, models.LoginRequest{
		ServiceURL:  consumerOrigin + "/",
		Credentials: &models.Credentials{Email: userEmail, Password: userPassword},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Zero(s.sessionCount())
}

func (s *ServiceSuite) TestLogin_CancelledHandoffRollsBackRedisSession() {
	mr := miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	svc, err := New(
		Stores{
			Sessions: session.NewRedis(client, "t:"),
			Grants:   grant.NewRedis(client, "t:"),
			Tokens:   exchangetoken.NewRedis(client, "t:"),
		},
		s.mockVerifier, s.dir, s.mockSigner,
		WithAuditPublisher(s.mockAudit),
		WithTokenGenerator(func() (string, error) {
			cancel()
			return "token-after-cancel", nil
		}),
	)
	s.Require().NoError(err)
	s.expectValidCredentials()

	_, err = svc.Login(ctx, models.LoginRequest{
		ServiceURL:  consumerOrigin + "/",
		Credentials: &models.Credentials{Email: userEmail, Password: userPassword},
	})
	s.Require().Error(err)
	s.Empty(mr.Keys(), "no session or grant may survive a cancelled login")
}

func (s *ServiceSuite) TestExchange_Success() {
	s.Run("admin consumer receives email", func() {
		res := s.login(consumerOrigin + "/")
		var signed models.Claims
		s.mockSigner.EXPECT().Sign(gomock.Any(), gomock.Any(), consumerApp).
			DoAndReturn(func(_ context.Context, c models.Claims, _ id.ApplicationName) (string, error) {
				signed = c
				return "signed-assertion", nil
			})

		out, err := s.service.Exchange(s.ctx, consumerCredential, res.ExchangeToken)
		s.Require().NoError(err)
		s.Equal("signed-assertion", out.Assertion)
		s.Equal(consumerApp, out.Application)
		s.Equal(models.Claims{
			Role:            "admin",
			Email:           userEmail,
			UID:             "uid-info",
			GlobalSessionID: res.SessionID.String(),
		}, signed)

		_, err = s.tokens.Find(s.ctx, res.ExchangeToken, s.now)
		s.Error(err, "token must be gone after redemption")
	})

	s.Run("user consumer does not receive email", func() {
		res := s.login(consumerTwoOrigin + "/")
		var signed models.Claims
		s.mockSigner.EXPECT().Sign(gomock.Any(), gomock.Any(), consumerTwoApp).
			DoAndReturn(func(_ context.Context, c models.Claims, _ id.ApplicationName) (string, error) {
				signed = c
				return "signed", nil
			})

		_, err := s.service.Exchange(s.ctx, consumerTwoCredential, res.ExchangeToken)
		s.Require().NoError(err)
		s.Equal("user", signed.Role)
		s.Empty(signed.Email)
		s.Equal("uid-info", signed.UID)
	})
}

func (s *ServiceSuite) TestExchange_BadRequests() {
	res := s.login(consumerOrigin + "/")

	cases := []struct {
		name       string
		ctx        context.Context
		credential string
		token      string
	}{
		{"missing credential", s.ctx, "", res.ExchangeToken},
		{"missing token", s.ctx, consumerCredential, ""},
		{"unknown token", s.ctx, consumerCredential, "never-issued"},
		{"expired token", requestcontext.WithTime(context.Background(), s.now.Add(DefaultExchangeTokenTTL)), consumerCredential, res.ExchangeToken},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.Exchange(tc.ctx, tc.credential, tc.token)
			s.Require().ErrorIs(err, dErrors.New(dErrors.CodeBadRequest, "bad request"))
		})
	}

	s.Run("second redemption is a bad request", func() {
		fresh := s.handoff(res.SessionID, consumerOrigin+"/")
		s.mockSigner.EXPECT().Sign(gomock.Any(), gomock.Any(), consumerApp).Return("signed", nil)

		_, err := s.service.Exchange(s.ctx, consumerCredential, fresh.ExchangeToken)
		s.Require().NoError(err)
		_, err = s.service.Exchange(s.ctx, consumerCredential, fresh.ExchangeToken)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestExchange_UnauthorizedKeepsToken() {
	s.Run("wrong credential then right credential", func() {
		res := s.login(consumerOrigin + "/")

		_, err := s.service.Exchange(s.ctx, "not-the-credential", res.ExchangeToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		s.mockSigner.EXPECT().Sign(gomock.Any(), gomock.Any(), consumerApp).Return("signed", nil)
		_, err = s.service.Exchange(s.ctx, consumerCredential, res.ExchangeToken)
		s.NoError(err)
	})

	s.Run("another registered application's credential", func() {
		res := s.login(consumerOrigin + "/")
		_, err := s.service.Exchange(s.ctx, consumerTwoCredential, res.ExchangeToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("grant missing", func() {
		res := s.login(consumerOrigin + "/")
		_, err := s.grants.DeleteSession(s.ctx, res.SessionID)
		s.Require().NoError(err)

		_, err = s.service.Exchange(s.ctx, consumerCredential, res.ExchangeToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		_, err = s.tokens.Find(s.ctx, res.ExchangeToken, s.now)
		s.NoError(err)
	})

	s.Run("session missing", func() {
		res := s.login(consumerOrigin + "/")
		s.Require().NoError(s.sessions.Delete(s.ctx, res.SessionID))

		_, err := s.service.Exchange(s.ctx, consumerCredential, res.ExchangeToken)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		_, err = s.tokens.Find(s.ctx, res.ExchangeToken, s.now)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestExchange_UnknownPolicy() {
	res := s.login(reportsOrigin + "/")
	s.Require().NotEmpty(res.ExchangeToken)

	_, err := s.service.Exchange(s.ctx, reportsCredential, res.ExchangeToken)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownPolicy))

	_, err = s.tokens.Find(s.ctx, res.ExchangeToken, s.now)
	s.NoError(err, "policy failure must not consume the token")
}

func (s *ServiceSuite) TestExchange_SignFailureConsumesToken() {
	res := s.login(consumerOrigin + "/")
	s.mockSigner.EXPECT().Sign(gomock.Any(), gomock.Any(), consumerApp).Return("", errors.New("hsm offline"))

	_, err := s.service.Exchange(s.ctx, consumerCredential, res.ExchangeToken)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = s.service.Exchange(s.ctx, consumerCredential, res.ExchangeToken)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestLogout() {
	s.Run("granted application ends the session and everything hanging off it", func() {
		first := s.login(consumerOrigin + "/")
		second := s.handoff(first.SessionID, consumerTwoOrigin+"/")

		out, err := s.service.Logout(s.ctx, models.LogoutRequest{
			AppCredential: consumerTwoCredential,
			SessionID:     first.SessionID.String(),
		})
		s.Require().NoError(err)
		s.False(out.AlreadyEnded)
		s.Equal(2, out.RevokedGrants)
		s.Equal(2, out.RevokedTokens)

		active, err := s.service.SessionActive(s.ctx, first.SessionID)
		s.Require().NoError(err)
		s.False(active)

		for _, tok := range []string{first.ExchangeToken, second.ExchangeToken} {
			_, err := s.service.Exchange(s.ctx, consumerCredential, tok)
			s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		}
	})

	s.Run("repeat logout reports success", func() {
		res := s.login(consumerOrigin + "/")
		req := models.LogoutRequest{AppCredential: consumerCredential, SessionID: res.SessionID.String()}

		_, err := s.service.Logout(s.ctx, req)
		s.Require().NoError(err)
		out, err := s.service.Logout(s.ctx, req)
		s.Require().NoError(err)
		s.True(out.AlreadyEnded)
	})

	s.Run("pending exchange token names the session", func() {
		res := s.login(consumerOrigin + "/")

		out, err := s.service.Logout(s.ctx, models.LogoutRequest{
			AppCredential: consumerCredential,
			ExchangeToken: res.ExchangeToken,
		})
		s.Require().NoError(err)
		s.False(out.AlreadyEnded)
		s.Equal(1, out.RevokedTokens)
	})

	s.Run("application outside the grant set is refused", func() {
		res := s.login(consumerOrigin + "/")

		_, err := s.service.Logout(s.ctx, models.LogoutRequest{
			AppCredential: consumerTwoCredential,
			SessionID:     res.SessionID.String(),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

		active, err := s.service.SessionActive(s.ctx, res.SessionID)
		s.Require().NoError(err)
		s.True(active)
	})

	s.Run("missing credential is unauthorized", func() {
		res := s.login(consumerOrigin + "/")
		_, err := s.service.Logout(s.ctx, models.LogoutRequest{SessionID: res.SessionID.String()})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	unresolvable := map[string]models.LogoutRequest{
		"no reference":         {AppCredential: consumerCredential},
		"malformed session id": {AppCredential: consumerCredential, SessionID: "not-a-uuid"},
		"stale exchange token": {AppCredential: consumerCredential, ExchangeToken: "gone"},
		"no credential either": {},
	}
	for name, req := range unresolvable {
		s.Run(name+" is a bad request", func() {
			_, err := s.service.Logout(s.ctx, req)
			s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		})
	}
}

func (s *ServiceSuite) TestEndSession() {
	res := s.login(consumerOrigin + "/")

	out, err := s.service.EndSession(s.ctx, res.SessionID)
	s.Require().NoError(err)
	s.False(out.AlreadyEnded)
	s.Equal(1, out.RevokedGrants)
	s.Equal(1, out.RevokedTokens)

	out, err = s.service.EndSession(s.ctx, res.SessionID)
	s.Require().NoError(err)
	s.True(out.AlreadyEnded)

	out, err = s.service.EndSession(s.ctx, id.SessionID{})
	s.Require().NoError(err)
	s.True(out.AlreadyEnded)
}

func (s *ServiceSuite) TestLoginLockout() {
	limiter, err := lockout.New(lockout.NewInMemoryStore(),
		lockout.WithConfig(lockout.Config{MaxFailures: 2, Window: time.Minute, LockDuration: time.Minute}))
	s.Require().NoError(err)
	s.service = s.newService(WithLoginLimiter(limiter))
	ctx := requestcontext.WithClientIP(s.ctx, "203.0.113.7")
	bad := models.LoginRequest{
		ServiceURL:  consumerOrigin + "/",
		Credentials: &models.Credentials{Email: userEmail, Password: "wrong"},
	}

	s.mockVerifier.EXPECT().VerifyCredentials(gomock.Any(), userEmail, "wrong").
		Return(nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")).Times(2)
	for range 2 {
		_, err := s.service.Login(ctx, bad)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
	}

	s.Run("locked pair is refused before the password is checked", func() {
		good := bad
		good.Credentials = &models.Credentials{Email: userEmail, Password: userPassword}
		_, err := s.service.Login(ctx, good)
		s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
		s.Zero(s.sessionCount())
	})

	s.Run("another client address may still log in", func() {
		s.expectValidCredentials()
		other := requestcontext.WithClientIP(s.ctx, "198.51.100.1")
		res, err := s.service.Login(other, models.LoginRequest{
			ServiceURL:  consumerOrigin + "/",
			Credentials: &models.Credentials{Email: userEmail, Password: userPassword},
		})
		s.Require().NoError(err)
		s.Equal(models.LoginOutcomeRedirect, res.Outcome)
	})
}
