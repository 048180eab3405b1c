package service

import (
	"sync"
	"sync/atomic"

	"go.uber.org/mock/gomock"

	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
)

func (s *ServiceSuite) TestConcurrentRedemption() {
	res := s.login(consumerOrigin + "/")
	s.mockSigner.EXPECT().Sign(gomock.Any(), gomock.Any(), consumerApp).Return("signed", nil).Times(1)

	const goroutines = 20
	var wg sync.WaitGroup
	var successes, badRequests atomic.Int32
	start := make(chan struct{})
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.service.Exchange(s.ctx, consumerCredential, res.ExchangeToken)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeBadRequest):
				badRequests.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), badRequests.Load())
}

func (s *ServiceSuite) TestConcurrentHandoffsKeepEveryGrant() {
	first := s.login("")

	const perApp = 10
	var wg sync.WaitGroup
	var failures atomic.Int32
	tokens := make(chan string, 2*perApp)
	for i := range 2 * perApp {
		origin := consumerOrigin
		if i%2 == 1 {
			origin = consumerTwoOrigin
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.service.Login(s.ctx, models.LoginRequest{ServiceURL: origin + "/", SessionID: first.SessionID})
			if err != nil || res.ExchangeToken == "" {
				failures.Add(1)
				return
			}
			tokens <- res.ExchangeToken
		}()
	}
	wg.Wait()
	close(tokens)

	s.Zero(failures.Load())
	seen := make(map[string]struct{})
	for tok := range tokens {
		seen[tok] = struct{}{}
	}
	s.Len(seen, 2*perApp, "every handoff mints a distinct token")

	apps, err := s.grants.List(s.ctx, first.SessionID)
	s.Require().NoError(err)
	s.Equal([]id.ApplicationName{consumerTwoApp, consumerApp}, apps)
}

// Logout racing handoffs must never leave a grant or token behind for a
// session that no longer exists.
func (s *ServiceSuite) TestLogoutRacingHandoffs() {
	for range 5 {
		first := s.login(consumerOrigin + "/")

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := range 10 {
			origin := consumerOrigin
			if i%2 == 1 {
				origin = consumerTwoOrigin
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, _ = s.service.Login(s.ctx, models.LoginRequest{ServiceURL: origin + "/", SessionID: first.SessionID})
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.service.Logout(s.ctx, models.LogoutRequest{
				AppCredential: consumerCredential,
				SessionID:     first.SessionID.String(),
			})
			s.NoError(err)
		}()
		close(start)
		wg.Wait()

		active, err := s.service.SessionActive(s.ctx, first.SessionID)
		s.Require().NoError(err)
		s.False(active)

		apps, err := s.grants.List(s.ctx, first.SessionID)
		s.Require().NoError(err)
		s.Empty(apps)

		leftover, err := s.tokens.DeleteBySession(s.ctx, first.SessionID)
		s.Require().NoError(err)
		s.Zero(leftover)
	}
}
