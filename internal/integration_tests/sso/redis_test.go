//go:build integration

package sso

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebellera/SSO/internal/sso/service"
	"github.com/ebellera/SSO/internal/sso/store/exchangetoken"
	"github.com/ebellera/SSO/internal/sso/store/grant"
	"github.com/ebellera/SSO/internal/sso/store/session"
	auditmemory "github.com/ebellera/SSO/pkg/platform/audit/store/memory"
	"github.com/ebellera/SSO/pkg/ssoclient"
	"github.com/ebellera/SSO/pkg/testutil/containers"
)

func newRedisBroker(t *testing.T) *broker {
	t.Helper()
	rc := containers.Redis(t)
	rc.Reset(t)

	const prefix = "it:"
	b := &broker{audit: auditmemory.NewInMemoryStore()}
	b.server = serveBroker(t, service.Stores{
		Sessions: session.NewRedis(rc.Client, prefix),
		Grants:   grant.NewRedis(rc.Client, prefix),
		Tokens:   exchangetoken.NewRedis(rc.Client, prefix),
	}, b.audit)
	return b
}

func TestRedisBackedLoginExchangeLogout(t *testing.T) {
	ctx := context.Background()
	b := newRedisBroker(t)
	browser := b.browser(t)
	consumer := b.consumer(t, "sso_consumer", consumerCredential)
	consumerTwo := b.consumer(t, "simple_sso_consumer", consumerTwoCredential)

	first := exchangeToken(t, b.submitCredentials(t, browser, consumerOrigin+"/", userEmail, userPassword))
	second := exchangeToken(t, b.visitLogin(t, browser, consumerTwoOrigin+"/"))
	require.NotEqual(t, first, second)

	claims, err := consumer.Exchange(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, userEmail, claims.Email)

	_, err = consumer.Exchange(ctx, first)
	var apiErr *ssoclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	require.NoError(t, consumerTwo.Logout(ctx, claims.GlobalSessionID))

	// Logout revokes the handoff that was still pending.
	_, err = consumerTwo.Exchange(ctx, second)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestRedisBackedConcurrentRedemption(t *testing.T) {
	ctx := context.Background()
	b := newRedisBroker(t)
	browser := b.browser(t)
	consumer := b.consumer(t, "sso_consumer", consumerCredential)
	token := exchangeToken(t, b.submitCredentials(t, browser, consumerOrigin+"/", userEmail, userPassword))

	const callers = 16
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := consumer.Exchange(ctx, token); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
}
