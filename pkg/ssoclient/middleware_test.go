package ssoclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySessions struct {
	bound *Claims
}

func (m *memorySessions) Current(*http.Request) *Claims { return m.bound }

func (m *memorySessions) Bind(_ http.ResponseWriter, _ *http.Request, c *Claims) error {
	m.bound = c
	return nil
}

func TestMiddleware(t *testing.T) {
	assertion := signAssertion(t, testKey, testApp, time.Now().Add(time.Hour))
	broker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(ExchangeTokenParam) != "good" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": assertion})
	}))
	t.Cleanup(broker.Close)

	client, err := New(Config{BaseURL: broker.URL, Application: testApp, Credential: testCredential, SigningKey: testKey})
	require.NoError(t, err)

	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Run("no session redirects to broker login", func(t *testing.T) {
		sessions := &memorySessions{}
		h := client.Middleware(sessions, nil)(protected)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://consumer.test/dashboard", nil))

		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, client.LoginURL("http://consumer.test/dashboard"), rr.Header().Get("Location"))
	})

	t.Run("exchange token binds a session and strips the token", func(t *testing.T) {
		sessions := &memorySessions{}
		h := client.Middleware(sessions, nil)(protected)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://consumer.test/dashboard?exchangeToken=good", nil))

		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "http://consumer.test/dashboard", rr.Header().Get("Location"))
		require.NotNil(t, sessions.bound)
		assert.Equal(t, "uid-info", sessions.bound.UID)
	})

	t.Run("rejected exchange token", func(t *testing.T) {
		sessions := &memorySessions{}
		h := client.Middleware(sessions, nil)(protected)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://consumer.test/dashboard?exchangeToken=stale", nil))

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Nil(t, sessions.bound)
	})

	t.Run("existing session passes through", func(t *testing.T) {
		sessions := &memorySessions{bound: &Claims{UID: "uid-info"}}
		h := client.Middleware(sessions, nil)(protected)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://consumer.test/dashboard", nil))

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}
