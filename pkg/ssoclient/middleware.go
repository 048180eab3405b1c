package ssoclient

import (
	"net/http"
	"net/url"
)

// SessionBinder is the consumer's own session layer.
type SessionBinder interface {
	// Current returns the claims bound to r, or nil when there are none.
	Current(r *http.Request) *Claims
	// Bind persists claims for the browser behind w.
	Bind(w http.ResponseWriter, r *http.Request, claims *Claims) error
}

// Middleware protects next. Requests carrying an exchange token are redeemed
// and redirected to the same URL without it; requests with no local session
// are sent to the broker login.
func (c *Client) Middleware(sessions SessionBinder, publicURL func(*http.Request) string) func(http.Handler) http.Handler {
	if publicURL == nil {
		publicURL = requestURL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := r.URL.Query().Get(ExchangeTokenParam); token != "" {
				claims, err := c.Exchange(r.Context(), token)
				if err != nil {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
				if err := sessions.Bind(w, r, claims); err != nil {
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				http.Redirect(w, r, StripExchangeToken(r.URL.String()), http.StatusFound)
				return
			}
			if sessions.Current(r) == nil {
				http.Redirect(w, r, c.LoginURL(publicURL(r)), http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	return u.String()
}
