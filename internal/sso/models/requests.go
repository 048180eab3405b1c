package models

import id "github.com/ebellera/SSO/pkg/domain"

// Credentials is an email/password pair submitted to the login form.
type Credentials struct {
	Email    string
	Password string
}

// LoginRequest is one call to the login endpoint. SessionID is the broker
// cookie, zero when the browser has none; Credentials is nil on a plain GET.
type LoginRequest struct {
	ServiceURL  string
	SessionID   id.SessionID
	Credentials *Credentials
}

// LoginOutcome says what the browser should do next.
type LoginOutcome string

const (
	// LoginOutcomePrompt asks the browser to show the login form.
	LoginOutcomePrompt LoginOutcome = "prompt"
	// LoginOutcomeRedirect sends the browser to RedirectURL.
	LoginOutcomeRedirect LoginOutcome = "redirect"
)

// LoginResult is the outcome of Login. SessionID is the live session (new or
// existing) the transport should keep in its cookie.
type LoginResult struct {
	Outcome        LoginOutcome
	RedirectURL    string
	SessionID      id.SessionID
	SessionCreated bool
	// ExchangeToken is set when a handoff happened; transports must not log it.
	ExchangeToken string
}

// ExchangeResult carries the signed assertion for the consumer backend.
type ExchangeResult struct {
	Assertion   string
	Application id.ApplicationName
}

// LogoutRequest identifies the session to end either directly or through a
// still-pending exchange token. SessionID wins when both are set.
type LogoutRequest struct {
	AppCredential string
	SessionID     string
	ExchangeToken string
}

// LogoutResult reports whether a session was actually destroyed.
type LogoutResult struct {
	AlreadyEnded  bool
	RevokedGrants int
	RevokedTokens int
}
