package models

import (
	"time"

	id "github.com/ebellera/SSO/pkg/domain"
)

// GlobalSession is the user's authenticated identity at the broker,
// independent of any consumer application.
type GlobalSession struct {
	ID        id.SessionID
	UserEmail string
	CreatedAt time.Time
}

// ExchangeToken correlates a pending cross-domain redirect with one
// (session, application) pair. It is redeemable once, before ExpiresAt.
type ExchangeToken struct {
	Token       string
	SessionID   id.SessionID
	Application id.ApplicationName
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired reports whether the token is past its window at now.
func (t *ExchangeToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AppPolicy is what one application may learn about one user.
type AppPolicy struct {
	Role       string
	ShareEmail bool
}

// UserRecord is static directory data; the protocol only reads it.
type UserRecord struct {
	Email        string
	PasswordHash string
	// UID is the opaque id disclosed to applications instead of the email.
	UID      string
	Policies map[id.ApplicationName]AppPolicy
}

// Application is a registered consumer. CredentialHash is the bcrypt hash of
// the shared secret its backend presents as a bearer credential.
type Application struct {
	Name           id.ApplicationName
	Origin         string
	CredentialHash string
}
