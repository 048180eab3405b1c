package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
)

// SessionID identifies a GlobalSession. It is a v4 UUID: unguessable and
// generated fresh on every successful login.
type SessionID uuid.UUID

// NewSessionID returns a fresh random session id.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// ParseSessionID parses s at a trust boundary (cookie, query, claim).
// Empty, malformed and nil UUIDs are rejected.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(u), nil
}

func (s SessionID) String() string {
	return uuid.UUID(s).String()
}

// IsNil reports whether s is the zero id.
func (s SessionID) IsNil() bool {
	return uuid.UUID(s) == uuid.Nil
}

// ApplicationName is the registered name of a consumer application
// (e.g. "sso_consumer"). Grant sets, policies and credentials key on it.
type ApplicationName string

func (a ApplicationName) String() string {
	return string(a)
}

func parseUUID(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be nil")
	}
	return u, nil
}
