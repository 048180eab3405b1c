package models

import id "github.com/ebellera/SSO/pkg/domain"

// Claims is the per-application view of a user handed to the signer. Email
// is omitted from the encoding entirely when the policy withholds it.
type Claims struct {
	Role            string `json:"role"`
	Email           string `json:"email,omitempty"`
	UID             string `json:"uid"`
	GlobalSessionID string `json:"globalSessionID"`
}

// NewClaims builds the claims for one exchange. Only fields the policy allows
// are populated.
func NewClaims(user *UserRecord, policy AppPolicy, sessionID id.SessionID) Claims {
	c := Claims{
		Role:            policy.Role,
		UID:             user.UID,
		GlobalSessionID: sessionID.String(),
	}
	if policy.ShareEmail {
		c.Email = user.Email
	}
	return c
}
