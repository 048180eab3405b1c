package signer

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	"github.com/ebellera/SSO/pkg/requestcontext"
)

// AssertionClaims is the signed identity assertion a consumer application
// receives: the policy-filtered user view plus registered JWT claims. The
// audience is the application name.
type AssertionClaims struct {
	models.Claims
	jwt.RegisteredClaims
}

// JWTSigner issues HS256 assertions with a key shared with the consumer
// applications, which verify them through pkg/ssoclient.
type JWTSigner struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

func NewJWTSigner(signingKey string, issuer string, ttl time.Duration) *JWTSigner {
	return &JWTSigner{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
	}
}

// Sign produces the assertion for one exchange. Issue time comes from the
// request context so a whole request agrees on "now".
func (s *JWTSigner) Sign(ctx context.Context, claims models.Claims, audience id.ApplicationName) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.signingKey) == 0 {
		return "", errors.New("signing key is not configured")
	}
	now := requestcontext.Now(ctx)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AssertionClaims{
		Claims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{audience.String()},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}
