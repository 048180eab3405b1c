// Package policy decides what each consumer application may learn about a user.
package policy

import (
	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
)

// Resolver looks up the per-application policy on a user record. It holds no
// state and is safe for concurrent use.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the policy user has for app. A user without a policy for
// app yields CodeUnknownPolicy: the application is not entitled to any view
// of this user.
func (r *Resolver) Resolve(user *models.UserRecord, app id.ApplicationName) (models.AppPolicy, error) {
	if user == nil {
		return models.AppPolicy{}, dErrors.New(dErrors.CodeInternal, "policy lookup without a user")
	}
	p, ok := user.Policies[app]
	if !ok {
		return models.AppPolicy{}, dErrors.New(dErrors.CodeUnknownPolicy, "application is not entitled to this user")
	}
	return p, nil
}
