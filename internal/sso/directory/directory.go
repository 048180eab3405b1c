// Package directory holds the broker's static identity data: users with their
// per-application policies, registered applications with their credentials,
// and the origin allow-list.
package directory

import (
	"context"
	"log/slog"

	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
	"github.com/ebellera/SSO/pkg/platform/secrets"
)

// Directory is read-only after construction and safe for concurrent use.
type Directory struct {
	users    map[string]*models.UserRecord
	apps     map[id.ApplicationName]*models.Application
	byOrigin map[string]*models.Application
	allowed  map[string]bool
	logger   *slog.Logger
}

// New builds a Directory from a validated registry.
func New(reg *Registry, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		users:    make(map[string]*models.UserRecord, len(reg.Users)),
		apps:     make(map[id.ApplicationName]*models.Application, len(reg.Applications)),
		byOrigin: make(map[string]*models.Application, len(reg.Applications)),
		allowed:  make(map[string]bool, len(reg.AllowedOrigins)),
		logger:   logger,
	}
	for _, u := range reg.Users {
		d.users[normalizeEmail(u.Email)] = u.toRecord()
	}
	for _, a := range reg.Applications {
		app := &models.Application{
			Name:           id.ApplicationName(a.Name),
			Origin:         a.Origin,
			CredentialHash: a.CredentialHash,
		}
		d.apps[app.Name] = app
		d.byOrigin[app.Origin] = app
	}
	for origin, ok := range reg.AllowedOrigins {
		d.allowed[origin] = ok
	}
	return d
}

// VerifyCredentials checks an email/password pair. Unknown users and wrong
// passwords produce the same error and cost the same bcrypt work.
func (d *Directory) VerifyCredentials(ctx context.Context, email, password string) (*models.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, ok := d.users[normalizeEmail(email)]
	if !ok {
		secrets.BurnCompare(password)
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
	}
	if err := secrets.Verify(password, user.PasswordHash); err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password")
	}
	return user, nil
}

// User returns the record for email.
func (d *Directory) User(_ context.Context, email string) (*models.UserRecord, error) {
	user, ok := d.users[normalizeEmail(email)]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	return user, nil
}

// ApplicationForURL resolves a service URL to the application that owns its
// origin. The origin must also be enabled in the allow-list.
func (d *Directory) ApplicationForURL(serviceURL string) (*models.Application, error) {
	origin, err := CanonicalOrigin(serviceURL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "serviceURL is not a valid absolute URL")
	}
	if !d.allowed[origin] {
		return nil, dErrors.New(dErrors.CodeForbiddenOrigin, "origin is not allowed to use this broker")
	}
	app, ok := d.byOrigin[origin]
	if !ok {
		d.logger.Warn("allowed origin has no registered application", "origin", origin)
		return nil, dErrors.New(dErrors.CodeForbiddenOrigin, "origin is not allowed to use this broker")
	}
	return app, nil
}

// VerifyApplicationCredential checks the bearer credential presented by
// app's backend.
func (d *Directory) VerifyApplicationCredential(ctx context.Context, app id.ApplicationName, credential string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	registered, ok := d.apps[app]
	if !ok {
		secrets.BurnCompare(credential)
		return dErrors.New(dErrors.CodeUnauthorized, "application credential rejected")
	}
	if err := secrets.Verify(credential, registered.CredentialHash); err != nil {
		return dErrors.New(dErrors.CodeUnauthorized, "application credential rejected")
	}
	return nil
}
