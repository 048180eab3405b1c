package service

import (
	"net/url"

	"golang.org/x/crypto/bcrypt"

	"github.com/ebellera/SSO/internal/sso/directory"
	id "github.com/ebellera/SSO/pkg/domain"
	"github.com/ebellera/SSO/pkg/platform/secrets"
)

const (
	consumerOrigin    = "http://consumer.simple-sso.test:3020"
	consumerTwoOrigin = "http://consumertwo.simple-sso.test:3030"
	reportsOrigin     = "http://reports.simple-sso.test:3040"
	disabledOrigin    = "http://sso.simple-sso.test:3080"
	orphanOrigin      = "http://orphan.simple-sso.test:3090"

	consumerApp    id.ApplicationName = "sso_consumer"
	consumerTwoApp id.ApplicationName = "simple_sso_consumer"
	reportsApp     id.ApplicationName = "reports"

	consumerCredential    = "l1Q7zkOL59cRqWBkQ12ZiGVW2DBL"
	consumerTwoCredential = "1g0jJwGmRQhJwvwNOrY4i90kD0m"
	reportsCredential     = "reports-secret"

	userEmail    = "info@simple-sso.com"
	userPassword = "test"
)

func mustHash(secret string) string {
	h, err := secrets.Hash(secret, bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}

// testDirectory mirrors the two-consumer deployment plus an application the
// user has no policy for.
func testDirectory() *directory.Directory {
	reg := &directory.Registry{
		AllowedOrigins: map[string]bool{
			consumerOrigin:    true,
			consumerTwoOrigin: true,
			reportsOrigin:     true,
			disabledOrigin:    false,
			orphanOrigin:      true,
		},
		Applications: []directory.ApplicationEntry{
			{Name: string(consumerApp), Origin: consumerOrigin, CredentialHash: mustHash(consumerCredential)},
			{Name: string(consumerTwoApp), Origin: consumerTwoOrigin, CredentialHash: mustHash(consumerTwoCredential)},
			{Name: string(reportsApp), Origin: reportsOrigin, CredentialHash: mustHash(reportsCredential)},
		},
		Users: []directory.UserEntry{{
			Email:        userEmail,
			PasswordHash: mustHash(userPassword),
			UID:          "uid-info",
			Policies: map[string]directory.PolicyEntry{
				string(consumerApp):    {Role: "admin", ShareEmail: true},
				string(consumerTwoApp): {Role: "user", ShareEmail: false},
			},
		}},
	}
	if err := reg.Validate(); err != nil {
		panic(err)
	}
	return directory.New(reg, nil)
}

func exchangeTokenFrom(redirect string) string {
	u, err := url.Parse(redirect)
	if err != nil {
		return ""
	}
	return u.Query().Get(ExchangeTokenParam)
}
