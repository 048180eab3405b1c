// Package ssoclient is what a consumer application links against: it turns an
// exchange token into verified claims, ends the global session on logout and
// builds the redirects a browser needs to reach the broker.
package ssoclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExchangeTokenParam is the query parameter the broker appends on redirect.
const ExchangeTokenParam = "exchangeToken"

// Config describes one consumer application as the broker knows it.
type Config struct {
	// BaseURL is the broker root, e.g. http://sso.simple-sso.test:3010.
	BaseURL string
	// Application is the registered name; assertions carry it as audience.
	Application string
	// Credential is the application's bearer secret.
	Credential string
	// SigningKey verifies assertions. It is shared with the broker.
	SigningKey string
	Issuer     string
	HTTPClient *http.Client
	// Leeway tolerates clock skew against the broker.
	Leeway time.Duration
}

// Claims is the verified identity assertion.
type Claims struct {
	Role            string `json:"role"`
	Email           string `json:"email,omitempty"`
	UID             string `json:"uid"`
	GlobalSessionID string `json:"globalSessionID"`
	jwt.RegisteredClaims
}

// APIError is a non-2xx broker response.
type APIError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("sso broker: %d %s: %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("sso broker: %d %s", e.Status, e.Code)
}

// ErrInvalidAssertion means the broker answered but the JWT did not verify.
var ErrInvalidAssertion = errors.New("sso assertion failed verification")

type Client struct {
	base   *url.URL
	cfg    Config
	http   *http.Client
	parser *jwt.Parser
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Application == "" || cfg.Credential == "" || cfg.SigningKey == "" {
		return nil, errors.New("ssoclient: base URL, application, credential and signing key are required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ssoclient: parse base URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	opts := []jwt.ParserOption{
		jwt.WithAudience(cfg.Application),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Client{base: base, cfg: cfg, http: httpClient, parser: jwt.NewParser(opts...)}, nil
}

// LoginURL is where an unauthenticated browser is sent. serviceURL is the
// page it returns to with an exchange token.
func (c *Client) LoginURL(serviceURL string) string {
	u := c.endpoint("/simplesso/login")
	u.RawQuery = url.Values{"serviceURL": {serviceURL}}.Encode()
	return u.String()
}

// Exchange redeems token and returns the verified claims. Tokens are single
// use: a second call with the same token fails with an APIError.
func (c *Client) Exchange(ctx context.Context, token string) (*Claims, error) {
	u := c.endpoint("/simplesso/verifytoken")
	u.RawQuery = url.Values{ExchangeTokenParam: {token}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := c.do(req, &body); err != nil {
		return nil, err
	}
	return c.Verify(body.Token)
}

// Verify checks an assertion's signature, audience, issuer and expiry.
func (c *Client) Verify(assertion string) (*Claims, error) {
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(assertion, claims, func(*jwt.Token) (any, error) {
		return []byte(c.cfg.SigningKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAssertion, err)
	}
	return claims, nil
}

// Logout ends the global session everywhere. Ending a session that is already
// gone is not an error.
func (c *Client) Logout(ctx context.Context, globalSessionID string) error {
	form := url.Values{"globalSessionID": {globalSessionID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/simplesso/logout").String(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, nil)
}

func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return &u
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.Credential)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sso broker request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read sso broker response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode sso broker response: %w", err)
	}
	return nil
}

// StripExchangeToken removes the exchange token from rawURL so it does not
// linger in browser history.
func StripExchangeToken(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if !q.Has(ExchangeTokenParam) {
		return rawURL
	}
	q.Del(ExchangeTokenParam)
	u.RawQuery = q.Encode()
	return u.String()
}
