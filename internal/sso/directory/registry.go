package directory

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
)

// Registry is the on-disk shape of the static directory: which origins may
// request a handoff, which applications exist, and which users can log in.
type Registry struct {
	// AllowedOrigins maps an origin to whether handoffs to it are enabled.
	// An origin listed with false is known but disabled.
	AllowedOrigins map[string]bool    `yaml:"allowedOrigins"`
	Applications   []ApplicationEntry `yaml:"applications"`
	Users          []UserEntry        `yaml:"users"`
}

type ApplicationEntry struct {
	Name           string `yaml:"name"`
	Origin         string `yaml:"origin"`
	CredentialHash string `yaml:"credentialHash"`
}

type UserEntry struct {
	Email        string                 `yaml:"email"`
	PasswordHash string                 `yaml:"passwordHash"`
	UID          string                 `yaml:"uid"`
	Policies     map[string]PolicyEntry `yaml:"policies"`
}

type PolicyEntry struct {
	Role       string `yaml:"role"`
	ShareEmail bool   `yaml:"shareEmail"`
}

// LoadFile reads and validates a registry file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a registry document. Unknown keys are rejected so typos in
// policy names do not silently deny access.
func Load(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var reg Registry
	if err := dec.Decode(&reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks referential integrity: every application has a canonical
// origin and credential, no origin is claimed twice, every user carries a
// unique uid, and every policy names a registered application.
func (r *Registry) Validate() error {
	apps := make(map[string]struct{}, len(r.Applications))
	origins := make(map[string]string, len(r.Applications))
	for i, app := range r.Applications {
		if strings.TrimSpace(app.Name) == "" {
			return fmt.Errorf("applications[%d]: name is required", i)
		}
		if _, dup := apps[app.Name]; dup {
			return fmt.Errorf("application %q registered twice", app.Name)
		}
		origin, err := CanonicalOrigin(app.Origin)
		if err != nil {
			return fmt.Errorf("application %q: %w", app.Name, err)
		}
		if origin != app.Origin {
			return fmt.Errorf("application %q: origin must be written as %q", app.Name, origin)
		}
		if other, dup := origins[origin]; dup {
			return fmt.Errorf("origin %q claimed by %q and %q", origin, other, app.Name)
		}
		if _, err := bcrypt.Cost([]byte(app.CredentialHash)); err != nil {
			return fmt.Errorf("application %q: credentialHash is not a bcrypt hash", app.Name)
		}
		apps[app.Name] = struct{}{}
		origins[origin] = app.Name
	}

	for origin := range r.AllowedOrigins {
		canonical, err := CanonicalOrigin(origin)
		if err != nil {
			return fmt.Errorf("allowedOrigins: %w", err)
		}
		if canonical != origin {
			return fmt.Errorf("allowedOrigins: %q must be written as %q", origin, canonical)
		}
	}

	emails := make(map[string]struct{}, len(r.Users))
	uids := make(map[string]string, len(r.Users))
	for i, u := range r.Users {
		email := normalizeEmail(u.Email)
		if email == "" {
			return fmt.Errorf("users[%d]: email is required", i)
		}
		if _, dup := emails[email]; dup {
			return fmt.Errorf("user %q listed twice", u.Email)
		}
		emails[email] = struct{}{}
		// uid reaches consumers as a stable subject, so it must come from the
		// file rather than vary per process
		uid := strings.TrimSpace(u.UID)
		if uid == "" {
			return fmt.Errorf("user %q: uid is required", u.Email)
		}
		if other, dup := uids[uid]; dup {
			return fmt.Errorf("uid %q shared by %q and %q", uid, other, u.Email)
		}
		uids[uid] = u.Email
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return fmt.Errorf("user %q: passwordHash is not a bcrypt hash", u.Email)
		}
		for app := range u.Policies {
			if _, ok := apps[app]; !ok {
				return fmt.Errorf("user %q: policy for unregistered application %q", u.Email, app)
			}
		}
	}
	return nil
}

// CanonicalOrigin reduces raw to scheme://host[:port], lower-cased, which is
// the form allow-list and application lookups key on.
func CanonicalOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q", raw)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", raw)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (e UserEntry) toRecord() *models.UserRecord {
	policies := make(map[id.ApplicationName]models.AppPolicy, len(e.Policies))
	for app, p := range e.Policies {
		policies[id.ApplicationName(app)] = models.AppPolicy{Role: p.Role, ShareEmail: p.ShareEmail}
	}
	return &models.UserRecord{
		Email:        strings.TrimSpace(e.Email),
		PasswordHash: e.PasswordHash,
		UID:          strings.TrimSpace(e.UID),
		Policies:     policies,
	}
}
