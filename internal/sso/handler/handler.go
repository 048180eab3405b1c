package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ebellera/SSO/internal/platform/metrics"
	"github.com/ebellera/SSO/internal/platform/middleware"
	"github.com/ebellera/SSO/internal/sso/models"
	id "github.com/ebellera/SSO/pkg/domain"
	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
	"github.com/ebellera/SSO/pkg/platform/httputil"
	"github.com/ebellera/SSO/pkg/requestcontext"
)

const (
	// SessionCookieName holds the broker's global session id in the browser.
	SessionCookieName = "sso_session"

	loginPath = "/simplesso/login"
)

//go:generate mockgen -source=handler.go -destination=mocks/service-mocks.go -package=mocks Service

// Service defines the broker operations the HTTP layer drives.
type Service interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error)
	Exchange(ctx context.Context, appCredential, token string) (*models.ExchangeResult, error)
	Logout(ctx context.Context, req models.LogoutRequest) (*models.LogoutResult, error)
	EndSession(ctx context.Context, sessionID id.SessionID) (*models.LogoutResult, error)
	SessionActive(ctx context.Context, sessionID id.SessionID) (bool, error)
}

// Handler serves the broker endpoints.
type Handler struct {
	service        Service
	logger         *slog.Logger
	metrics        *metrics.HTTP
	cookieSecure   bool
	trustedProxies []netip.Prefix
}

type Option func(*Handler)

// WithTrustedProxies names the reverse proxies allowed to report the client
// address through forwarding headers.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(h *Handler) {
		h.trustedProxies = prefixes
	}
}

// New creates a new broker Handler.
func New(service Service, logger *slog.Logger, m *metrics.HTTP, cookieSecure bool, opts ...Option) *Handler {
	h := &Handler{
		service:      service,
		logger:       logger,
		metrics:      m,
		cookieSecure: cookieSecure,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the broker routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RequestTime)
		r.Use(middleware.ClientMetadata(h.trustedProxies))
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Latency(h.metrics))

		r.Get("/", h.handleLanding)
		r.Post("/logout", h.handleEndSession)
		r.Route("/simplesso", func(r chi.Router) {
			r.Get("/login", h.handleLogin)
			r.Post("/login", h.handleLogin)
			r.Get("/verifytoken", h.handleVerifyToken)
			r.Post("/logout", h.handleLogout)
		})
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginPromptResponse tells the browser to submit credentials to Action.
type LoginPromptResponse struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type landingResponse struct {
	Authenticated bool `json:"authenticated"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	serviceURL := r.URL.Query().Get("serviceURL")
	cookieSession, hadCookie := sessionFromCookie(r)

	req := models.LoginRequest{ServiceURL: serviceURL, SessionID: cookieSession}
	if r.Method == http.MethodPost {
		creds, err := decodeCredentials(r)
		if err != nil {
			h.logger.WarnContext(ctx, "invalid login request",
				"request_id", requestcontext.RequestID(ctx),
				"error", err.Error(),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
		req.Credentials = creds
	}

	res, err := h.service.Login(ctx, req)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	if res.SessionCreated {
		h.setSessionCookie(w, res.SessionID)
	}

	switch res.Outcome {
	case models.LoginOutcomePrompt:
		if hadCookie {
			h.clearSessionCookie(w)
		}
		action := loginPath
		if serviceURL != "" {
			action += "?" + url.Values{"serviceURL": {serviceURL}}.Encode()
		}
		httputil.WriteJSON(w, http.StatusOK, LoginPromptResponse{Status: "login_required", Action: action})
	default:
		status := http.StatusFound
		if r.Method == http.MethodPost {
			status = http.StatusSeeOther
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, res.RedirectURL, status)
	}
}

func (h *Handler) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.service.Exchange(ctx, middleware.BearerToken(r), r.URL.Query().Get("exchangeToken"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{Token: res.Assertion})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	res, err := h.service.Logout(ctx, models.LogoutRequest{
		AppCredential: middleware.BearerToken(r),
		SessionID:     r.Form.Get("globalSessionID"),
		ExchangeToken: r.Form.Get("exchangeToken"),
	})
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if res.AlreadyEnded {
		h.logger.DebugContext(ctx, "logout for a session that already ended",
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteJSON(w, http.StatusOK, messageResponse{Message: "logout success"})
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if sessionID, ok := sessionFromCookie(r); ok {
		if _, err := h.service.EndSession(ctx, sessionID); err != nil {
			h.writeError(ctx, w, err)
			return
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleLanding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, _ := sessionFromCookie(r)
	active, err := h.service.SessionActive(ctx, sessionID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, landingResponse{Authenticated: active})
}

// writeError logs at a level matching the failure and renders it.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	requestID := requestcontext.RequestID(ctx)
	switch {
	case dErrors.HasCode(err, dErrors.CodeUnknownPolicy):
		h.logger.ErrorContext(ctx, "access denied: application has no policy for user",
			"request_id", requestID,
		)
	case dErrors.HasCode(err, dErrors.CodeInternal):
		h.logger.ErrorContext(ctx, "request failed",
			"request_id", requestID,
			"error", err.Error(),
		)
	default:
		if _, ok := dErrors.As(err); !ok {
			h.logger.ErrorContext(ctx, "request failed with uncoded error",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
	}
	httputil.WriteError(w, err)
}

func decodeCredentials(r *http.Request) (*models.Credentials, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body credentialsRequest
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16)).Decode(&body); err != nil {
			return nil, err
		}
		return &models.Credentials{Email: body.Email, Password: body.Password}, nil
	}
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<16)
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return &models.Credentials{
		Email:    r.PostForm.Get("email"),
		Password: r.PostForm.Get("password"),
	}, nil
}

func sessionFromCookie(r *http.Request) (id.SessionID, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return id.SessionID{}, false
	}
	sessionID, err := id.ParseSessionID(c.Value)
	if err != nil {
		return id.SessionID{}, true
	}
	return sessionID, true
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID id.SessionID) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID.String(),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
