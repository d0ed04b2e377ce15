package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/blogcore/internal/apperror"
	"github.com/sakif/blogcore/internal/auth"
	"github.com/sakif/blogcore/internal/identity"
	"github.com/sakif/blogcore/internal/model"
)

const stateCookie = "oauth_state"

// ProviderSource hands out the OAuth exchanger for a provider name.
type ProviderSource interface {
	Get(ctx context.Context, name string) (auth.Exchanger, error)
}

// IdentityService is the identity engine as the auth routes use it.
type IdentityService interface {
	ProcessOAuthLogin(ctx context.Context, p *auth.Profile) (*identity.LoginResult, error)
	BindExisting(ctx context.Context, subject auth.Subject, name, email string) (*identity.BindResult, error)
	SkipBind(ctx context.Context, subject auth.Subject) (*identity.BindResult, error)
	BindableIdentities(ctx context.Context, subject auth.Subject) ([]model.Reader, error)
	CurrentReader(ctx context.Context, subject auth.Subject) (*identity.Identity, error)
}

var (
	_ ProviderSource  = (*auth.Providers)(nil)
	_ IdentityService = (*identity.Engine)(nil)
)

// AuthHandler runs the OAuth login flow and the onboarding steps that follow.
//
// HANDLER RESPONSIBILITIES:
//   - HandleLogin     → redirect the browser to the provider
//   - HandleCallback  → exchange the code, resolve the identity, issue a session
//   - HandleBind      → tie a provisional session to an existing anonymous Reader
//   - HandleSkipBind  → create a fresh Reader for a provisional session
//   - HandleBindable  → list Readers the session could bind to
//   - HandleMe        → describe the current session
//   - HandleLogout    → clear the session cookie
type AuthHandler struct {
	providers     ProviderSource
	identities    IdentityService
	frontendURL   string
	secureCookies bool
	logger        *slog.Logger
}

func NewAuthHandler(
	providers ProviderSource,
	identities IdentityService,
	frontendURL string,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		providers:     providers,
		identities:    identities,
		frontendURL:   frontendURL,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// HandleLogin redirects the user to the provider's authorization page.
//
// HTTP: GET /auth/{provider}/login
//
// A random state is stored in a short-lived HttpOnly cookie and checked again
// on callback, so only logins started here can complete.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	provider, err := h.providers.Get(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, err)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the OAuth login.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter against the cookie
//  2. Exchange the code for a provider profile
//  3. Resolve the profile to a subject (known account, Reader by email, or new)
//  4. Set the session cookie and hand the token to the frontend
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")

	// --- Step 1: state ---
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie", slog.String("provider", name))
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	if r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("auth callback: state mismatch", slog.String("provider", name))
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization",
			slog.String("provider", name),
			slog.String("error", errParam),
		)
		h.redirectToFrontend(w, r, url.Values{"error": {"denied"}})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	// --- Step 2: exchange ---
	provider, err := h.providers.Get(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	profile, err := provider.Exchange(r.Context(), code)
	if err != nil {
		writeError(w, apperror.Upstream(name+" login", err))
		return
	}

	// --- Step 3: identity ---
	result, err := h.identities.ProcessOAuthLogin(r.Context(), profile)
	if err != nil {
		h.logger.Error("auth callback: resolving identity",
			slog.String("provider", name),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	// --- Step 4: session ---
	h.setSession(w, result.Token)
	h.redirectToFrontend(w, r, url.Values{
		"token":       {result.Token},
		"new_user":    {strconv.FormatBool(result.IsNew)},
		"provisional": {strconv.FormatBool(result.Subject.IsProvisional())},
	})
}

type bindRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// sessionResponse carries a Reader plus the token that replaces the caller's
// session.
type sessionResponse struct {
	Data  *model.Reader `json:"data"`
	Token string        `json:"token"`
}

// HandleBind ties the session to the anonymous Reader with this exact name
// and email.
//
// HTTP: POST /auth/bind-anonymous
// Auth: Required
// REQUEST BODY: {"name": "Ann", "email": "ann@example.com"}
func (h *AuthHandler) HandleBind(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("login required"))
		return
	}

	var req bindRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.identities.BindExisting(r.Context(), subject, req.Name, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSession(w, result.Token)
	writeJSON(w, http.StatusOK, sessionResponse{Data: result.Reader, Token: result.Token})
}

// HandleSkipBind finishes onboarding with a new Reader built from the
// provider profile. Repeating it returns the same Reader.
//
// HTTP: POST /auth/skip-bind
// Auth: Required
func (h *AuthHandler) HandleSkipBind(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("login required"))
		return
	}

	result, err := h.identities.SkipBind(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSession(w, result.Token)
	writeJSON(w, http.StatusOK, sessionResponse{Data: result.Reader, Token: result.Token})
}

// HandleBindable lists Readers sharing an email with the session's accounts.
//
// HTTP: GET /auth/bindable-identities
// Auth: Required
func (h *AuthHandler) HandleBindable(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("login required"))
		return
	}

	readers, err := h.identities.BindableIdentities(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, readers)
}

// HandleMe returns the current session's identity: a Reader, or the provider
// profile of a provisional login.
//
// HTTP: GET /api/me
// Auth: Required
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("login required"))
		return
	}

	id, err := h.identities.CurrentReader(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, id)
}

// HandleLogout clears the session cookie. Tokens are stateless, so one that
// was copied elsewhere stays valid until it expires.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) redirectToFrontend(w http.ResponseWriter, r *http.Request, q url.Values) {
	http.Redirect(w, r, h.frontendURL+"/auth/callback?"+q.Encode(), http.StatusSeeOther)
}
