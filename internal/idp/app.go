// Package idp is the standalone test identity provider. It authenticates
// any username/password pair, then answers redirect-bound AuthnRequests
// and IdP-initiated issuance with freshly signed assertions.
package idp

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mikehadlow/samlproxy/internal/result"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/session"
	"github.com/mikehadlow/samlproxy/internal/store"
	"github.com/mikehadlow/samlproxy/internal/web"
)

// App wires the IdP's handlers to its store, engine and session manager.
type App struct {
	store    *store.Store
	engine   *saml.Engine
	sessions *session.Manager
	logger   zerolog.Logger
}

// New creates the IdP application.
func New(st *store.Store, engine *saml.Engine, sessions *session.Manager, logger zerolog.Logger) *App {
	return &App{
		store:    st,
		engine:   engine,
		sessions: sessions,
		logger:   logger,
	}
}

// Routes mounts the IdP's endpoints on r.
func (a *App) Routes(r chi.Router) {
	r.Get("/login", a.handleLoginPage)
	r.Post("/login", a.handleLogin)
	r.Get("/logout", a.handleLogout)
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/", a.handleHome)
		r.Get("/idp/sso", a.handleSSO)
		r.Get("/idp/iif/{connectionID}", a.handleIif)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type sessionKey struct{}

// requireAuth bounces unauthenticated browsers to the login page,
// carrying the interrupted URL so sign-in resumes it.
func (a *App) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := a.sessions.Read(r)
		if err != nil {
			loginURL := "/login?redirect_to=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, loginURL, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) session.Session {
	sess, _ := r.Context().Value(sessionKey{}).(session.Session)
	return sess
}

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	web.RenderIdpLogin(w, "Test IdP", "/login", r.URL.Query().Get("redirect_to"))
}

// handleLogin accepts any username and password; this is a test IdP, not
// a credential store.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		web.RenderError(w, http.StatusBadRequest, "Bad Request", "Could not read the login form.")
		return
	}
	username := r.PostFormValue("username")
	if username == "" {
		web.RenderIdpLogin(w, "Test IdP", "/login", r.PostFormValue("redirect_to"))
		return
	}

	if err := a.sessions.Issue(w, username); err != nil {
		a.logger.Error().Err(err).Msg("failed to issue session")
		web.RenderError(w, http.StatusInternalServerError, "Internal Server Error",
			"Something went wrong processing the request.")
		return
	}

	// Local paths only: "//host" is protocol-relative and would leave
	// this site.
	redirectTo := r.PostFormValue("redirect_to")
	if !strings.HasPrefix(redirectTo, "/") || strings.HasPrefix(redirectTo, "//") {
		redirectTo = "/"
	}
	http.Redirect(w, r, redirectTo, http.StatusFound)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.sessions.Clear(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	conns, err := a.store.ListSpConnections(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list connections")
		web.RenderError(w, http.StatusInternalServerError, "Internal Server Error",
			"Something went wrong processing the request.")
		return
	}

	rows := make([]web.HomeConnection, 0, len(conns))
	for _, conn := range conns {
		rows = append(rows, web.HomeConnection{
			Label:   conn.SpEntityID,
			IifPath: "/idp/iif/" + conn.ID,
		})
	}
	web.RenderHome(w, "Test IdP", sess.Username, "/logout", rows)
}

// handleSSO answers a redirect-bound AuthnRequest with a signed
// assertion for the session's user, posted back to the requesting SP's
// ACS URL. RelayState is passed through untouched.
func (a *App) handleSSO(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(r)
	samlRequest := r.URL.Query().Get("SAMLRequest")
	relayState := r.URL.Query().Get("RelayState")

	detailsR := a.engine.ParseAuthnRequest(samlRequest)
	connR := result.Chain(detailsR, func(d saml.AuthnRequestDetails) result.Result[saml.SpConnection] {
		return a.store.GetSpConnection(ctx, d.Issuer)
	})
	validatedR := result.Validate(result.Merge2(connR, detailsR),
		func(p result.Pair[saml.SpConnection, saml.AuthnRequestDetails]) result.Result[result.Void] {
			return a.engine.ValidateAuthnRequest(p.First, p.Second)
		})
	assertionR := result.ChainErr(validatedR,
		func(p result.Pair[saml.SpConnection, saml.AuthnRequestDetails]) (saml.Assertion, error) {
			return a.engine.GenerateAssertion(p.First, saml.User{Email: sess.Username}, p.Second.ID, relayState)
		})

	if assertionR.IsFail() {
		web.RenderFailure(w, a.logger, assertionR.Failure())
		return
	}
	assertion := assertionR.Value()
	web.RenderAutoPost(w, assertion.AcsURL, assertion.Assertion, assertion.RelayState)
}

// handleIif starts an IdP-initiated flow: a signed assertion with no
// InResponseTo and no RelayState, posted to the chosen connection's ACS.
func (a *App) handleIif(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	connectionID := chi.URLParam(r, "connectionID")

	connR := a.store.GetSpConnectionByID(r.Context(), connectionID)
	assertionR := result.ChainErr(connR, func(conn saml.SpConnection) (saml.Assertion, error) {
		return a.engine.GenerateAssertion(conn, saml.User{Email: sess.Username}, "", "")
	})

	if assertionR.IsFail() {
		web.RenderFailure(w, a.logger, assertionR.Failure())
		return
	}
	assertion := assertionR.Value()
	web.RenderAutoPost(w, assertion.AcsURL, assertion.Assertion, assertion.RelayState)
}
