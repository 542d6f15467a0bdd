// Package sp is the standalone test service provider. It initiates
// SP-initiated sign-on against its configured IdP, consumes the returned
// assertion at its ACS endpoint and maintains a session cookie for the
// asserted user.
package sp

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mikehadlow/samlproxy/internal/result"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/session"
	"github.com/mikehadlow/samlproxy/internal/store"
	"github.com/mikehadlow/samlproxy/internal/web"
)

// App wires the SP's handlers to its store, engine and session manager.
// idpEntityID names the one IdP connection this SP signs in against.
type App struct {
	store       *store.Store
	engine      *saml.Engine
	sessions    *session.Manager
	idpEntityID string
	logger      zerolog.Logger
}

// New creates the SP application.
func New(st *store.Store, engine *saml.Engine, sessions *session.Manager, idpEntityID string, logger zerolog.Logger) *App {
	return &App{
		store:       st,
		engine:      engine,
		sessions:    sessions,
		idpEntityID: idpEntityID,
		logger:      logger,
	}
}

// Routes mounts the SP's endpoints on r.
func (a *App) Routes(r chi.Router) {
	r.Get("/", a.handleIndex)
	r.Get("/login", a.handleLoginPage)
	r.Get("/logout", a.handleLogout)
	r.Get("/sp/sso", a.handleSSOInit)
	r.Post("/sp/acs", a.handleACS)
	r.Get("/home", a.handleHome)
	r.Get("/health", handleHealth)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, err := a.sessions.Read(r); err == nil {
		http.Redirect(w, r, "/home", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	web.RenderSpLogin(w, "Test SP", "/sp/sso")
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.sessions.Clear(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.Read(r)
	if err != nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	web.RenderHome(w, "Test SP", sess.Username, "/logout", nil)
}

// handleSSOInit mints a fresh AuthnRequest against the configured IdP,
// records the single-use relay state binding the request id, and
// redirects the browser to the IdP's SSO URL.
func (a *App) handleSSOInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	relayToken := uuid.NewString()

	connR := a.store.GetIdpConnection(ctx, a.idpEntityID)
	authnR := result.ChainErr(connR, func(conn saml.IdpConnection) (saml.AuthnRequest, error) {
		return a.engine.GenerateAuthnRequest(conn, relayToken)
	})
	recordedR := result.Validate(result.Merge2(connR, authnR),
		func(p result.Pair[saml.IdpConnection, saml.AuthnRequest]) result.Result[result.Void] {
			err := a.store.RecordRelayState(ctx, store.RelayState{
				RelayState:     relayToken,
				SpEntityID:     p.First.SpEntityID,
				ProxyRequestID: p.Second.ID,
			})
			if err != nil {
				return result.FailErr[result.Void](err)
			}
			return result.Done()
		})

	if recordedR.IsFail() {
		web.RenderFailure(w, a.logger, recordedR.Failure())
		return
	}
	http.Redirect(w, r, recordedR.Value().Second.URL, http.StatusFound)
}

// handleACS consumes a POST-bound assertion. A RelayState must match an
// unconsumed row recorded by this SP; an assertion without one is only
// accepted when the connection allows IdP-initiated sign-on and the
// assertion carries no InResponseTo.
func (a *App) handleACS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		web.RenderError(w, http.StatusBadRequest, "Bad Request", "Could not read the posted form.")
		return
	}
	samlResponse := r.PostFormValue("SAMLResponse")
	relayState := r.PostFormValue("RelayState")

	extractR := a.engine.ParseAssertion(samlResponse)
	connR := result.Chain(extractR, func(e saml.AssertionExtract) result.Result[saml.IdpConnection] {
		return a.store.GetIdpConnection(ctx, e.Issuer)
	})
	pairR := result.Merge2(connR, extractR)

	correlatedR := result.Validate(pairR,
		func(p result.Pair[saml.IdpConnection, saml.AssertionExtract]) result.Result[result.Void] {
			return a.correlate(ctx, p.First, p.Second, relayState)
		})
	validatedR := result.Validate(correlatedR,
		func(p result.Pair[saml.IdpConnection, saml.AssertionExtract]) result.Result[result.Void] {
			return a.engine.ValidateAssertion(p.First, samlResponse)
		})
	doneR := result.ChainErr(validatedR,
		func(p result.Pair[saml.IdpConnection, saml.AssertionExtract]) (result.Void, error) {
			return result.Void{}, a.sessions.Issue(w, p.Second.NameID)
		})

	if doneR.IsFail() {
		web.RenderFailure(w, a.logger, doneR.Failure())
		return
	}
	http.Redirect(w, r, "/home", http.StatusFound)
}

// correlate enforces the replay guard. With a RelayState the row is
// consumed exactly once and must match both the connection and the
// assertion's InResponseTo; without one the IdP-initiated gate applies.
func (a *App) correlate(ctx context.Context, conn saml.IdpConnection, extract saml.AssertionExtract, relayState string) result.Result[result.Void] {
	if relayState != "" {
		return result.Chain(a.store.ConsumeRelayState(ctx, relayState),
			func(rs store.RelayState) result.Result[result.Void] {
				if rs.SpEntityID != conn.SpEntityID {
					return result.Fail[result.Void]("RelayState does not match the connection")
				}
				if rs.ProxyRequestID != extract.InResponseTo {
					return result.Fail[result.Void]("InResponseTo does not match the original request")
				}
				return result.Done()
			})
	}

	if extract.InResponseTo != "" {
		return result.Fail[result.Void]("Unsolicited SAMLResponse answers an AuthnRequest")
	}
	if !conn.SpAllowIdpInitiated {
		return result.Fail[result.Void]("IdP-initiated sign-on is not allowed for this connection")
	}
	return result.Done()
}
