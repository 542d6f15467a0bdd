// Package proxy is the federation mediator. It terminates the downstream
// SP's AuthnRequest, issues its own request to the linked upstream IdP,
// and on return validates the IdP's assertion and re-mints a freshly
// signed one for the SP. Neither side ever sees the other's messages.
package proxy

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mikehadlow/samlproxy/internal/result"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/store"
	"github.com/mikehadlow/samlproxy/internal/web"
)

// App wires the proxy's handlers to its store and engine.
type App struct {
	store  *store.Store
	engine *saml.Engine
	logger zerolog.Logger
}

// New creates the proxy application.
func New(st *store.Store, engine *saml.Engine, logger zerolog.Logger) *App {
	return &App{
		store:  st,
		engine: engine,
		logger: logger,
	}
}

// Routes mounts the proxy's endpoints on r.
func (a *App) Routes(r chi.Router) {
	r.Get("/proxy/sso", a.handleSSO)
	r.Post("/proxy/acs", a.handleACS)
	r.Get("/health", a.handleHealth)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// handleSSO terminates the SP's redirect-bound AuthnRequest and opens the
// downstream leg. The SP's RelayState value becomes the proxy's
// correlation token: it is recorded against both request ids and
// round-trips through the IdP unchanged.
func (a *App) handleSSO(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	samlRequest := r.URL.Query().Get("SAMLRequest")
	relayState := r.URL.Query().Get("RelayState")

	if relayState == "" {
		web.RenderFailure(w, a.logger, &result.Failure{Message: "Missing RelayState"})
		return
	}

	detailsR := a.engine.ParseAuthnRequest(samlRequest)
	spConnR := result.Chain(detailsR, func(d saml.AuthnRequestDetails) result.Result[saml.SpConnection] {
		return a.store.GetSpConnection(ctx, d.Issuer)
	})
	inboundR := result.Validate(result.Merge2(spConnR, detailsR),
		func(p result.Pair[saml.SpConnection, saml.AuthnRequestDetails]) result.Result[result.Void] {
			return a.engine.ValidateAuthnRequest(p.First, p.Second)
		})

	idpConnR := result.Chain(inboundR,
		func(p result.Pair[saml.SpConnection, saml.AuthnRequestDetails]) result.Result[saml.IdpConnection] {
			return result.Chain(a.store.GetLinkBySpEntityID(ctx, p.First.SpEntityID),
				func(link saml.Link) result.Result[saml.IdpConnection] {
					return a.store.GetIdpConnection(ctx, link.IdpEntityID)
				})
		})
	outboundR := result.ChainErr(idpConnR, func(conn saml.IdpConnection) (saml.AuthnRequest, error) {
		return a.engine.GenerateAuthnRequest(conn, relayState)
	})

	recordedR := result.Validate(result.Merge2(inboundR, outboundR),
		func(p result.Pair[result.Pair[saml.SpConnection, saml.AuthnRequestDetails], saml.AuthnRequest]) result.Result[result.Void] {
			err := a.store.RecordRelayState(ctx, store.RelayState{
				RelayState:     relayState,
				SpEntityID:     p.First.First.SpEntityID,
				SpRequestID:    p.First.Second.ID,
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

// acsExchange carries the validated upstream leg into re-minting. relay
// is the zero value on an IdP-initiated flow.
type acsExchange struct {
	conn    saml.IdpConnection
	extract saml.AssertionExtract
	relay   store.RelayState
}

// handleACS closes the loop: the upstream IdP's assertion is correlated,
// validated against the IdP connection, and never forwarded. A fresh
// assertion signed with the proxy's own key goes to the downstream SP,
// answering the SP's original request id and restoring its RelayState.
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
	exchangeR := result.Chain(result.Merge2(connR, extractR),
		func(p result.Pair[saml.IdpConnection, saml.AssertionExtract]) result.Result[acsExchange] {
			return a.correlate(ctx, p.First, p.Second, relayState)
		})
	validatedR := result.Validate(exchangeR, func(x acsExchange) result.Result[result.Void] {
		return a.engine.ValidateAssertion(x.conn, samlResponse)
	})

	spConnR := result.Chain(validatedR, func(x acsExchange) result.Result[saml.SpConnection] {
		return result.Chain(a.store.GetLinkByIdpEntityID(ctx, x.conn.IdpEntityID),
			func(link saml.Link) result.Result[saml.SpConnection] {
				return a.store.GetSpConnection(ctx, link.SpEntityID)
			})
	})
	remintedR := result.ChainErr(result.Merge2(validatedR, spConnR),
		func(p result.Pair[acsExchange, saml.SpConnection]) (saml.Assertion, error) {
			return a.engine.GenerateAssertion(
				p.Second,
				saml.User{Email: p.First.extract.NameID},
				p.First.relay.SpRequestID,
				p.First.relay.RelayState,
			)
		})

	if remintedR.IsFail() {
		web.RenderFailure(w, a.logger, remintedR.Failure())
		return
	}
	assertion := remintedR.Value()
	web.RenderAutoPost(w, assertion.AcsURL, assertion.Assertion, assertion.RelayState)
}

// correlate enforces the replay guard on the upstream leg. A RelayState
// consumes its row exactly once, must belong to an SP linked to the
// asserting IdP and must match the proxy's outbound request id. Without
// one the IdP-initiated gate applies.
func (a *App) correlate(ctx context.Context, conn saml.IdpConnection, extract saml.AssertionExtract, relayState string) result.Result[acsExchange] {
	if relayState != "" {
		return result.Chain(a.store.ConsumeRelayState(ctx, relayState),
			func(rs store.RelayState) result.Result[acsExchange] {
				return result.Chain(a.store.GetLinkBySpEntityID(ctx, rs.SpEntityID),
					func(link saml.Link) result.Result[acsExchange] {
						if link.IdpEntityID != conn.IdpEntityID {
							return result.Fail[acsExchange]("RelayState does not match the asserting IdP")
						}
						if rs.ProxyRequestID != extract.InResponseTo {
							return result.Fail[acsExchange]("InResponseTo does not match the original request")
						}
						return result.Ok(acsExchange{conn: conn, extract: extract, relay: rs})
					})
			})
	}

	if extract.InResponseTo != "" {
		return result.Fail[acsExchange]("Unsolicited SAMLResponse answers an AuthnRequest")
	}
	if !conn.SpAllowIdpInitiated {
		return result.Fail[acsExchange]("IdP-initiated sign-on is not allowed for this connection")
	}
	return result.Ok(acsExchange{conn: conn, extract: extract})
}
