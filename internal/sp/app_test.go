package sp_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikehadlow/samlproxy/internal/keys"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/session"
	"github.com/mikehadlow/samlproxy/internal/sp"
	"github.com/mikehadlow/samlproxy/internal/store"
)

const (
	spEntity    = "https://sp.example.com/test-sp"
	spAcs       = "https://sp.example.com/sp/acs"
	proxyEntity = "https://proxy.example.com/proxy"
	proxySso    = "https://proxy.example.com/proxy/sso"
)

// newTestSp stands up the SP app against one provisioned IdP connection
// and returns the issuer-side view used to mint assertions toward it.
func newTestSp(t *testing.T, allowIdpInitiated bool) (*httptest.Server, *store.Store, saml.SpConnection) {
	t.Helper()
	ctx := context.Background()

	proxyKeys, err := keys.GenerateSelfSigned("proxy")
	require.NoError(t, err)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.InsertIdpConnection(ctx, saml.IdpConnection{
		ID:                  "proxy-conn",
		SpEntityID:          spEntity,
		SpAcsURL:            spAcs,
		IdpEntityID:         proxyEntity,
		IdpSsoURL:           proxySso,
		SigningCertificate:  proxyKeys.Certificate,
		SpAllowIdpInitiated: allowIdpInitiated,
	}))

	sessions := session.NewManager("sp_auth", "sp-test-secret", time.Hour)
	app := sp.New(st, saml.NewEngine(saml.Config{}), sessions, proxyEntity, zerolog.Nop())
	router := chi.NewRouter()
	app.Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	issuerView := saml.SpConnection{
		ID:                 "issuer-view",
		IdpEntityID:        proxyEntity,
		IdpSsoURL:          proxySso,
		PrivateKey:         proxyKeys.PrivateKey,
		SigningCertificate: proxyKeys.Certificate,
		SpEntityID:         spEntity,
		SpAcsURL:           spAcs,
	}
	return srv, st, issuerView
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestSsoInitRedirectsAndRecordsRelayState(t *testing.T) {
	srv, st, _ := newTestSp(t, false)

	resp, err := noRedirectClient().Get(srv.URL + "/sp/sso")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "https", location.Scheme)
	assert.Equal(t, "/proxy/sso", location.Path)

	relayState := location.Query().Get("RelayState")
	require.NotEmpty(t, relayState)

	details := saml.NewEngine(saml.Config{}).ParseAuthnRequest(location.Query().Get("SAMLRequest"))
	require.True(t, details.IsOk(), "request did not parse: %v", details.Failure())
	assert.Equal(t, spEntity, details.Value().Issuer)
	assert.Equal(t, spAcs, details.Value().AcsURL)

	// The recorded row binds the token to this SP and the outbound id.
	rs := st.ConsumeRelayState(context.Background(), relayState)
	require.True(t, rs.IsOk())
	assert.Equal(t, spEntity, rs.Value().SpEntityID)
	assert.Equal(t, details.Value().ID, rs.Value().ProxyRequestID)
	assert.Empty(t, rs.Value().SpRequestID)
}

func TestAcsCompletesSignOn(t *testing.T) {
	srv, st, issuerView := newTestSp(t, false)
	ctx := context.Background()

	require.NoError(t, st.RecordRelayState(ctx, store.RelayState{
		RelayState:     "the-token",
		SpEntityID:     spEntity,
		ProxyRequestID: "_request-1",
	}))

	assertion, err := saml.NewEngine(saml.Config{}).GenerateAssertion(
		issuerView, saml.User{Email: "alice@example.com"}, "_request-1", "the-token")
	require.NoError(t, err)

	resp, err := noRedirectClient().PostForm(srv.URL+"/sp/acs", url.Values{
		"SAMLResponse": {assertion.Assertion},
		"RelayState":   {assertion.RelayState},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))

	var sawSession bool
	for _, c := range resp.Cookies() {
		if c.Name == "sp_auth" && c.Value != "" {
			sawSession = true
		}
	}
	assert.True(t, sawSession, "no session cookie issued")
}

func TestAcsRejectsUnknownRelayState(t *testing.T) {
	srv, _, issuerView := newTestSp(t, false)

	assertion, err := saml.NewEngine(saml.Config{}).GenerateAssertion(
		issuerView, saml.User{Email: "alice@example.com"}, "_request-1", "never-recorded")
	require.NoError(t, err)

	resp, err := http.PostForm(srv.URL+"/sp/acs", url.Values{
		"SAMLResponse": {assertion.Assertion},
		"RelayState":   {assertion.RelayState},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body(t, resp), "RelayState is invalid or expired.")
}

func TestAcsRejectsInResponseToMismatch(t *testing.T) {
	srv, st, issuerView := newTestSp(t, false)

	require.NoError(t, st.RecordRelayState(context.Background(), store.RelayState{
		RelayState:     "the-token",
		SpEntityID:     spEntity,
		ProxyRequestID: "_expected-request",
	}))

	assertion, err := saml.NewEngine(saml.Config{}).GenerateAssertion(
		issuerView, saml.User{Email: "alice@example.com"}, "_other-request", "the-token")
	require.NoError(t, err)

	resp, err := http.PostForm(srv.URL+"/sp/acs", url.Values{
		"SAMLResponse": {assertion.Assertion},
		"RelayState":   {assertion.RelayState},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body(t, resp), "InResponseTo does not match the original request")
}

func TestAcsRejectsRelayStateForDifferentConnection(t *testing.T) {
	srv, st, issuerView := newTestSp(t, false)

	require.NoError(t, st.RecordRelayState(context.Background(), store.RelayState{
		RelayState:     "the-token",
		SpEntityID:     "https://other.example.com/sp",
		ProxyRequestID: "_request-1",
	}))

	assertion, err := saml.NewEngine(saml.Config{}).GenerateAssertion(
		issuerView, saml.User{Email: "alice@example.com"}, "_request-1", "the-token")
	require.NoError(t, err)

	resp, err := http.PostForm(srv.URL+"/sp/acs", url.Values{
		"SAMLResponse": {assertion.Assertion},
		"RelayState":   {assertion.RelayState},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body(t, resp), "RelayState does not match the connection")
}

func TestAcsIdpInitiatedGate(t *testing.T) {
	t.Run("denied when disabled", func(t *testing.T) {
		srv, _, issuerView := newTestSp(t, false)

		assertion, err := saml.NewEngine(saml.Config{}).GenerateAssertion(
			issuerView, saml.User{Email: "alice@example.com"}, "", "")
		require.NoError(t, err)

		resp, err := http.PostForm(srv.URL+"/sp/acs", url.Values{"SAMLResponse": {assertion.Assertion}})
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, body(t, resp), "IdP-initiated sign-on is not allowed")
	})

	t.Run("accepted when enabled", func(t *testing.T) {
		srv, _, issuerView := newTestSp(t, true)

		assertion, err := saml.NewEngine(saml.Config{}).GenerateAssertion(
			issuerView, saml.User{Email: "alice@example.com"}, "", "")
		require.NoError(t, err)

		resp, err := noRedirectClient().PostForm(srv.URL+"/sp/acs", url.Values{"SAMLResponse": {assertion.Assertion}})
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/home", resp.Header.Get("Location"))
	})
}

func TestHomeRequiresSession(t *testing.T) {
	srv, _, _ := newTestSp(t, false)

	resp, err := noRedirectClient().Get(srv.URL + "/home")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}
