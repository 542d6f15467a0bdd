package idp_test

import (
	"context"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikehadlow/samlproxy/internal/idp"
	"github.com/mikehadlow/samlproxy/internal/keys"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/session"
	"github.com/mikehadlow/samlproxy/internal/store"
)

const (
	idpEntity = "https://idp.example.com/test-idp"
	spEntity  = "https://sp.example.com/test-sp"
	spAcs     = "https://sp.example.com/sp/acs"
)

// newTestIdp stands up the IdP app with one registered SP and returns
// the SP's view of the IdP for generating requests and validating
// assertions.
func newTestIdp(t *testing.T) (*httptest.Server, saml.IdpConnection) {
	t.Helper()
	ctx := context.Background()

	idpKeys, err := keys.GenerateSelfSigned("idp")
	require.NoError(t, err)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions := session.NewManager("idp_auth", "idp-test-secret", time.Hour)
	app := idp.New(st, saml.NewEngine(saml.Config{}), sessions, zerolog.Nop())
	router := chi.NewRouter()
	app.Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	require.NoError(t, st.InsertSpConnection(ctx, saml.SpConnection{
		ID:                 "sp-conn",
		IdpEntityID:        idpEntity,
		IdpSsoURL:          srv.URL + "/idp/sso",
		PrivateKey:         idpKeys.PrivateKey,
		SigningCertificate: idpKeys.Certificate,
		SpEntityID:         spEntity,
		SpAcsURL:           spAcs,
	}))

	spView := saml.IdpConnection{
		ID:                 "sp-view",
		SpEntityID:         spEntity,
		SpAcsURL:           spAcs,
		IdpEntityID:        idpEntity,
		IdpSsoURL:          srv.URL + "/idp/sso",
		SigningCertificate: idpKeys.Certificate,
	}
	return srv, spView
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func login(t *testing.T, browser *http.Client, baseURL, username string) {
	t.Helper()
	resp, err := browser.PostForm(baseURL+"/login", url.Values{
		"username":    {username},
		"password":    {"anything"},
		"redirect_to": {"/"},
	})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

var (
	formActionRe = regexp.MustCompile(`<form method="post" action="([^"]+)">`)
	formInputRe  = regexp.MustCompile(`name="(SAMLResponse|RelayState)" value="([^"]*)"`)
)

// parseAutoPost entity-decodes the scraped values the way a browser
// would; base64 payloads carry '+', which the template renders as &#43;.
func parseAutoPost(t *testing.T, page string) (string, url.Values) {
	t.Helper()
	action := formActionRe.FindStringSubmatch(page)
	require.NotNil(t, action, "no form action in body: %s", page)

	fields := url.Values{}
	for _, m := range formInputRe.FindAllStringSubmatch(page, -1) {
		fields.Set(m[1], html.UnescapeString(m[2]))
	}
	return html.UnescapeString(action[1]), fields
}

func TestSsoRedirectsToLoginWhenUnauthenticated(t *testing.T) {
	_, spView := newTestIdp(t)
	browser := newBrowser(t)

	req, err := saml.NewEngine(saml.Config{}).GenerateAuthnRequest(spView, "relay-1")
	require.NoError(t, err)

	resp, err := browser.Get(req.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(loc, "/login?redirect_to="), "got %s", loc)

	// The interrupted SSO URL round-trips through the login form.
	redirectTo, err := url.QueryUnescape(strings.TrimPrefix(loc, "/login?redirect_to="))
	require.NoError(t, err)
	assert.Contains(t, redirectTo, "/idp/sso?")
	assert.Contains(t, redirectTo, "SAMLRequest=")
}

func TestSsoAnswersAuthnRequest(t *testing.T) {
	srv, spView := newTestIdp(t)
	browser := newBrowser(t)
	login(t, browser, srv.URL, "carol@example.com")

	engine := saml.NewEngine(saml.Config{})
	req, err := engine.GenerateAuthnRequest(spView, "relay-42")
	require.NoError(t, err)

	resp, err := browser.Get(req.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	acsURL, form := parseAutoPost(t, body(t, resp))
	assert.Equal(t, spAcs, acsURL)
	assert.Equal(t, "relay-42", form.Get("RelayState"))

	extract := engine.ParseAssertion(form.Get("SAMLResponse"))
	require.True(t, extract.IsOk(), "assertion did not parse: %v", extract.Failure())
	assert.Equal(t, "carol@example.com", extract.Value().NameID)
	assert.Equal(t, req.ID, extract.Value().InResponseTo)
	assert.Equal(t, idpEntity, extract.Value().Issuer)

	validated := engine.ValidateAssertion(spView, form.Get("SAMLResponse"))
	assert.True(t, validated.IsOk(), "assertion did not validate: %v", validated.Failure())
}

func TestSsoRejectsUnknownIssuer(t *testing.T) {
	srv, spView := newTestIdp(t)
	browser := newBrowser(t)
	login(t, browser, srv.URL, "carol@example.com")

	rogue := spView
	rogue.SpEntityID = "https://rogue.example.com/sp"
	req, err := saml.NewEngine(saml.Config{}).GenerateAuthnRequest(rogue, "relay-1")
	require.NoError(t, err)

	resp, err := browser.Get(req.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body(t, resp), "No connection found")
}

func TestSsoRejectsMalformedRequest(t *testing.T) {
	srv, _ := newTestIdp(t)
	browser := newBrowser(t)
	login(t, browser, srv.URL, "carol@example.com")

	resp, err := browser.Get(srv.URL + "/idp/sso?SAMLRequest=garbage")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body(t, resp), "Malformed AuthnRequest")
}

func TestIifIssuesUnsolicitedAssertion(t *testing.T) {
	srv, spView := newTestIdp(t)
	browser := newBrowser(t)
	login(t, browser, srv.URL, "dave@example.com")

	resp, err := browser.Get(srv.URL + "/idp/iif/sp-conn")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	engine := saml.NewEngine(saml.Config{})
	acsURL, form := parseAutoPost(t, body(t, resp))
	assert.Equal(t, spAcs, acsURL)
	assert.Empty(t, form.Get("RelayState"))

	extract := engine.ParseAssertion(form.Get("SAMLResponse"))
	require.True(t, extract.IsOk())
	assert.Empty(t, extract.Value().InResponseTo)
	assert.Equal(t, "dave@example.com", extract.Value().NameID)

	validated := engine.ValidateAssertion(spView, form.Get("SAMLResponse"))
	assert.True(t, validated.IsOk(), "assertion did not validate: %v", validated.Failure())
}

func TestIifRejectsUnknownConnection(t *testing.T) {
	srv, _ := newTestIdp(t)
	browser := newBrowser(t)
	login(t, browser, srv.URL, "dave@example.com")

	resp, err := browser.Get(srv.URL + "/idp/iif/no-such-connection")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body(t, resp), "No connection found")
}

func TestLoginRejectsOffSiteRedirect(t *testing.T) {
	srv, _ := newTestIdp(t)
	browser := newBrowser(t)

	for _, target := range []string{"//evil.example.com/phish", "https://evil.example.com/", "evil"} {
		resp, err := browser.PostForm(srv.URL+"/login", url.Values{
			"username":    {"alice@example.com"},
			"password":    {"anything"},
			"redirect_to": {target},
		})
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"), "redirect_to %q escaped the site", target)
	}
}

func TestHomeListsConnections(t *testing.T) {
	srv, _ := newTestIdp(t)
	browser := newBrowser(t)
	login(t, browser, srv.URL, "erin@example.com")

	resp, err := browser.Get(srv.URL + "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := body(t, resp)
	assert.Contains(t, page, "erin@example.com")
	assert.Contains(t, page, "/idp/iif/sp-conn")
}
