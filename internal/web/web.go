// Package web renders the small HTML surface of the proxy and the test
// applications: login and home pages, error pages and the auto-submitting
// POST-binding form.
package web

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mikehadlow/samlproxy/internal/result"
)

var pages = template.Must(template.New("pages").Parse(`
{{define "layout_top"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.}}</title>
<style>
body { font-family: sans-serif; max-width: 40em; margin: 4em auto; padding: 0 1em; }
input { display: block; margin: 0.5em 0; padding: 0.4em; }
.error { color: #a00; }
</style>
</head>
<body>
{{end}}

{{define "layout_bottom"}}</body>
</html>
{{end}}

{{define "sp_login"}}{{template "layout_top" .Title}}
<h1>{{.Title}}</h1>
<p>You are not signed in.</p>
<p><a href="{{.SsoPath}}">Sign in with SAML</a></p>
{{template "layout_bottom"}}{{end}}

{{define "idp_login"}}{{template "layout_top" .Title}}
<h1>{{.Title}}</h1>
<form method="post" action="{{.LoginPath}}">
<label for="username">Email</label>
<input type="text" id="username" name="username" placeholder="alice@example.com" required>
<label for="password">Password</label>
<input type="password" id="password" name="password" required>
<input type="hidden" name="redirect_to" value="{{.RedirectTo}}">
<input type="submit" value="Sign in">
</form>
{{template "layout_bottom"}}{{end}}

{{define "home"}}{{template "layout_top" .Title}}
<h1>{{.Title}}</h1>
<p>Signed in as <strong>{{.Username}}</strong>.</p>
{{if .Connections}}
<h2>Connections</h2>
<ul>
{{range .Connections}}<li>{{.Label}} &mdash; <a href="{{.IifPath}}">start IdP-initiated sign-on</a></li>
{{end}}</ul>
{{end}}
<p><a href="{{.LogoutPath}}">Sign out</a></p>
{{template "layout_bottom"}}{{end}}

{{define "error"}}{{template "layout_top" .Title}}
<h1 class="error">{{.Title}}</h1>
<p>{{.Message}}</p>
{{template "layout_bottom"}}{{end}}

{{define "auto_post"}}<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Redirecting</title></head>
<body onload="document.forms[0].submit()">
<noscript><p>Continue to complete sign-on.</p></noscript>
<form method="post" action="{{.AcsURL}}">
<input type="hidden" name="SAMLResponse" value="{{.SAMLResponse}}">
{{if .RelayState}}<input type="hidden" name="RelayState" value="{{.RelayState}}">{{end}}
<noscript><input type="submit" value="Continue"></noscript>
</form>
</body>
</html>
{{end}}
`))

// HomeConnection is a row on the IdP home page.
type HomeConnection struct {
	Label   string
	IifPath string
}

type spLoginData struct {
	Title   string
	SsoPath string
}

type idpLoginData struct {
	Title      string
	LoginPath  string
	RedirectTo string
}

type homeData struct {
	Title       string
	Username    string
	LogoutPath  string
	Connections []HomeConnection
}

type errorData struct {
	Title   string
	Message string
}

type autoPostData struct {
	AcsURL       string
	SAMLResponse string
	RelayState   string
}

func render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	// Template errors past WriteHeader cannot be reported to the client.
	_ = pages.ExecuteTemplate(w, name, data)
}

// RenderSpLogin renders the test SP's login page.
func RenderSpLogin(w http.ResponseWriter, title, ssoPath string) {
	render(w, http.StatusOK, "sp_login", spLoginData{Title: title, SsoPath: ssoPath})
}

// RenderIdpLogin renders the test IdP's login form. redirectTo is carried
// through the form so sign-in resumes the interrupted SSO request.
func RenderIdpLogin(w http.ResponseWriter, title, loginPath, redirectTo string) {
	render(w, http.StatusOK, "idp_login", idpLoginData{Title: title, LoginPath: loginPath, RedirectTo: redirectTo})
}

// RenderHome renders the signed-in landing page.
func RenderHome(w http.ResponseWriter, title, username, logoutPath string, connections []HomeConnection) {
	render(w, http.StatusOK, "home", homeData{
		Title:       title,
		Username:    username,
		LogoutPath:  logoutPath,
		Connections: connections,
	})
}

// RenderError renders an error page with the given status.
func RenderError(w http.ResponseWriter, status int, title, message string) {
	render(w, status, "error", errorData{Title: title, Message: message})
}

// RenderAutoPost renders the self-submitting POST-binding form carrying
// the encoded SAMLResponse (and RelayState, when present) to the ACS URL.
func RenderAutoPost(w http.ResponseWriter, acsURL, samlResponse, relayState string) {
	render(w, http.StatusOK, "auto_post", autoPostData{
		AcsURL:       acsURL,
		SAMLResponse: samlResponse,
		RelayState:   relayState,
	})
}

// RenderFailure maps a pipeline failure to its HTTP representation:
// protocol failures surface their message on a 401 page, internal faults
// are logged and answered with an opaque 500.
func RenderFailure(w http.ResponseWriter, logger zerolog.Logger, f *result.Failure) {
	if f.IsInternal() {
		logger.Error().Str("error", f.Detail()).Msg("internal failure")
		RenderError(w, http.StatusInternalServerError, "Internal Server Error",
			"Something went wrong processing the request.")
		return
	}
	logger.Info().Str("reason", f.Message).Msg("request rejected")
	RenderError(w, http.StatusUnauthorized, "Not Authenticated", f.Message)
}
