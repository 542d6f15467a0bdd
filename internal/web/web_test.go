package web

import (
	"errors"
	"html"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikehadlow/samlproxy/internal/result"
)

func TestRenderFailureMapsProtocolFailureTo401(t *testing.T) {
	rec := httptest.NewRecorder()

	RenderFailure(rec, zerolog.Nop(), &result.Failure{Message: "Invalid Issuer"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not Authenticated")
	assert.Contains(t, rec.Body.String(), "Invalid Issuer")
}

func TestRenderFailureHidesInternalFaults(t *testing.T) {
	rec := httptest.NewRecorder()

	RenderFailure(rec, zerolog.Nop(), &result.Failure{Err: errors.New("sql: database is locked")})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sql")
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestRenderAutoPostCarriesFields(t *testing.T) {
	rec := httptest.NewRecorder()

	RenderAutoPost(rec, "https://sp.example.com/sp/acs", "ZW5jb2RlZA==", "relay-1")

	page := rec.Body.String()
	assert.Contains(t, page, `action="https://sp.example.com/sp/acs"`)
	assert.Contains(t, page, `name="SAMLResponse" value="ZW5jb2RlZA=="`)
	assert.Contains(t, page, `name="RelayState" value="relay-1"`)
}

func TestRenderAutoPostEntityEscapesBase64(t *testing.T) {
	rec := httptest.NewRecorder()

	// '+' is entity-escaped in attribute values; a browser (or anything
	// scraping the form) must entity-decode to recover the payload.
	RenderAutoPost(rec, "https://sp.example.com/sp/acs", "AB+/CD+/EF==", "")

	page := rec.Body.String()
	assert.NotContains(t, page, `value="AB+/CD+/EF=="`)

	m := regexp.MustCompile(`name="SAMLResponse" value="([^"]*)"`).FindStringSubmatch(page)
	require.NotNil(t, m)
	assert.Equal(t, "AB+/CD+/EF==", html.UnescapeString(m[1]))
}

func TestRenderAutoPostOmitsEmptyRelayState(t *testing.T) {
	rec := httptest.NewRecorder()

	RenderAutoPost(rec, "https://sp.example.com/sp/acs", "ZW5jb2RlZA==", "")

	assert.NotContains(t, rec.Body.String(), "RelayState")
}
