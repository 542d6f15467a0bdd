package saml

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"time"

	"github.com/beevik/etree"

	"github.com/mikehadlow/samlproxy/internal/result"
)

// SAML 2.0 namespaces and URNs used by the engine.
const (
	namespaceSAML  = "urn:oasis:names:tc:SAML:2.0:assertion"
	namespaceSAMLp = "urn:oasis:names:tc:SAML:2.0:protocol"

	nameIDFormatEmail = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	bindingHTTPPost   = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
	statusSuccess     = "urn:oasis:names:tc:SAML:2.0:status:Success"

	subjectConfirmationBearer = "urn:oasis:names:tc:SAML:2.0:cm:bearer"
	authnContextPassword      = "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"
)

// errMalformedAuthnRequest is the single message returned for any decode
// or structural failure: the cause is never leaked to the caller.
const errMalformedAuthnRequest = "Malformed AuthnRequest"

// GenerateAuthnRequest builds a redirect-bound AuthnRequest addressed to
// the connection's IdP SSO URL, naming the connection's SP entity as
// issuer. The returned ID must be bound into a RelayState row by the
// caller for later correlation.
func (e *Engine) GenerateAuthnRequest(conn IdpConnection, relayState string) (AuthnRequest, error) {
	id := e.newID()
	issueInstant := e.now().UTC().Format(time.RFC3339)

	doc := etree.NewDocument()
	req := doc.CreateElement("samlp:AuthnRequest")
	req.CreateAttr("xmlns:samlp", namespaceSAMLp)
	req.CreateAttr("xmlns:saml", namespaceSAML)
	req.CreateAttr("ID", id)
	req.CreateAttr("Version", "2.0")
	req.CreateAttr("IssueInstant", issueInstant)
	req.CreateAttr("Destination", conn.IdpSsoURL)
	req.CreateAttr("ProtocolBinding", bindingHTTPPost)
	req.CreateAttr("AssertionConsumerServiceURL", conn.SpAcsURL)

	issuer := req.CreateElement("saml:Issuer")
	issuer.SetText(conn.SpEntityID)

	nameIDPolicy := req.CreateElement("samlp:NameIDPolicy")
	nameIDPolicy.CreateAttr("Format", nameIDFormatEmail)
	nameIDPolicy.CreateAttr("AllowCreate", "true")

	xmlData, err := doc.WriteToBytes()
	if err != nil {
		return AuthnRequest{}, fmt.Errorf("failed to serialize AuthnRequest: %w", err)
	}

	encoded, err := deflateEncode(xmlData)
	if err != nil {
		return AuthnRequest{}, fmt.Errorf("failed to encode AuthnRequest: %w", err)
	}

	ssoURL, err := url.Parse(conn.IdpSsoURL)
	if err != nil {
		return AuthnRequest{}, fmt.Errorf("invalid IdP SSO URL %q: %w", conn.IdpSsoURL, err)
	}
	query := ssoURL.Query()
	query.Set("SAMLRequest", encoded)
	if relayState != "" {
		query.Set("RelayState", relayState)
	}
	ssoURL.RawQuery = query.Encode()

	return AuthnRequest{ID: id, URL: ssoURL.String()}, nil
}

// authnRequestXML is the structural shape of an inbound AuthnRequest.
type authnRequestXML struct {
	XMLName                     xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`
	ID                          string   `xml:"ID,attr"`
	Version                     string   `xml:"Version,attr"`
	IssueInstant                string   `xml:"IssueInstant,attr"`
	Destination                 string   `xml:"Destination,attr"`
	AssertionConsumerServiceURL string   `xml:"AssertionConsumerServiceURL,attr"`
	Issuer                      string   `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
}

// ParseAuthnRequest inflates and decodes a redirect-bound payload and
// extracts its details. It never partially succeeds: any decode failure
// or missing field yields the same generic failure.
func (e *Engine) ParseAuthnRequest(rawRequest string) result.Result[AuthnRequestDetails] {
	xmlData, err := inflateDecode(rawRequest)
	if err != nil {
		return result.Fail[AuthnRequestDetails](errMalformedAuthnRequest)
	}

	var req authnRequestXML
	if err := xml.Unmarshal(xmlData, &req); err != nil {
		return result.Fail[AuthnRequestDetails](errMalformedAuthnRequest)
	}

	if req.ID == "" || req.Issuer == "" || req.AssertionConsumerServiceURL == "" || req.Destination == "" {
		return result.Fail[AuthnRequestDetails](errMalformedAuthnRequest)
	}

	issueInstant, err := parseSAMLTime(req.IssueInstant)
	if err != nil {
		return result.Fail[AuthnRequestDetails](errMalformedAuthnRequest)
	}

	return result.Ok(AuthnRequestDetails{
		ID:           req.ID,
		Issuer:       req.Issuer,
		AcsURL:       req.AssertionConsumerServiceURL,
		SsoURL:       req.Destination,
		IssueInstant: issueInstant,
	})
}

// ValidateAuthnRequest binds parsed details to the specific trusted
// connection they claim to be from. Issuer spoofing and ACS redirection
// are both rejected here.
func (e *Engine) ValidateAuthnRequest(conn SpConnection, details AuthnRequestDetails) result.Result[result.Void] {
	if details.Issuer != conn.SpEntityID {
		return result.Fail[result.Void]("Invalid Issuer")
	}
	if details.AcsURL != conn.SpAcsURL {
		return result.Fail[result.Void]("Unmatched ACS URL")
	}
	return result.Done()
}

// parseSAMLTime accepts the RFC 3339 instants this system generates, with
// or without fractional seconds.
func parseSAMLTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t, nil
}
