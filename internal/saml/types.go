// Package saml implements the federation protocol engine: generating and
// parsing redirect-bound AuthnRequests, generating, parsing and
// validating POST-bound signed Assertions, and the trust checks binding
// both to a registered connection. XML signature creation and
// verification are delegated to goxmldsig; this package never
// reimplements XML security.
package saml

import "time"

// IdpConnection is an SP's view of one IdP: the SP generates the
// SP-initiated AuthnRequest against it and consumes the returned
// Assertion at the ACS endpoint.
type IdpConnection struct {
	ID string `validate:"required"`
	// SP (my) properties
	SpEntityID string `validate:"required,url"`
	SpAcsURL   string `validate:"required,url"`
	// IdP (their) properties
	IdpEntityID        string `validate:"required,url"`
	IdpSsoURL          string `validate:"required,url"`
	SigningCertificate string `validate:"required,min=64"`
	// SpAllowIdpInitiated gates whether an Assertion may arrive without a
	// preceding AuthnRequest.
	SpAllowIdpInitiated bool
}

// SpConnection is an IdP's view of one SP: the IdP consumes the SP's
// AuthnRequest, authenticates the principal and issues the signed
// Assertion.
type SpConnection struct {
	ID string `validate:"required"`
	// IdP (my) properties
	IdpEntityID        string `validate:"required,url"`
	IdpSsoURL          string `validate:"required,url"`
	PrivateKey         string `validate:"required,min=64"`
	PrivateKeyPassword string
	SigningCertificate string `validate:"required,min=64"`
	// SP (their) properties
	SpEntityID string `validate:"required,url"`
	SpAcsURL   string `validate:"required,url"`
}

// Link wires an SP entity to the one upstream IdP the proxy bridges it
// to. The mapping is symmetric and 1:1.
type Link struct {
	SpEntityID  string `validate:"required,url"`
	IdpEntityID string `validate:"required,url"`
}

// AuthnRequest is a freshly generated redirect-bound request. The ID must
// be retained by the caller for later correlation.
type AuthnRequest struct {
	ID  string
	URL string
}

// AuthnRequestDetails are the fields extracted from an inbound
// AuthnRequest before any trust has been established.
type AuthnRequestDetails struct {
	ID           string
	Issuer       string
	AcsURL       string
	SsoURL       string
	IssueInstant time.Time
}

// Assertion is a freshly generated POST-bound signed assertion.
type Assertion struct {
	ID         string
	Assertion  string // base64-encoded signed Response document
	AcsURL     string
	RelayState string
}

// AssertionExtract are the fields structurally read from an inbound
// Assertion before any trust has been established. InResponseTo is empty
// for an IdP-initiated flow.
type AssertionExtract struct {
	ID           string
	InResponseTo string
	Issuer       string
	Audience     string
	IssueInstant time.Time
	NameID       string
	NotBefore    time.Time
	NotOnOrAfter time.Time
	Destination  string
}

// User is the authenticated principal carried into assertion generation.
type User struct {
	Email string
}
