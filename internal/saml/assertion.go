package saml

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/mikehadlow/samlproxy/internal/keys"
	"github.com/mikehadlow/samlproxy/internal/result"
)

const errMalformedResponse = "Malformed SAMLResponse"

// keyStore adapts a connection's PEM material to goxmldsig's signing
// interface.
type keyStore struct {
	key  *rsa.PrivateKey
	cert []byte // DER
}

func (ks keyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return ks.key, ks.cert, nil
}

// GenerateAssertion produces a POST-bound Assertion signed with the
// connection's private key, valid for the engine's TTL from now. An
// empty requestID produces an IdP-initiated assertion with no
// InResponseTo. Each call mints fresh response and assertion ids.
func (e *Engine) GenerateAssertion(conn SpConnection, user User, requestID, relayState string) (Assertion, error) {
	privateKey, err := keys.ParsePrivateKey(conn.PrivateKey, conn.PrivateKeyPassword)
	if err != nil {
		return Assertion{}, fmt.Errorf("connection %s: %w", conn.IdpEntityID, err)
	}
	cert, err := keys.ParseCertificate(conn.SigningCertificate)
	if err != nil {
		return Assertion{}, fmt.Errorf("connection %s: %w", conn.IdpEntityID, err)
	}

	responseID := e.newID()
	assertionID := e.newID()
	now := e.now().UTC()
	notOnOrAfter := now.Add(e.assertionTTL)
	issueInstant := now.Format(time.RFC3339)

	doc := etree.NewDocument()
	resp := doc.CreateElement("samlp:Response")
	resp.CreateAttr("xmlns:samlp", namespaceSAMLp)
	resp.CreateAttr("xmlns:saml", namespaceSAML)
	resp.CreateAttr("ID", responseID)
	resp.CreateAttr("Version", "2.0")
	resp.CreateAttr("IssueInstant", issueInstant)
	resp.CreateAttr("Destination", conn.SpAcsURL)
	if requestID != "" {
		resp.CreateAttr("InResponseTo", requestID)
	}

	respIssuer := resp.CreateElement("saml:Issuer")
	respIssuer.SetText(conn.IdpEntityID)

	status := resp.CreateElement("samlp:Status")
	statusCode := status.CreateElement("samlp:StatusCode")
	statusCode.CreateAttr("Value", statusSuccess)

	// The assertion subtree declares its own namespace so it stays
	// self-contained under enveloped-signature canonicalization.
	assertion := resp.CreateElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", namespaceSAML)
	assertion.CreateAttr("ID", assertionID)
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", issueInstant)

	assertionIssuer := assertion.CreateElement("saml:Issuer")
	assertionIssuer.SetText(conn.IdpEntityID)

	subject := assertion.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", nameIDFormatEmail)
	nameID.SetText(user.Email)
	subjectConfirmation := subject.CreateElement("saml:SubjectConfirmation")
	subjectConfirmation.CreateAttr("Method", subjectConfirmationBearer)
	scd := subjectConfirmation.CreateElement("saml:SubjectConfirmationData")
	scd.CreateAttr("NotOnOrAfter", notOnOrAfter.Format(time.RFC3339))
	scd.CreateAttr("Recipient", conn.SpAcsURL)
	if requestID != "" {
		scd.CreateAttr("InResponseTo", requestID)
	}

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", issueInstant)
	conditions.CreateAttr("NotOnOrAfter", notOnOrAfter.Format(time.RFC3339))
	audienceRestriction := conditions.CreateElement("saml:AudienceRestriction")
	audience := audienceRestriction.CreateElement("saml:Audience")
	audience.SetText(conn.SpEntityID)

	authnStatement := assertion.CreateElement("saml:AuthnStatement")
	authnStatement.CreateAttr("AuthnInstant", issueInstant)
	authnContext := authnStatement.CreateElement("saml:AuthnContext")
	classRef := authnContext.CreateElement("saml:AuthnContextClassRef")
	classRef.SetText(authnContextPassword)

	signingContext := dsig.NewDefaultSigningContext(keyStore{key: privateKey, cert: cert.Raw})
	// SAML signatures use exclusive canonicalization; the default C14N 1.1
	// canonicalizer produces signatures the validation side cannot verify.
	signingContext.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	if err := signingContext.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return Assertion{}, fmt.Errorf("failed to set signature method: %w", err)
	}
	signedAssertion, err := signingContext.SignEnveloped(assertion)
	if err != nil {
		return Assertion{}, fmt.Errorf("failed to sign assertion: %w", err)
	}
	resp.RemoveChild(assertion)
	resp.AddChild(signedAssertion)

	xmlData, err := doc.WriteToBytes()
	if err != nil {
		return Assertion{}, fmt.Errorf("failed to serialize response: %w", err)
	}

	return Assertion{
		ID:         responseID,
		Assertion:  base64.StdEncoding.EncodeToString(xmlData),
		AcsURL:     conn.SpAcsURL,
		RelayState: relayState,
	}, nil
}

// responseXML is the structural shape of an inbound SAML Response.
type responseXML struct {
	XMLName      xml.Name     `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`
	ID           string       `xml:"ID,attr"`
	InResponseTo string       `xml:"InResponseTo,attr"`
	Destination  string       `xml:"Destination,attr"`
	IssueInstant string       `xml:"IssueInstant,attr"`
	Issuer       string       `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	Status       statusXML    `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`
	Assertion    assertionXML `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`
}

type statusXML struct {
	StatusCode struct {
		Value string `xml:"Value,attr"`
	} `xml:"StatusCode"`
}

type assertionXML struct {
	ID           string `xml:"ID,attr"`
	IssueInstant string `xml:"IssueInstant,attr"`
	Issuer       string `xml:"Issuer"`
	Subject      struct {
		NameID              string `xml:"NameID"`
		SubjectConfirmation struct {
			SubjectConfirmationData struct {
				NotOnOrAfter string `xml:"NotOnOrAfter,attr"`
				Recipient    string `xml:"Recipient,attr"`
				InResponseTo string `xml:"InResponseTo,attr"`
			} `xml:"SubjectConfirmationData"`
		} `xml:"SubjectConfirmation"`
	} `xml:"Subject"`
	Conditions struct {
		NotBefore           string `xml:"NotBefore,attr"`
		NotOnOrAfter        string `xml:"NotOnOrAfter,attr"`
		AudienceRestriction struct {
			Audience string `xml:"Audience"`
		} `xml:"AudienceRestriction"`
	} `xml:"Conditions"`
}

// ParseAssertion decodes an encoded Response and extracts the assertion's
// claims without verifying signature or trust. It runs before trust is
// established so the caller knows which IdP connection to verify against;
// ValidateAssertion must always follow.
func (e *Engine) ParseAssertion(encodedAssertion string) result.Result[AssertionExtract] {
	xmlData, err := base64.StdEncoding.DecodeString(encodedAssertion)
	if err != nil {
		return result.Fail[AssertionExtract](errMalformedResponse)
	}

	var resp responseXML
	if err := xml.Unmarshal(xmlData, &resp); err != nil {
		return result.Fail[AssertionExtract](errMalformedResponse)
	}

	a := resp.Assertion
	if a.ID == "" || a.Issuer == "" || a.Subject.NameID == "" ||
		a.Conditions.AudienceRestriction.Audience == "" || resp.Destination == "" {
		return result.Fail[AssertionExtract](errMalformedResponse)
	}

	issueInstant, err := parseSAMLTime(a.IssueInstant)
	if err != nil {
		return result.Fail[AssertionExtract](errMalformedResponse)
	}
	notBefore, err := parseSAMLTime(a.Conditions.NotBefore)
	if err != nil {
		return result.Fail[AssertionExtract](errMalformedResponse)
	}
	notOnOrAfter, err := parseSAMLTime(a.Conditions.NotOnOrAfter)
	if err != nil {
		return result.Fail[AssertionExtract](errMalformedResponse)
	}

	inResponseTo := resp.InResponseTo
	if inResponseTo == "" {
		inResponseTo = a.Subject.SubjectConfirmation.SubjectConfirmationData.InResponseTo
	}

	return result.Ok(AssertionExtract{
		ID:           a.ID,
		InResponseTo: inResponseTo,
		Issuer:       a.Issuer,
		Audience:     a.Conditions.AudienceRestriction.Audience,
		IssueInstant: issueInstant,
		NameID:       a.Subject.NameID,
		NotBefore:    notBefore,
		NotOnOrAfter: notOnOrAfter,
		Destination:  resp.Destination,
	})
}

// ValidateAssertion verifies the assertion's signature against the
// connection's certificate, then checks status, audience and the validity
// window. Parse success never implies trust; callers sequence parse
// first, validate second.
func (e *Engine) ValidateAssertion(conn IdpConnection, encodedAssertion string) result.Result[result.Void] {
	xmlData, err := base64.StdEncoding.DecodeString(encodedAssertion)
	if err != nil {
		return result.Fail[result.Void](errMalformedResponse)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlData); err != nil {
		return result.Fail[result.Void](errMalformedResponse)
	}
	assertionEl := doc.FindElement("//Assertion")
	if assertionEl == nil {
		return result.Fail[result.Void](errMalformedResponse)
	}

	cert, err := keys.ParseCertificate(conn.SigningCertificate)
	if err != nil {
		return result.FailErr[result.Void](fmt.Errorf("connection %s: %w", conn.IdpEntityID, err))
	}

	validationContext := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	if _, err := validationContext.Validate(assertionEl); err != nil {
		return result.Fail[result.Void](err.Error())
	}

	var resp responseXML
	if err := xml.Unmarshal(xmlData, &resp); err != nil {
		return result.Fail[result.Void](errMalformedResponse)
	}
	if resp.Status.StatusCode.Value != statusSuccess {
		return result.Failf[result.Void]("SAMLResponse status is not success: %s", resp.Status.StatusCode.Value)
	}

	return result.Chain(e.ParseAssertion(encodedAssertion), func(extract AssertionExtract) result.Result[result.Void] {
		if extract.Audience != conn.SpEntityID {
			return result.Fail[result.Void]("Invalid Audience")
		}
		now := e.now().UTC()
		if now.Before(extract.NotBefore) || !now.Before(extract.NotOnOrAfter) {
			return result.Fail[result.Void]("Assertion is outside its validity window")
		}
		return result.Done()
	})
}
