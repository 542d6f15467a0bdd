package proxy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mikehadlow/samlproxy/internal/core"
	"github.com/mikehadlow/samlproxy/internal/keys"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/store"
)

// Provision registers the proxy's two counterparties and links them: the
// downstream SP (signed with the proxy's own key) and the upstream IdP
// (trusted via its certificate).
func Provision(ctx context.Context, st *store.Store, cfg *core.ProxyConfig, kp keys.KeyPair, idpCertificate string) error {
	spConn := saml.SpConnection{
		ID:                 uuid.NewString(),
		IdpEntityID:        cfg.BaseURL + "/proxy",
		IdpSsoURL:          cfg.BaseURL + "/proxy/sso",
		PrivateKey:         kp.PrivateKey,
		PrivateKeyPassword: kp.PrivateKeyPassword,
		SigningCertificate: kp.Certificate,
		SpEntityID:         cfg.SpBaseURL + "/test-sp",
		SpAcsURL:           cfg.SpBaseURL + "/sp/acs",
	}
	if err := st.InsertSpConnection(ctx, spConn); err != nil {
		return fmt.Errorf("failed to provision SP connection: %w", err)
	}

	idpConn := saml.IdpConnection{
		ID:                  uuid.NewString(),
		SpEntityID:          cfg.BaseURL + "/proxy",
		SpAcsURL:            cfg.BaseURL + "/proxy/acs",
		IdpEntityID:         cfg.IdpBaseURL + "/test-idp",
		IdpSsoURL:           cfg.IdpBaseURL + "/idp/sso",
		SigningCertificate:  idpCertificate,
		SpAllowIdpInitiated: true,
	}
	if err := st.InsertIdpConnection(ctx, idpConn); err != nil {
		return fmt.Errorf("failed to provision IdP connection: %w", err)
	}

	link := saml.Link{
		SpEntityID:  spConn.SpEntityID,
		IdpEntityID: idpConn.IdpEntityID,
	}
	if err := st.CreateLink(ctx, link); err != nil {
		return fmt.Errorf("failed to provision link: %w", err)
	}
	return nil
}
