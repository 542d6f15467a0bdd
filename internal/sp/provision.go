package sp

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mikehadlow/samlproxy/internal/core"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/store"
)

// Provision registers the proxy as this SP's identity provider,
// trusting the proxy's signing certificate. Returns the IdP entity id
// the app should sign in against.
func Provision(ctx context.Context, st *store.Store, cfg *core.SpConfig, proxyCertificate string) (string, error) {
	conn := saml.IdpConnection{
		ID:                  uuid.NewString(),
		SpEntityID:          cfg.BaseURL + "/test-sp",
		SpAcsURL:            cfg.BaseURL + "/sp/acs",
		IdpEntityID:         cfg.ProxyBaseURL + "/proxy",
		IdpSsoURL:           cfg.ProxyBaseURL + "/proxy/sso",
		SigningCertificate:  proxyCertificate,
		SpAllowIdpInitiated: true,
	}
	if err := st.InsertIdpConnection(ctx, conn); err != nil {
		return "", fmt.Errorf("failed to provision proxy connection: %w", err)
	}
	return conn.IdpEntityID, nil
}
