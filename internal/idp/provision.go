package idp

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mikehadlow/samlproxy/internal/core"
	"github.com/mikehadlow/samlproxy/internal/keys"
	"github.com/mikehadlow/samlproxy/internal/saml"
	"github.com/mikehadlow/samlproxy/internal/store"
)

// Provision registers the proxy as this IdP's one service provider. The
// IdP signs with its own key pair; the proxy's ACS consumes the result.
func Provision(ctx context.Context, st *store.Store, cfg *core.IdpConfig, kp keys.KeyPair) error {
	conn := saml.SpConnection{
		ID:                 uuid.NewString(),
		IdpEntityID:        cfg.BaseURL + "/test-idp",
		IdpSsoURL:          cfg.BaseURL + "/idp/sso",
		PrivateKey:         kp.PrivateKey,
		PrivateKeyPassword: kp.PrivateKeyPassword,
		SigningCertificate: kp.Certificate,
		SpEntityID:         cfg.ProxyBaseURL + "/proxy",
		SpAcsURL:           cfg.ProxyBaseURL + "/proxy/acs",
	}
	if err := st.InsertSpConnection(ctx, conn); err != nil {
		return fmt.Errorf("failed to provision proxy connection: %w", err)
	}
	return nil
}
