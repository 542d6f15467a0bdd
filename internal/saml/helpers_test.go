package saml

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// tamperNameID rewrites the NameID inside an encoded response without
// re-signing, producing a structurally valid but untrusted assertion.
func tamperNameID(t *testing.T, encoded, newNameID string) string {
	t.Helper()

	xmlData, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	tampered := strings.Replace(string(xmlData), "leo@hadlow.com", newNameID, 1)
	require.NotEqual(t, string(xmlData), tampered, "expected NameID to be present")

	return base64.StdEncoding.EncodeToString([]byte(tampered))
}
