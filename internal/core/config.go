// Package core holds the configuration loading and HTTP middleware shared
// by the proxy, the test SP and the test IdP.
package core

import (
	"os"
	"strings"
)

// ProxyConfig holds the federation proxy configuration.
type ProxyConfig struct {
	// Server listening address
	ListenAddr string

	// Base URL for constructing the proxy's own entity id and endpoints
	BaseURL string

	// Base URLs of the SP and IdP the proxy bridges
	SpBaseURL  string
	IdpBaseURL string

	// SQLite database path, ":memory:" for ephemeral
	DatabasePath string

	// Directory holding PEM key material; empty means generate
	// throwaway development keys under DevKeysDir
	KeysBasePath       string
	PrivateKeyFile     string
	PrivateKeyPassword string
	CertificateFile    string
	IdpCertificateFile string

	// Enable debug logging
	Debug bool
}

// SpConfig holds the standalone test SP configuration.
type SpConfig struct {
	ListenAddr   string
	BaseURL      string
	ProxyBaseURL string
	DatabasePath string

	KeysBasePath         string
	ProxyCertificateFile string

	SessionSecret string
	Debug         bool
}

// IdpConfig holds the standalone test IdP configuration.
type IdpConfig struct {
	ListenAddr   string
	BaseURL      string
	ProxyBaseURL string
	DatabasePath string

	KeysBasePath       string
	PrivateKeyFile     string
	PrivateKeyPassword string
	CertificateFile    string

	SessionSecret string
	Debug         bool
}

// DevKeysDir is where ephemeral key pairs are written when no
// KeysBasePath is configured, so the three processes started from the
// same directory trust each other.
const DevKeysDir = "devkeys"

// LoadProxyConfig loads the proxy configuration from environment
// variables with development defaults.
func LoadProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		ListenAddr:         getEnv("SAMLPROXY_LISTEN_ADDR", ":4000"),
		BaseURL:            getEnv("SAMLPROXY_BASE_URL", "http://localhost:4000"),
		SpBaseURL:          getEnv("SAMLPROXY_SP_BASE_URL", "http://localhost:4001"),
		IdpBaseURL:         getEnv("SAMLPROXY_IDP_BASE_URL", "http://localhost:4002"),
		DatabasePath:       getEnv("SAMLPROXY_DB_PATH", ":memory:"),
		KeysBasePath:       getEnv("SAMLPROXY_KEYS_PATH", ""),
		PrivateKeyFile:     getEnv("SAMLPROXY_PRIVATE_KEY_FILE", "proxy.key.pem"),
		PrivateKeyPassword: getEnv("SAMLPROXY_PRIVATE_KEY_PASSWORD", ""),
		CertificateFile:    getEnv("SAMLPROXY_CERTIFICATE_FILE", "proxy.cert.pem"),
		IdpCertificateFile: getEnv("SAMLPROXY_IDP_CERTIFICATE_FILE", "idp.cert.pem"),
		Debug:              getEnvBool("SAMLPROXY_DEBUG", false),
	}
}

// LoadSpConfig loads the test SP configuration from environment
// variables with development defaults.
func LoadSpConfig() *SpConfig {
	return &SpConfig{
		ListenAddr:           getEnv("TESTSP_LISTEN_ADDR", ":4001"),
		BaseURL:              getEnv("TESTSP_BASE_URL", "http://localhost:4001"),
		ProxyBaseURL:         getEnv("TESTSP_PROXY_BASE_URL", "http://localhost:4000"),
		DatabasePath:         getEnv("TESTSP_DB_PATH", ":memory:"),
		KeysBasePath:         getEnv("TESTSP_KEYS_PATH", ""),
		ProxyCertificateFile: getEnv("TESTSP_PROXY_CERTIFICATE_FILE", "proxy.cert.pem"),
		SessionSecret:        getEnv("TESTSP_SESSION_SECRET", "test-sp-development-secret"),
		Debug:                getEnvBool("TESTSP_DEBUG", false),
	}
}

// LoadIdpConfig loads the test IdP configuration from environment
// variables with development defaults.
func LoadIdpConfig() *IdpConfig {
	return &IdpConfig{
		ListenAddr:         getEnv("TESTIDP_LISTEN_ADDR", ":4002"),
		BaseURL:            getEnv("TESTIDP_BASE_URL", "http://localhost:4002"),
		ProxyBaseURL:       getEnv("TESTIDP_PROXY_BASE_URL", "http://localhost:4000"),
		DatabasePath:       getEnv("TESTIDP_DB_PATH", ":memory:"),
		KeysBasePath:       getEnv("TESTIDP_KEYS_PATH", ""),
		PrivateKeyFile:     getEnv("TESTIDP_PRIVATE_KEY_FILE", "idp.key.pem"),
		PrivateKeyPassword: getEnv("TESTIDP_PRIVATE_KEY_PASSWORD", ""),
		CertificateFile:    getEnv("TESTIDP_CERTIFICATE_FILE", "idp.cert.pem"),
		SessionSecret:      getEnv("TESTIDP_SESSION_SECRET", "test-idp-development-secret"),
		Debug:              getEnvBool("TESTIDP_DEBUG", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}
