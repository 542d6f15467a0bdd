package saml

import (
	"time"

	"github.com/google/uuid"
)

// Config carries the engine's injectable defaults. Multiple independent
// engines (one per tenant, or per test) can coexist because nothing here
// is package-level state.
type Config struct {
	// Now supplies the clock used for IssueInstant and validity windows.
	Now func() time.Time
	// NewID mints protocol identifiers (request ids, assertion ids).
	NewID func() string
	// AssertionTTL is the validity window stamped on generated
	// assertions.
	AssertionTTL time.Duration
}

// Engine implements the AuthnRequest and Assertion operations.
type Engine struct {
	now          func() time.Time
	newID        func() string
	assertionTTL time.Duration
}

// NewEngine creates an engine, filling unset Config fields with
// production defaults.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		now:          cfg.Now,
		newID:        cfg.NewID,
		assertionTTL: cfg.AssertionTTL,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		// XML IDs may not start with a digit; the leading underscore keeps
		// UUIDs valid as xsd:ID values.
		e.newID = func() string { return "_" + uuid.NewString() }
	}
	if e.assertionTTL == 0 {
		e.assertionTTL = 5 * time.Minute
	}
	return e
}
