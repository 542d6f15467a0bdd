package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mikehadlow/samlproxy/internal/result"
)

// relayStateTTL bounds how long an unused relay state stays consumable.
// The sweep is an operational convenience; the used flag is what
// correctness depends on.
const relayStateTTL = 10 * time.Minute

const errInvalidRelayState = "RelayState is invalid or expired."

// RelayState binds an outbound AuthnRequest to the inbound Assertion that
// answers it. SpRequestID is the upstream caller's request id (proxy role
// only); ProxyRequestID is the request id this process minted for its own
// outbound leg.
type RelayState struct {
	RelayState     string
	SpEntityID     string
	SpRequestID    string
	ProxyRequestID string
	Timestamp      time.Time
	Used           bool
}

// RecordRelayState inserts a new unused row, stamped now.
func (s *Store) RecordRelayState(ctx context.Context, rs RelayState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_state (relay_state, sp_entity_id, sp_request_id, proxy_request_id, timestamp, used)
		VALUES (?, ?, ?, ?, ?, 0)`,
		rs.RelayState, rs.SpEntityID, rs.SpRequestID, rs.ProxyRequestID, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record relay state: %w", err)
	}
	return nil
}

// ConsumeRelayState atomically claims the unused row for token. The
// single UPDATE is the replay-protection primitive: SQLite serializes
// writers, so of two concurrent consumers exactly one observes used=0
// and flips it. There is never a separate read-then-write visible to
// other callers.
func (s *Store) ConsumeRelayState(ctx context.Context, token string) result.Result[RelayState] {
	row := s.db.QueryRowContext(ctx, `
		UPDATE relay_state SET used = 1
		WHERE relay_state = ? AND used = 0
		RETURNING relay_state, sp_entity_id, sp_request_id, proxy_request_id, timestamp`,
		token,
	)

	var rs RelayState
	var timestamp int64
	err := row.Scan(&rs.RelayState, &rs.SpEntityID, &rs.SpRequestID, &rs.ProxyRequestID, &timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return result.Fail[RelayState](errInvalidRelayState)
	}
	if err != nil {
		return result.FailErr[RelayState](fmt.Errorf("failed to consume relay state: %w", err))
	}

	rs.Timestamp = time.UnixMilli(timestamp)
	if s.now().Sub(rs.Timestamp) > relayStateTTL {
		return result.Fail[RelayState](errInvalidRelayState)
	}
	return result.Ok(rs)
}

// SweepRelayState deletes rows past the TTL, used or not. Run it
// periodically; nothing depends on it for correctness.
func (s *Store) SweepRelayState(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-relayStateTTL).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM relay_state WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep relay state: %w", err)
	}
	return res.RowsAffected()
}
