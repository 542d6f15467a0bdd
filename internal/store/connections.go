package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mikehadlow/samlproxy/internal/result"
	"github.com/mikehadlow/samlproxy/internal/saml"
)

// InsertSpConnection validates and persists an IdP's view of one SP. A
// malformed connection is rejected here, at write time, never at use
// time.
func (s *Store) InsertSpConnection(ctx context.Context, conn saml.SpConnection) error {
	if err := s.validate.Struct(conn); err != nil {
		return fmt.Errorf("invalid SP connection: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sp_connection (
			id, idp_entity_id, idp_sso_url, private_key, private_key_password,
			signing_certificate, sp_entity_id, sp_acs_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.IdpEntityID, conn.IdpSsoURL, conn.PrivateKey, conn.PrivateKeyPassword,
		conn.SigningCertificate, conn.SpEntityID, conn.SpAcsURL,
	)
	if err != nil {
		return fmt.Errorf("failed to insert SP connection: %w", err)
	}
	return nil
}

const spConnectionColumns = `
	id, idp_entity_id, idp_sso_url, private_key, private_key_password,
	signing_certificate, sp_entity_id, sp_acs_url`

func scanSpConnection(row *sql.Row) (saml.SpConnection, error) {
	var conn saml.SpConnection
	err := row.Scan(
		&conn.ID, &conn.IdpEntityID, &conn.IdpSsoURL, &conn.PrivateKey, &conn.PrivateKeyPassword,
		&conn.SigningCertificate, &conn.SpEntityID, &conn.SpAcsURL,
	)
	return conn, err
}

// GetSpConnection looks up an SP connection by the SP's entity id. An
// unknown counterparty is a hard failure, never a default connection.
func (s *Store) GetSpConnection(ctx context.Context, spEntityID string) result.Result[saml.SpConnection] {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+spConnectionColumns+` FROM sp_connection WHERE sp_entity_id = ?`, spEntityID)

	conn, err := scanSpConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return result.Failf[saml.SpConnection]("Invalid SP entity ID: %s. No connection found", spEntityID)
	}
	if err != nil {
		return result.FailErr[saml.SpConnection](fmt.Errorf("failed to read SP connection: %w", err))
	}
	return result.Ok(conn)
}

// GetSpConnectionByID looks up an SP connection by surrogate id, used by
// the IdP-initiated issuance endpoint.
func (s *Store) GetSpConnectionByID(ctx context.Context, id string) result.Result[saml.SpConnection] {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+spConnectionColumns+` FROM sp_connection WHERE id = ?`, id)

	conn, err := scanSpConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return result.Failf[saml.SpConnection]("Invalid SP connection ID: %s. No connection found", id)
	}
	if err != nil {
		return result.FailErr[saml.SpConnection](fmt.Errorf("failed to read SP connection: %w", err))
	}
	return result.Ok(conn)
}

// ListSpConnections returns every registered SP connection, used by the
// IdP home page to offer IdP-initiated sign-on.
func (s *Store) ListSpConnections(ctx context.Context) ([]saml.SpConnection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+spConnectionColumns+` FROM sp_connection ORDER BY sp_entity_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list SP connections: %w", err)
	}
	defer rows.Close()

	var conns []saml.SpConnection
	for rows.Next() {
		var conn saml.SpConnection
		if err := rows.Scan(
			&conn.ID, &conn.IdpEntityID, &conn.IdpSsoURL, &conn.PrivateKey, &conn.PrivateKeyPassword,
			&conn.SigningCertificate, &conn.SpEntityID, &conn.SpAcsURL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan SP connection: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// InsertIdpConnection validates and persists an SP's view of one IdP.
func (s *Store) InsertIdpConnection(ctx context.Context, conn saml.IdpConnection) error {
	if err := s.validate.Struct(conn); err != nil {
		return fmt.Errorf("invalid IdP connection: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idp_connection (
			id, sp_entity_id, sp_acs_url, sp_allow_idp_initiated,
			idp_entity_id, idp_sso_url, signing_certificate
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.SpEntityID, conn.SpAcsURL, boolToInt(conn.SpAllowIdpInitiated),
		conn.IdpEntityID, conn.IdpSsoURL, conn.SigningCertificate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert IdP connection: %w", err)
	}
	return nil
}

// GetIdpConnection looks up an IdP connection by the IdP's entity id.
func (s *Store) GetIdpConnection(ctx context.Context, idpEntityID string) result.Result[saml.IdpConnection] {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sp_entity_id, sp_acs_url, sp_allow_idp_initiated,
			idp_entity_id, idp_sso_url, signing_certificate
		FROM idp_connection WHERE idp_entity_id = ?`, idpEntityID)

	var conn saml.IdpConnection
	var allowIdpInitiated int
	err := row.Scan(
		&conn.ID, &conn.SpEntityID, &conn.SpAcsURL, &allowIdpInitiated,
		&conn.IdpEntityID, &conn.IdpSsoURL, &conn.SigningCertificate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return result.Failf[saml.IdpConnection]("Invalid IdP entity ID: %s. No connection found", idpEntityID)
	}
	if err != nil {
		return result.FailErr[saml.IdpConnection](fmt.Errorf("failed to read IdP connection: %w", err))
	}
	conn.SpAllowIdpInitiated = allowIdpInitiated == 1
	return result.Ok(conn)
}

// CreateLink wires an SP entity to its one upstream IdP. The UNIQUE
// constraints on both columns enforce the symmetric 1:1 mapping.
func (s *Store) CreateLink(ctx context.Context, link saml.Link) error {
	if err := s.validate.Struct(link); err != nil {
		return fmt.Errorf("invalid link: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sp_to_idp_link (sp_entity_id, idp_entity_id) VALUES (?, ?)`,
		link.SpEntityID, link.IdpEntityID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

// GetLinkBySpEntityID resolves the upstream IdP bridged to an SP.
func (s *Store) GetLinkBySpEntityID(ctx context.Context, spEntityID string) result.Result[saml.Link] {
	row := s.db.QueryRowContext(ctx,
		`SELECT sp_entity_id, idp_entity_id FROM sp_to_idp_link WHERE sp_entity_id = ?`, spEntityID)

	var link saml.Link
	err := row.Scan(&link.SpEntityID, &link.IdpEntityID)
	if errors.Is(err, sql.ErrNoRows) {
		return result.Failf[saml.Link]("No linked IdP found for SP: %s", spEntityID)
	}
	if err != nil {
		return result.FailErr[saml.Link](fmt.Errorf("failed to read link: %w", err))
	}
	return result.Ok(link)
}

// GetLinkByIdpEntityID resolves the downstream SP bridged to an IdP.
func (s *Store) GetLinkByIdpEntityID(ctx context.Context, idpEntityID string) result.Result[saml.Link] {
	row := s.db.QueryRowContext(ctx,
		`SELECT sp_entity_id, idp_entity_id FROM sp_to_idp_link WHERE idp_entity_id = ?`, idpEntityID)

	var link saml.Link
	err := row.Scan(&link.SpEntityID, &link.IdpEntityID)
	if errors.Is(err, sql.ErrNoRows) {
		return result.Failf[saml.Link]("No linked SP found for IdP: %s", idpEntityID)
	}
	if err != nil {
		return result.FailErr[saml.Link](fmt.Errorf("failed to read link: %w", err))
	}
	return result.Ok(link)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
