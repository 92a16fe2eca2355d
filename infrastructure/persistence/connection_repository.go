package persistence

import (
	"context"
	"database/sql"
	"time"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// ConnectionRepository stores platform connections in PostgreSQL. Token
// material is sealed on every write and opened on single-row reads; list
// queries never touch the token columns.
type ConnectionRepository struct {
	db     *sql.DB
	sealer repository.ISecretSealer
}

func NewConnectionRepository(db *sql.DB, sealer repository.ISecretSealer) repository.IConnectionRepository {
	return &ConnectionRepository{db: db, sealer: sealer}
}

const connectionColumns = `id, user_id, platform, account_id, display_name, scopes, access_token_sealed, refresh_token_sealed, token_expires_at, active, created_at, updated_at`

func (r *ConnectionRepository) Upsert(ctx context.Context, conn *model.PlatformConnection) error {
	accessSealed, err := r.sealer.Seal([]byte(conn.AccessToken))
	if err != nil {
		return err
	}
	refreshSealed, err := r.sealer.Seal([]byte(conn.RefreshToken))
	if err != nil {
		return err
	}
	scopes, err := marshalStrings(conn.Scopes)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	// Re-connecting the same account replaces the active row's tokens. An
	// empty refresh token keeps the stored one: several platforms only hand
	// the refresh token out on the first consent.
	q := `INSERT INTO platform_connections (` + connectionColumns + `)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,TRUE,$10,$11)
		  ON CONFLICT (user_id, platform, account_id) WHERE active DO UPDATE SET
			display_name=EXCLUDED.display_name,
			scopes=EXCLUDED.scopes,
			access_token_sealed=EXCLUDED.access_token_sealed,
			refresh_token_sealed=COALESCE(NULLIF(EXCLUDED.refresh_token_sealed,''), platform_connections.refresh_token_sealed),
			token_expires_at=EXCLUDED.token_expires_at,
			updated_at=EXCLUDED.updated_at`
	_, err = r.db.ExecContext(ctx, q,
		conn.ID, conn.UserID, string(conn.Platform), conn.AccountID, conn.DisplayName,
		scopes, accessSealed, refreshSealed, conn.TokenExpiresAt, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "upserting connection")
	}
	return nil
}

func (r *ConnectionRepository) Get(ctx context.Context, id string) (*model.PlatformConnection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM platform_connections WHERE id=$1`, id)
	return r.scanConnection(row)
}

func (r *ConnectionRepository) GetActive(ctx context.Context, userID string, platform model.PlatformID) (*model.PlatformConnection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM platform_connections
		 WHERE user_id=$1 AND platform=$2 AND active
		 ORDER BY created_at DESC LIMIT 1`, userID, string(platform))
	conn, err := r.scanConnection(row)
	if err != nil {
		if model.KindOf(err) == model.KindValidation {
			return nil, model.Errf(model.KindConfigMissing, "no active %s connection for user", platform)
		}
		return nil, err
	}
	return conn, nil
}

func (r *ConnectionRepository) ListForUser(ctx context.Context, userID string) ([]model.PlatformConnection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, platform, account_id, display_name, scopes, token_expires_at, active, created_at, updated_at
		 FROM platform_connections WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "listing connections")
	}
	defer rows.Close()
	return scanConnectionsWithoutTokens(rows)
}

func (r *ConnectionRepository) UpdateTokens(ctx context.Context, id string, bundle model.TokenBundle) error {
	accessSealed, err := r.sealer.Seal([]byte(bundle.AccessToken))
	if err != nil {
		return err
	}
	refreshSealed, err := r.sealer.Seal([]byte(bundle.RefreshToken))
	if err != nil {
		return err
	}
	var scopes string
	if len(bundle.Scopes) > 0 {
		if scopes, err = marshalStrings(bundle.Scopes); err != nil {
			return err
		}
	}

	q := `UPDATE platform_connections SET
			access_token_sealed=$2,
			refresh_token_sealed=COALESCE(NULLIF($3,''), refresh_token_sealed),
			token_expires_at=$4,
			scopes=COALESCE(NULLIF($5,''), scopes),
			updated_at=$6
		  WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, accessSealed, refreshSealed, bundle.ExpiresAt, scopes, time.Now().UTC())
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "updating connection tokens")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Errf(model.KindValidation, "connection %s not found", id)
	}
	return nil
}

func (r *ConnectionRepository) MarkInactive(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE platform_connections SET active=FALSE, updated_at=$2 WHERE id=$1`, id, time.Now().UTC())
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "deactivating connection")
	}
	return nil
}

func (r *ConnectionRepository) Deactivate(ctx context.Context, userID string, platform model.PlatformID) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE platform_connections SET active=FALSE, updated_at=$3 WHERE user_id=$1 AND platform=$2 AND active`,
		userID, string(platform), time.Now().UTC())
	if err != nil {
		return 0, model.WrapError(model.KindStorageUnavailable, err, "disconnecting platform")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *ConnectionRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]model.PlatformConnection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, platform, account_id, display_name, scopes, token_expires_at, active, created_at, updated_at
		 FROM platform_connections
		 WHERE active AND refresh_token_sealed <> '' AND token_expires_at <= $1
		 ORDER BY token_expires_at ASC LIMIT $2`, before, limit)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "listing expiring connections")
	}
	defer rows.Close()
	return scanConnectionsWithoutTokens(rows)
}

// scanConnection reads a full row and opens the sealed tokens.
func (r *ConnectionRepository) scanConnection(row *sql.Row) (*model.PlatformConnection, error) {
	conn := &model.PlatformConnection{}
	var platform, scopes, accessSealed, refreshSealed string
	err := row.Scan(&conn.ID, &conn.UserID, &platform, &conn.AccountID, &conn.DisplayName,
		&scopes, &accessSealed, &refreshSealed, &conn.TokenExpiresAt, &conn.Active,
		&conn.CreatedAt, &conn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, model.NewError(model.KindValidation, "connection not found")
	}
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "loading connection")
	}
	conn.Platform = model.PlatformID(platform)
	if conn.Scopes, err = unmarshalStrings(scopes); err != nil {
		return nil, err
	}
	access, err := r.sealer.Open(accessSealed)
	if err != nil {
		return nil, err
	}
	refresh, err := r.sealer.Open(refreshSealed)
	if err != nil {
		return nil, err
	}
	conn.AccessToken = string(access)
	conn.RefreshToken = string(refresh)
	return conn, nil
}

func scanConnectionsWithoutTokens(rows *sql.Rows) ([]model.PlatformConnection, error) {
	var out []model.PlatformConnection
	for rows.Next() {
		var conn model.PlatformConnection
		var platform, scopes string
		if err := rows.Scan(&conn.ID, &conn.UserID, &platform, &conn.AccountID, &conn.DisplayName,
			&scopes, &conn.TokenExpiresAt, &conn.Active, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, model.WrapError(model.KindStorageUnavailable, err, "scanning connection")
		}
		conn.Platform = model.PlatformID(platform)
		var err error
		if conn.Scopes, err = unmarshalStrings(scopes); err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "iterating connections")
	}
	return out, nil
}
