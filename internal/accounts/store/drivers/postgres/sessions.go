package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/jackc/pgx/v5"
)

type sessionsRepo struct{ q querier }

var _ store.Sessions = (*sessionsRepo)(nil)

const sessionColumns = `id, account_id, refresh_hash, user_agent, ip,
	created_at, updated_at, expires_at, revoked_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.AccountID, &s.RefreshHash, &s.UserAgent, &s.IP,
		&s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt, &s.RevokedAt)
	return s, err
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.AccountID, s.RefreshHash, s.UserAgent, s.IP,
		s.CreatedAt, s.UpdatedAt, s.ExpiresAt, s.RevokedAt,
	)
	return wrap("create session", err)
}

func (r *sessionsRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	s, err := scanSession(r.q.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		return domain.Session{}, wrap("get session", err)
	}
	return s, nil
}

func (r *sessionsRepo) ListActiveSessions(ctx context.Context, accountID string, now time.Time) ([]domain.Session, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC, id DESC`, accountID, now)
	if err != nil {
		return nil, wrap("list sessions", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, wrap("scan session row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate sessions", err)
	}
	return out, nil
}

func (r *sessionsRepo) RotateSession(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE sessions SET refresh_hash = $1, expires_at = $2, updated_at = $3
		WHERE id = $4 AND refresh_hash = $5 AND revoked_at IS NULL AND expires_at > $3`,
		newHash, expiresAt, now, id, oldHash)
	return requireAffected("rotate session", tag, err)
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE sessions SET revoked_at = $1, updated_at = $1
		WHERE id = $2 AND revoked_at IS NULL`, at, id)
	return requireAffected("revoke session", tag, err)
}

func (r *sessionsRepo) RevokeAccountSessions(ctx context.Context, accountID, keepID string, at time.Time) (int, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE sessions SET revoked_at = $1, updated_at = $1
		WHERE account_id = $2 AND id <> $3 AND revoked_at IS NULL`, at, accountID, keepID)
	return affected("revoke account sessions", tag, err)
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM sessions WHERE expires_at < $1 OR revoked_at < $1`, cutoff)
	return affected("delete expired sessions", tag, err)
}
