package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

type sessionsRepo struct{ q dbtx }

var _ store.Sessions = (*sessionsRepo)(nil)

const sessionColumns = `id, account_id, refresh_hash, user_agent, ip,
	created_at, updated_at, expires_at, revoked_at`

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var (
		s       domain.Session
		revoked sql.NullTime
	)
	err := row.Scan(&s.ID, &s.AccountID, &s.RefreshHash, &s.UserAgent, &s.IP,
		&s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt, &revoked)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.RevokedAt = mapNullTimePtr(revoked)
	return s, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AccountID, s.RefreshHash, s.UserAgent, s.IP,
		s.CreatedAt.UTC(), s.UpdatedAt.UTC(), s.ExpiresAt.UTC(), mapOptionalTime(s.RevokedAt),
	)
	return mapConstraint(err)
}

func (r *sessionsRepo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return scanSession(r.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

func (r *sessionsRepo) ListActiveSessions(ctx context.Context, accountID string, now time.Time) ([]domain.Session, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE account_id = ? AND revoked_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC, id DESC`, accountID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sessionsRepo) RotateSession(ctx context.Context, id, oldHash, newHash string, expiresAt, now time.Time) error {
	return requireAffected(r.q.ExecContext(ctx, `
		UPDATE sessions SET refresh_hash = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND refresh_hash = ? AND revoked_at IS NULL AND expires_at > ?`,
		newHash, expiresAt.UTC(), now.UTC(), id, oldHash, now.UTC()))
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string, at time.Time) error {
	return requireAffected(r.q.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL`, at.UTC(), at.UTC(), id))
}

func (r *sessionsRepo) RevokeAccountSessions(ctx context.Context, accountID, keepID string, at time.Time) (int, error) {
	return affected(r.q.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ?, updated_at = ?
		WHERE account_id = ? AND id <> ? AND revoked_at IS NULL`,
		at.UTC(), at.UTC(), accountID, keepID))
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error) {
	return affected(r.q.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at < ? OR revoked_at < ?`, cutoff.UTC(), cutoff.UTC()))
}
