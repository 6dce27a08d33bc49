package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

type actionTokensRepo struct{ q dbtx }

var _ store.ActionTokens = (*actionTokensRepo)(nil)

func (r *actionTokensRepo) CreateActionToken(ctx context.Context, t domain.ActionToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO action_tokens (id, account_id, purpose, token_hash, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, string(t.Purpose), t.TokenHash,
		t.ExpiresAt.UTC(), mapOptionalTime(t.UsedAt), t.CreatedAt.UTC(),
	)
	return mapConstraint(err)
}

func (r *actionTokensRepo) GetActiveActionToken(ctx context.Context, purpose domain.ActionPurpose, hash string, now time.Time) (domain.ActionToken, error) {
	var (
		t      domain.ActionToken
		p      string
		usedAt sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, account_id, purpose, token_hash, expires_at, used_at, created_at
		FROM action_tokens
		WHERE purpose = ? AND token_hash = ? AND used_at IS NULL AND expires_at > ?`,
		string(purpose), hash, now.UTC(),
	).Scan(&t.ID, &t.AccountID, &p, &t.TokenHash, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err != nil {
		return domain.ActionToken{}, mapNotFound(err)
	}
	t.Purpose = domain.ActionPurpose(p)
	t.UsedAt = mapNullTimePtr(usedAt)
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (r *actionTokensRepo) ConsumeActionToken(ctx context.Context, id string, at time.Time) error {
	return requireAffected(r.q.ExecContext(ctx,
		`UPDATE action_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`, at.UTC(), id))
}

func (r *actionTokensRepo) InvalidateActionTokens(ctx context.Context, accountID string, purpose domain.ActionPurpose, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE action_tokens SET used_at = ?
		WHERE account_id = ? AND purpose = ? AND used_at IS NULL`,
		at.UTC(), accountID, string(purpose))
	return err
}

func (r *actionTokensRepo) DeleteStaleActionTokens(ctx context.Context, cutoff time.Time) (int, error) {
	return affected(r.q.ExecContext(ctx,
		`DELETE FROM action_tokens WHERE expires_at < ? OR used_at < ?`, cutoff.UTC(), cutoff.UTC()))
}
