package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

type actionTokensRepo struct{ q querier }

var _ store.ActionTokens = (*actionTokensRepo)(nil)

func (r *actionTokensRepo) CreateActionToken(ctx context.Context, t domain.ActionToken) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO action_tokens (id, account_id, purpose, token_hash, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.AccountID, string(t.Purpose), t.TokenHash, t.ExpiresAt, t.UsedAt, t.CreatedAt,
	)
	return wrap("create action token", err)
}

func (r *actionTokensRepo) GetActiveActionToken(ctx context.Context, purpose domain.ActionPurpose, hash string, now time.Time) (domain.ActionToken, error) {
	var (
		t domain.ActionToken
		p string
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, account_id, purpose, token_hash, expires_at, used_at, created_at
		FROM action_tokens
		WHERE purpose = $1 AND token_hash = $2 AND used_at IS NULL AND expires_at > $3`,
		string(purpose), hash, now,
	).Scan(&t.ID, &t.AccountID, &p, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		return domain.ActionToken{}, wrap("get action token", err)
	}
	t.Purpose = domain.ActionPurpose(p)
	return t, nil
}

func (r *actionTokensRepo) ConsumeActionToken(ctx context.Context, id string, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE action_tokens SET used_at = $1 WHERE id = $2 AND used_at IS NULL`, at, id)
	return requireAffected("consume action token", tag, err)
}

func (r *actionTokensRepo) InvalidateActionTokens(ctx context.Context, accountID string, purpose domain.ActionPurpose, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE action_tokens SET used_at = $1
		WHERE account_id = $2 AND purpose = $3 AND used_at IS NULL`,
		at, accountID, string(purpose))
	return wrap("invalidate action tokens", err)
}

func (r *actionTokensRepo) DeleteStaleActionTokens(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM action_tokens WHERE expires_at < $1 OR used_at < $1`, cutoff)
	return affected("delete stale action tokens", tag, err)
}
