package postgres

import (
	"context"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

type backupCodesRepo struct{ q querier }

var _ store.BackupCodes = (*backupCodesRepo)(nil)

// ReplaceBackupCodes should run inside a transaction so a failed insert does
// not leave the account without codes.
func (r *backupCodesRepo) ReplaceBackupCodes(ctx context.Context, accountID string, hashes []string) error {
	if err := r.DeleteBackupCodes(ctx, accountID); err != nil {
		return err
	}
	if len(hashes) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO backup_codes (account_id, code_hash, created_at)
		SELECT $1, h, $3 FROM unnest($2::text[]) AS h`,
		accountID, hashes, time.Now().UTC())
	return wrap("insert backup codes", err)
}

func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, accountID, hash string) error {
	tag, err := r.q.Exec(ctx,
		`DELETE FROM backup_codes WHERE account_id = $1 AND code_hash = $2`, accountID, hash)
	return requireAffected("consume backup code", tag, err)
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE account_id = $1`, accountID).Scan(&n)
	return n, wrap("count backup codes", err)
}

func (r *backupCodesRepo) DeleteBackupCodes(ctx context.Context, accountID string) error {
	_, err := r.q.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, accountID)
	return wrap("delete backup codes", err)
}
