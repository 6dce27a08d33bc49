package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

type backupCodesRepo struct{ q dbtx }

var _ store.BackupCodes = (*backupCodesRepo)(nil)

// ReplaceBackupCodes should run inside a transaction so a failed insert does
// not leave the account without codes.
func (r *backupCodesRepo) ReplaceBackupCodes(ctx context.Context, accountID string, hashes []string) error {
	if err := r.DeleteBackupCodes(ctx, accountID); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, h := range hashes {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO backup_codes (account_id, code_hash, created_at) VALUES (?, ?, ?)`,
			accountID, h, now)
		if err != nil {
			return mapConstraint(err)
		}
	}
	return nil
}

func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, accountID, hash string) error {
	return requireAffected(r.q.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE account_id = ? AND code_hash = ?`, accountID, hash))
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, accountID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE account_id = ?`, accountID).Scan(&n)
	return n, err
}

func (r *backupCodesRepo) DeleteBackupCodes(ctx context.Context, accountID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM backup_codes WHERE account_id = ?`, accountID)
	return err
}
