package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/harrylevesque/memberhub/internal/models"
)

func (s *Store) GetTwoFactor(ctx context.Context, memberID string) (*models.TwoFactor, error) {
	tf := models.TwoFactor{MemberID: memberID}
	err := s.db.QueryRow(ctx, `SELECT secret, enabled, created_at, enabled_at
		FROM two_factor WHERE member_id = $1`, memberID).
		Scan(&tf.Secret, &tf.Enabled, &tf.CreatedAt, &tf.EnabledAt)
	if err != nil {
		return nil, mapErr(err, "two_factor")
	}

	rows, err := s.db.Query(ctx, `SELECT id, code_hash, used_at FROM two_factor_backup_codes
		WHERE member_id = $1 ORDER BY id`, memberID)
	if err != nil {
		return nil, mapErr(err, "two_factor")
	}
	defer rows.Close()
	for rows.Next() {
		var c models.BackupCode
		if err := rows.Scan(&c.ID, &c.Hash, &c.UsedAt); err != nil {
			return nil, mapErr(err, "two_factor")
		}
		tf.BackupCodes = append(tf.BackupCodes, c)
	}
	return &tf, mapErr(rows.Err(), "two_factor")
}

// SaveTwoFactor upserts the enrollment row. Backup codes are managed
// separately through ReplaceBackupCodes.
func (s *Store) SaveTwoFactor(ctx context.Context, tf *models.TwoFactor) error {
	_, err := s.db.Exec(ctx, `INSERT INTO two_factor (member_id, secret, enabled, created_at, enabled_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (member_id) DO UPDATE SET
			secret = EXCLUDED.secret, enabled = EXCLUDED.enabled,
			created_at = EXCLUDED.created_at, enabled_at = EXCLUDED.enabled_at`,
		tf.MemberID, tf.Secret, tf.Enabled, tf.CreatedAt, tf.EnabledAt)
	return mapErr(err, "two_factor")
}

// EnableTwoFactor writes the enabled row and its backup codes in one
// transaction.
func (s *Store) EnableTwoFactor(ctx context.Context, tf *models.TwoFactor, codes []models.BackupCode) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		txs := New(tx)
		if err := txs.SaveTwoFactor(ctx, tf); err != nil {
			return err
		}
		return txs.ReplaceBackupCodes(ctx, tf.MemberID, codes)
	})
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, memberID string, codes []models.BackupCode) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM two_factor_backup_codes WHERE member_id = $1`, memberID); err != nil {
			return mapErr(err, "backup_code")
		}
		batch := &pgx.Batch{}
		for _, c := range codes {
			batch.Queue(`INSERT INTO two_factor_backup_codes (id, member_id, code_hash) VALUES ($1, $2, $3)`,
				c.ID, memberID, c.Hash)
		}
		if batch.Len() == 0 {
			return nil
		}
		return mapErr(tx.SendBatch(ctx, batch).Close(), "backup_code")
	})
}

// UseBackupCode marks the code consumed. It reports false when the code was
// already used, so two concurrent logins cannot both spend it.
func (s *Store) UseBackupCode(ctx context.Context, memberID, codeID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE two_factor_backup_codes SET used_at = $3
		WHERE id = $1 AND member_id = $2 AND used_at IS NULL`, codeID, memberID, at)
	if err != nil {
		return false, mapErr(err, "backup_code")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteTwoFactor(ctx context.Context, memberID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM two_factor WHERE member_id = $1`, memberID)
	return mapErr(err, "two_factor")
}
