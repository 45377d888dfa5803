package models

import "time"

// TwoFactor holds a member's TOTP enrollment. Secret is AES-GCM sealed with
// a subkey of the master key and never leaves the server in plaintext after
// setup.
type TwoFactor struct {
	MemberID    string
	Secret      []byte
	Enabled     bool
	CreatedAt   time.Time
	EnabledAt   *time.Time
	BackupCodes []BackupCode
}

type BackupCode struct {
	ID     string
	Hash   string
	UsedAt *time.Time
}

// RemainingBackupCodes counts codes that have not been consumed.
func (t *TwoFactor) RemainingBackupCodes() int {
	n := 0
	for _, c := range t.BackupCodes {
		if c.UsedAt == nil {
			n++
		}
	}
	return n
}
