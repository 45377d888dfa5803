// Package twofactor manages TOTP enrollment and single-use backup codes.
package twofactor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/harrylevesque/memberhub/internal/crypto"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

const (
	// BackupCodeCount is how many backup codes each generation yields.
	BackupCodeCount = 10
	// backupAlphabet leaves out 0, 1, I and O.
	backupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	backupLength   = 8
	period         = 30
)

// Store persists enrollments.
type Store interface {
	GetTwoFactor(ctx context.Context, memberID string) (*models.TwoFactor, error)
	SaveTwoFactor(ctx context.Context, tf *models.TwoFactor) error
	// EnableTwoFactor saves tf and replaces its backup codes atomically.
	EnableTwoFactor(ctx context.Context, tf *models.TwoFactor, codes []models.BackupCode) error
	ReplaceBackupCodes(ctx context.Context, memberID string, codes []models.BackupCode) error
	UseBackupCode(ctx context.Context, memberID, codeID string, at time.Time) (bool, error)
	DeleteTwoFactor(ctx context.Context, memberID string) error
}

// Method tells which factor satisfied a verification.
type Method string

const (
	MethodTOTP   Method = "totp"
	MethodBackup Method = "backup_code"
)

// Enrollment is shown once to the member during setup.
type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// Status summarizes a member's two-factor state.
type Status struct {
	Enabled              bool       `json:"enabled"`
	EnabledAt            *time.Time `json:"enabled_at,omitempty"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
}

type Service struct {
	store      Store
	sealer     *crypto.Sealer
	issuer     string
	now        func() time.Time
	backupCost int
}

type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBackupCodeCost sets the bcrypt cost for backup code hashes.
func WithBackupCodeCost(cost int) Option {
	return func(s *Service) { s.backupCost = cost }
}

func NewService(store Store, sealer *crypto.Sealer, issuer string, opts ...Option) *Service {
	s := &Service{
		store:      store,
		sealer:     sealer,
		issuer:     issuer,
		now:        time.Now,
		backupCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) load(ctx context.Context, memberID string) (*models.TwoFactor, error) {
	tf, err := s.store.GetTwoFactor(ctx, memberID)
	if utils.IsKind(err, utils.KindNotFound) {
		return nil, nil
	}
	return tf, err
}

// Setup creates a new secret for m. It replaces any enrollment that was
// never confirmed and refuses when two-factor is already on.
func (s *Service) Setup(ctx context.Context, m *models.Member) (*Enrollment, error) {
	tf, err := s.load(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if tf != nil && tf.Enabled {
		return nil, utils.Conflict("2fa_already_enabled", "two-factor authentication is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: m.Email,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal([]byte(key.Secret()), []byte(m.ID))
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveTwoFactor(ctx, &models.TwoFactor{
		MemberID:  m.ID,
		Secret:    sealed,
		CreatedAt: s.now(),
	}); err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBackupCodes(ctx, m.ID, nil); err != nil {
		return nil, err
	}
	utils.SecurityEvent("2fa_setup_started").Str("member_id", m.ID).Msg("two-factor setup started")
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Enable confirms setup with a TOTP code and returns the first set of
// backup codes in plaintext. They are never retrievable again.
func (s *Service) Enable(ctx context.Context, memberID, code string) ([]string, error) {
	tf, err := s.load(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if tf == nil {
		return nil, utils.Validation("2fa_not_setup", "two-factor setup has not been started")
	}
	if tf.Enabled {
		return nil, utils.Conflict("2fa_already_enabled", "two-factor authentication is already enabled")
	}
	ok, err := s.checkTOTP(tf, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, utils.Unauthorized("invalid_2fa_code", "invalid authentication code")
	}

	codes, hashed, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	now := s.now()
	tf.Enabled = true
	tf.EnabledAt = &now
	if err := s.store.EnableTwoFactor(ctx, tf, hashed); err != nil {
		return nil, err
	}
	utils.SecurityEvent("2fa_enabled").Str("member_id", memberID).Msg("two-factor enabled")
	return codes, nil
}

// Verify checks a second factor at login. A six-digit code is tried as
// TOTP; anything else as a backup code, which is consumed on success.
func (s *Service) Verify(ctx context.Context, memberID, code string) (Method, error) {
	tf, err := s.load(ctx, memberID)
	if err != nil {
		return "", err
	}
	if tf == nil || !tf.Enabled {
		return "", utils.Validation("2fa_not_enabled", "two-factor authentication is not enabled")
	}
	method, err := s.verify(ctx, tf, code)
	if err != nil {
		return "", err
	}
	ev := utils.SecurityEvent("2fa_verified").Str("member_id", memberID).Str("method", string(method))
	if method == MethodBackup {
		ev = ev.Int("backup_codes_remaining", tf.RemainingBackupCodes()-1)
	}
	ev.Msg("second factor accepted")
	return method, nil
}

func (s *Service) verify(ctx context.Context, tf *models.TwoFactor, code string) (Method, error) {
	code = strings.TrimSpace(code)
	if isTOTPCode(code) {
		ok, err := s.checkTOTP(tf, code)
		if err != nil {
			return "", err
		}
		if ok {
			return MethodTOTP, nil
		}
		return "", s.rejected(tf.MemberID)
	}

	normalized := normalizeBackupCode(code)
	if len(normalized) != backupLength {
		return "", s.rejected(tf.MemberID)
	}
	for _, bc := range tf.BackupCodes {
		if bc.UsedAt != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(bc.Hash), []byte(normalized)) != nil {
			continue
		}
		used, err := s.store.UseBackupCode(ctx, tf.MemberID, bc.ID, s.now())
		if err != nil {
			return "", err
		}
		if !used {
			// lost a race with a concurrent login using the same code
			break
		}
		return MethodBackup, nil
	}
	return "", s.rejected(tf.MemberID)
}

func (s *Service) rejected(memberID string) error {
	utils.SecurityEvent("2fa_failed").Str("member_id", memberID).Msg("second factor rejected")
	return utils.Unauthorized("invalid_2fa_code", "invalid authentication code")
}

// RegenerateBackupCodes replaces all backup codes. It demands a current
// TOTP code so a stolen backup code cannot mint new ones.
func (s *Service) RegenerateBackupCodes(ctx context.Context, memberID, code string) ([]string, error) {
	tf, err := s.load(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if tf == nil || !tf.Enabled {
		return nil, utils.Validation("2fa_not_enabled", "two-factor authentication is not enabled")
	}
	if !isTOTPCode(strings.TrimSpace(code)) {
		return nil, utils.Validation("totp_required", "an authenticator app code is required")
	}
	ok, err := s.checkTOTP(tf, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.rejected(memberID)
	}
	codes, hashed, err := s.newBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBackupCodes(ctx, memberID, hashed); err != nil {
		return nil, err
	}
	utils.SecurityEvent("2fa_backup_codes_regenerated").Str("member_id", memberID).Msg("backup codes regenerated")
	return codes, nil
}

// Disable turns two-factor off after checking a TOTP or backup code.
func (s *Service) Disable(ctx context.Context, memberID, code string) error {
	tf, err := s.load(ctx, memberID)
	if err != nil {
		return err
	}
	if tf == nil || !tf.Enabled {
		return utils.Validation("2fa_not_enabled", "two-factor authentication is not enabled")
	}
	if _, err := s.verify(ctx, tf, code); err != nil {
		return err
	}
	if err := s.store.DeleteTwoFactor(ctx, memberID); err != nil {
		return err
	}
	utils.SecurityEvent("2fa_disabled").Str("member_id", memberID).Msg("two-factor disabled")
	return nil
}

// Status reports whether memberID has two-factor on.
func (s *Service) Status(ctx context.Context, memberID string) (*Status, error) {
	tf, err := s.load(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if tf == nil || !tf.Enabled {
		return &Status{}, nil
	}
	return &Status{
		Enabled:              true,
		EnabledAt:            tf.EnabledAt,
		BackupCodesRemaining: tf.RemainingBackupCodes(),
	}, nil
}

// Enabled is the check the login flow uses to decide on a second step.
func (s *Service) Enabled(ctx context.Context, memberID string) (bool, error) {
	st, err := s.Status(ctx, memberID)
	if err != nil {
		return false, err
	}
	return st.Enabled, nil
}

func (s *Service) checkTOTP(tf *models.TwoFactor, code string) (bool, error) {
	secret, err := s.sealer.Open(tf.Secret, []byte(tf.MemberID))
	if err != nil {
		return false, utils.Wrap(utils.KindInternal, err, "2fa_secret_unreadable", "two-factor secret cannot be read")
	}
	return totp.ValidateCustom(code, string(secret), s.now(), totp.ValidateOpts{
		Period:    period,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func (s *Service) newBackupCodes() ([]string, []models.BackupCode, error) {
	plain := make([]string, 0, BackupCodeCount)
	hashed := make([]models.BackupCode, 0, BackupCodeCount)
	for i := 0; i < BackupCodeCount; i++ {
		raw, err := crypto.RandomBytes(backupLength)
		if err != nil {
			return nil, nil, err
		}
		b := make([]byte, backupLength)
		for j, r := range raw {
			b[j] = backupAlphabet[int(r)%len(backupAlphabet)]
		}
		hash, err := bcrypt.GenerateFromPassword(b, s.backupCost)
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, string(b[:4])+"-"+string(b[4:]))
		hashed = append(hashed, models.BackupCode{ID: uuid.NewString(), Hash: string(hash)})
	}
	return plain, hashed, nil
}

func isTOTPCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// normalizeBackupCode accepts "abcd-efgh", "ABCD EFGH" and "abcdefgh".
func normalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == ' ':
			return -1
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		}
		return r
	}, code)
}
