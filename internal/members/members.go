// Package members handles registration, profiles and admin management of
// the member roster.
package members

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

type Store interface {
	CreateMember(ctx context.Context, m *models.Member) error
	GetMember(ctx context.Context, id string) (*models.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (*models.Member, error)
	UpdateMember(ctx context.Context, m *models.Member) error
	ListMembers(ctx context.Context, f models.MemberFilter) ([]models.Member, int, error)
	CountMembersByRole(ctx context.Context, role models.Role) (int, error)
}

const maxFieldLength = 100

// Feed supplies the non-member data shown on the dashboard.
type Feed interface {
	ListMemberBadges(ctx context.Context, memberID string) ([]models.MemberBadge, error)
	ListMemberParticipations(ctx context.Context, memberID string) ([]models.Participation, error)
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	ListNews(ctx context.Context, f models.NewsFilter) ([]models.NewsPost, error)
}

// Leaderboard is the cached ranking that member changes can make stale.
type Leaderboard interface {
	InvalidateLeaderboard(ctx context.Context)
}

type Service struct {
	store       Store
	feed        Feed
	leaderboard Leaderboard
	now         func() time.Time
}

func NewService(store Store, feed Feed) *Service {
	return &Service{store: store, feed: feed, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetLeaderboard registers the ranking to invalidate when a member's
// status or name changes.
func (s *Service) SetLeaderboard(l Leaderboard) { s.leaderboard = l }

func (s *Service) invalidateLeaderboard(ctx context.Context) {
	if s.leaderboard != nil {
		s.leaderboard.InvalidateLeaderboard(ctx)
	}
}

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Register creates a pending member. Any existing row with the same email,
// imported or not, is a conflict.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Member, error) {
	email := utils.NormalizeEmail(in.Email)
	if !utils.ValidEmail(email) {
		return nil, utils.Validation("invalid_email", "a valid email address is required")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	first, last := strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if err := checkLength("first_name", first); err != nil {
		return nil, err
	}
	if err := checkLength("last_name", last); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	_, err = s.store.GetMemberByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, utils.Conflict("email_taken", "an account with this email already exists")
	case !utils.IsKind(err, utils.KindNotFound):
		return nil, err
	}

	m := &models.Member{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    first,
		LastName:     last,
		Status:       models.StatusPending,
		Role:         models.RoleMember,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateMember(ctx, m); err != nil {
		if utils.IsKind(err, utils.KindConflict) {
			return nil, utils.Conflict("email_taken", "an account with this email already exists")
		}
		return nil, err
	}
	utils.SecurityEvent("member_registered").Str("member_id", m.ID).Msg("member registered")
	return m, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Member, error) {
	return s.store.GetMember(ctx, id)
}

// ProfileUpdate holds the fields a member may edit; nil means unchanged.
type ProfileUpdate struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
	Branch    *string `json:"branch"`
	Chapter   *string `json:"chapter"`
}

func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (*models.Member, error) {
	m, err := s.store.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	fields := []struct {
		name string
		src  *string
		dst  *string
	}{
		{"first_name", in.FirstName, &m.FirstName},
		{"last_name", in.LastName, &m.LastName},
		{"phone", in.Phone, &m.Phone},
		{"branch", in.Branch, &m.Branch},
		{"chapter", in.Chapter, &m.Chapter},
	}
	for _, f := range fields {
		if f.src == nil {
			continue
		}
		v := strings.TrimSpace(*f.src)
		if err := checkLength(f.name, v); err != nil {
			return nil, err
		}
		*f.dst = v
	}
	m.UpdatedAt = s.now()
	if err := s.store.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	if in.FirstName != nil || in.LastName != nil {
		s.invalidateLeaderboard(ctx)
	}
	return m, nil
}

// List returns one page of members and the total match count.
func (s *Service) List(ctx context.Context, f models.MemberFilter) ([]models.Member, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, utils.Validation("invalid_status", "unknown member status")
	}
	if f.Role != "" && !f.Role.Valid() {
		return nil, 0, utils.Validation("invalid_role", "unknown role")
	}
	return s.store.ListMembers(ctx, f)
}

// SetRole changes a member's role. The last admin cannot be demoted.
func (s *Service) SetRole(ctx context.Context, actorID, id string, role models.Role) (*models.Member, error) {
	if !role.Valid() {
		return nil, utils.Validation("invalid_role", "unknown role")
	}
	m, err := s.store.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Role == role {
		return m, nil
	}
	if m.Role == models.RoleAdmin {
		if err := s.ensureOtherAdmin(ctx, m); err != nil {
			return nil, err
		}
	}
	from := m.Role
	m.Role = role
	m.UpdatedAt = s.now()
	if err := s.store.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	utils.SecurityEvent("role_changed").
		Str("actor_id", actorID).
		Str("member_id", m.ID).
		Str("from", string(from)).
		Str("to", string(role)).
		Msg("member role changed")
	return m, nil
}

// SetStatus changes a member's status. Suspending the last admin is
// refused for the same reason as demoting it.
func (s *Service) SetStatus(ctx context.Context, actorID, id string, status models.MemberStatus) (*models.Member, error) {
	if !status.Valid() {
		return nil, utils.Validation("invalid_status", "unknown member status")
	}
	m, err := s.store.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == status {
		return m, nil
	}
	if m.Role == models.RoleAdmin && status == models.StatusSuspended {
		if err := s.ensureOtherAdmin(ctx, m); err != nil {
			return nil, err
		}
	}
	from := m.Status
	m.Status = status
	m.UpdatedAt = s.now()
	if err := s.store.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	s.invalidateLeaderboard(ctx)
	utils.SecurityEvent("status_changed").
		Str("actor_id", actorID).
		Str("member_id", m.ID).
		Str("from", string(from)).
		Str("to", string(status)).
		Msg("member status changed")
	return m, nil
}

func (s *Service) ensureOtherAdmin(ctx context.Context, m *models.Member) error {
	n, err := s.store.CountMembersByRole(ctx, models.RoleAdmin)
	if err != nil {
		return err
	}
	if m.Status != models.StatusSuspended && n <= 1 {
		return utils.Conflict("last_admin", "cannot remove the last administrator")
	}
	return nil
}

// SetRoleByEmail is the command-line path for bootstrapping admins.
func (s *Service) SetRoleByEmail(ctx context.Context, email string, role models.Role) (*models.Member, error) {
	m, err := s.store.GetMemberByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return s.SetRole(ctx, "cli", m.ID, role)
}

func checkLength(field, v string) error {
	if len([]rune(v)) > maxFieldLength {
		return utils.Validation("field_too_long", field+" must be at most 100 characters")
	}
	return nil
}
