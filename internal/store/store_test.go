package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil, "member"))

	err := mapErr(pgx.ErrNoRows, "news_post")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
	assert.Equal(t, "news_post_not_found", utils.CodeOf(err))
	assert.Equal(t, "news post not found", utils.PublicMessage(err))

	err = mapErr(&pgconn.PgError{Code: "23505"}, "member")
	assert.True(t, utils.IsKind(err, utils.KindConflict))
	assert.Equal(t, "member_exists", utils.CodeOf(err))

	err = mapErr(&pgconn.PgError{Code: "23503"}, "challenge")
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	passthrough := utils.Conflict("challenge_full", "full")
	assert.Same(t, passthrough, mapErr(passthrough, "participation"))

	err = mapErr(errors.New("connection reset"), "order")
	assert.Equal(t, utils.KindInternal, utils.KindOf(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestLimitOr(t *testing.T) {
	assert.Equal(t, 50, limitOr(0, 50, 200))
	assert.Equal(t, 50, limitOr(-3, 50, 200))
	assert.Equal(t, 10, limitOr(10, 50, 200))
	assert.Equal(t, 200, limitOr(1000, 50, 200))
}

// openTestStore connects to MEMBERHUB_TEST_DATABASE_URL in a throwaway
// schema. Tests are skipped when it is not set.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("MEMBERHUB_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MEMBERHUB_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url, 4)
	require.NoError(t, err)

	schema := "test_" + uuid.NewString()[:8]
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, schema))
	require.NoError(t, err)
	s.Close()

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	s = &Store{db: pool, pool: pool}
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), fmt.Sprintf(`DROP SCHEMA %q CASCADE`, schema))
		s.Close()
	})
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrate must be idempotent")
	return s
}

func newMember(email string, role models.Role) *models.Member {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Member{
		ID: uuid.NewString(), Email: email, FirstName: "Test", LastName: "Member",
		Status: models.StatusActive, Role: role, CreatedAt: now, UpdatedAt: now,
	}
}

func TestStoreMembers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := newMember("a@example.org", models.RoleAdmin)
	require.NoError(t, s.CreateMember(ctx, m))
	err := s.CreateMember(ctx, newMember("a@example.org", models.RoleMember))
	assert.True(t, utils.IsKind(err, utils.KindConflict))

	got, err := s.GetMemberByEmail(ctx, "a@example.org")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, models.RoleAdmin, got.Role)

	n, err := s.CountMembersByRole(ctx, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got.Branch = "North"
	require.NoError(t, s.UpdateMember(ctx, got))
	list, total, err := s.ListMembers(ctx, models.MemberFilter{Query: "example"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "North", list[0].Branch)

	_, err = s.GetMember(ctx, "missing")
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestStoreChallengeLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	a, b := newMember("a@example.org", models.RoleMember), newMember("b@example.org", models.RoleMember)
	require.NoError(t, s.CreateMember(ctx, a))
	require.NoError(t, s.CreateMember(ctx, b))

	badge := &models.Badge{ID: uuid.NewString(), Name: "Finisher", CreatedAt: now}
	require.NoError(t, s.CreateBadge(ctx, badge))

	c := &models.Challenge{
		ID: uuid.NewString(), Title: "Run", StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour),
		Status: models.ChallengeActive, RewardPoints: 25, BadgeID: badge.ID, MaxParticipants: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateChallenge(ctx, c))

	require.NoError(t, s.JoinChallenge(ctx, &models.Participation{ChallengeID: c.ID, MemberID: a.ID, JoinedAt: now}, c.MaxParticipants))
	err := s.JoinChallenge(ctx, &models.Participation{ChallengeID: c.ID, MemberID: b.ID, JoinedAt: now}, c.MaxParticipants)
	assert.Equal(t, "challenge_full", utils.CodeOf(err))

	done := models.ChallengeCompletion{ChallengeID: c.ID, MemberID: a.ID, At: now, Points: 25, BadgeID: badge.ID}
	require.NoError(t, s.CompleteChallenge(ctx, done))
	assert.Equal(t, "already_completed", utils.CodeOf(s.CompleteChallenge(ctx, done)))

	member, err := s.GetMember(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, member.Points)

	badges, err := s.ListMemberBadges(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, badges, 1)
	assert.Equal(t, "Finisher", badges[0].Name)

	board, err := s.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "Test M.", board[0].Name)

	require.NoError(t, s.SetChallengeStatus(ctx, c.ID, models.ChallengeActive, models.ChallengeCompleted, now))
	err = s.SetChallengeStatus(ctx, c.ID, models.ChallengeActive, models.ChallengeCancelled, now)
	assert.True(t, utils.IsKind(err, utils.KindConflict))
}

func TestStoreOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	m := newMember("shop@example.org", models.RoleMember)
	require.NoError(t, s.CreateMember(ctx, m))
	p := &models.Product{ID: uuid.NewString(), Name: "Mug", PriceCents: 1200, Stock: 2, Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateProduct(ctx, p))

	o := &models.Order{ID: uuid.NewString(), MemberID: m.ID, Status: models.OrderPending,
		Items: []models.OrderItem{{ProductID: p.ID, Quantity: 2}}, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateOrder(ctx, o))
	assert.Equal(t, int64(2400), o.TotalCents)

	again := &models.Order{ID: uuid.NewString(), MemberID: m.ID, Status: models.OrderPending,
		Items: []models.OrderItem{{ProductID: p.ID, Quantity: 1}}, CreatedAt: now, UpdatedAt: now}
	assert.Equal(t, "insufficient_stock", utils.CodeOf(s.CreateOrder(ctx, again)))

	require.NoError(t, s.TransitionOrder(ctx, o.ID, models.OrderPending, models.OrderCancelled, true, now))
	prod, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, prod.Stock)

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.Status)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Mug", got.Items[0].Name)
}

func TestStoreEnableTwoFactorIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	m := newMember("a@example.org", models.RoleMember)
	require.NoError(t, s.CreateMember(ctx, m))
	tf := &models.TwoFactor{MemberID: m.ID, Secret: []byte("sealed"), CreatedAt: now}
	require.NoError(t, s.SaveTwoFactor(ctx, tf))

	tf.Enabled, tf.EnabledAt = true, &now
	dup := []models.BackupCode{{ID: "c1", Hash: "h1"}, {ID: "c1", Hash: "h2"}}
	require.Error(t, s.EnableTwoFactor(ctx, tf, dup))

	got, err := s.GetTwoFactor(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled, "failed code insert rolls back the enable")
	assert.Empty(t, got.BackupCodes)

	require.NoError(t, s.EnableTwoFactor(ctx, tf, []models.BackupCode{{ID: "c1", Hash: "h1"}, {ID: "c2", Hash: "h2"}}))
	got, err = s.GetTwoFactor(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Len(t, got.BackupCodes, 2)
}

func TestStoreListDueChallenges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	put := func(title string, starts, ends time.Time) {
		require.NoError(t, s.CreateChallenge(ctx, &models.Challenge{
			ID: uuid.NewString(), Title: title, Status: models.ChallengeActive,
			StartsAt: starts, EndsAt: ends, CreatedAt: now, UpdatedAt: now,
		}))
	}
	put("long", now.Add(-48*time.Hour), now.Add(30*24*time.Hour))
	put("ended", now.Add(-time.Hour), now.Add(-time.Minute))

	due, err := s.ListChallenges(ctx, models.ChallengeFilter{Status: models.ChallengeActive, EndedBy: now})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "ended", due[0].Title)

	started, err := s.ListChallenges(ctx, models.ChallengeFilter{StartedBy: now.Add(-2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, "long", started[0].Title)
}
