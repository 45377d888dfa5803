package members

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/testutil"
	"github.com/harrylevesque/memberhub/internal/utils"
)

var t0 = time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *testutil.MemStore) {
	t.Helper()
	store := testutil.NewMemStore()
	svc := NewService(store, store)
	svc.SetClock(testutil.NewClock(t0).Now)
	return svc, store
}

func seed(t *testing.T, store *testutil.MemStore, id string, role models.Role) *models.Member {
	t.Helper()
	m := &models.Member{ID: id, Email: id + "@example.org", Status: models.StatusActive, Role: role, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, store.CreateMember(context.Background(), m))
	return m
}

func TestRegister(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	m, err := svc.Register(ctx, RegisterInput{Email: "  Ana@Example.org", Password: "long enough pw", FirstName: " Ana "})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.org", m.Email)
	assert.Equal(t, "Ana", m.FirstName)
	assert.Equal(t, models.StatusPending, m.Status)
	assert.Equal(t, models.RoleMember, m.Role)
	assert.True(t, auth.CheckPasswordHash("long enough pw", m.PasswordHash))

	_, err = svc.Register(ctx, RegisterInput{Email: "ANA@example.org", Password: "another long pw"})
	assert.Equal(t, "email_taken", utils.CodeOf(err))

	_, err = svc.Register(ctx, RegisterInput{Email: "bad", Password: "long enough pw"})
	assert.Equal(t, "invalid_email", utils.CodeOf(err))

	_, err = svc.Register(ctx, RegisterInput{Email: "ben@example.org", Password: "short"})
	assert.Equal(t, "weak_password", utils.CodeOf(err))

	_, err = svc.Register(ctx, RegisterInput{Email: "cy@example.org", Password: "long enough pw", FirstName: strings.Repeat("x", 101)})
	assert.Equal(t, "field_too_long", utils.CodeOf(err))
}

func TestRegisterRejectsImportedEmail(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.ImportCSV(ctx, strings.NewReader("email,first_name\nboss@example.org,Bo\n"))
	require.NoError(t, err)
	_, err = svc.SetRoleByEmail(ctx, "boss@example.org", models.RoleAdmin)
	require.NoError(t, err)

	m, err := svc.Register(ctx, RegisterInput{Email: "Boss@Example.org", Password: "attacker-pass-123"})
	require.Error(t, err)
	assert.Nil(t, m)
	assert.Equal(t, "email_taken", utils.CodeOf(err))
	assert.True(t, utils.IsKind(err, utils.KindConflict))

	stored, err := store.GetMemberByEmail(ctx, "boss@example.org")
	require.NoError(t, err)
	assert.Empty(t, stored.PasswordHash)
	assert.Equal(t, models.RoleAdmin, stored.Role)
}

func TestUpdateProfile(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	m := seed(t, store, "ana", models.RoleMember)

	branch, phone := " North ", "555-0100"
	got, err := svc.UpdateProfile(ctx, m.ID, ProfileUpdate{Branch: &branch, Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "North", got.Branch)
	assert.Equal(t, "555-0100", got.Phone)
	assert.Equal(t, m.Email, got.Email)

	long := strings.Repeat("y", 101)
	_, err = svc.UpdateProfile(ctx, m.ID, ProfileUpdate{Chapter: &long})
	assert.Equal(t, "field_too_long", utils.CodeOf(err))

	_, err = svc.UpdateProfile(ctx, "missing", ProfileUpdate{})
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestSetRoleLastAdmin(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	root := seed(t, store, "root", models.RoleAdmin)
	ana := seed(t, store, "ana", models.RoleMember)

	_, err := svc.SetRole(ctx, root.ID, root.ID, models.RoleMember)
	assert.Equal(t, "last_admin", utils.CodeOf(err))

	_, err = svc.SetStatus(ctx, root.ID, root.ID, models.StatusSuspended)
	assert.Equal(t, "last_admin", utils.CodeOf(err))

	got, err := svc.SetRole(ctx, root.ID, ana.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)

	got, err = svc.SetRole(ctx, ana.ID, root.ID, models.RoleModerator)
	require.NoError(t, err)
	assert.Equal(t, models.RoleModerator, got.Role)

	_, err = svc.SetRole(ctx, root.ID, ana.ID, "owner")
	assert.Equal(t, "invalid_role", utils.CodeOf(err))
}

func TestSetStatus(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	ana := seed(t, store, "ana", models.RoleMember)

	got, err := svc.SetStatus(ctx, "root", ana.ID, models.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuspended, got.Status)

	_, err = svc.SetStatus(ctx, "root", ana.ID, "banned")
	assert.Equal(t, "invalid_status", utils.CodeOf(err))
}

func TestSetRoleByEmail(t *testing.T) {
	svc, store := newService(t)
	seed(t, store, "ana", models.RoleMember)

	got, err := svc.SetRoleByEmail(context.Background(), "ANA@example.org", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)
}

func TestList(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	seed(t, store, "ana", models.RoleAdmin)
	seed(t, store, "ben", models.RoleMember)
	seed(t, store, "cy", models.RoleMember)

	list, total, err := svc.List(ctx, models.MemberFilter{Role: models.RoleMember, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 1)

	_, _, err = svc.List(ctx, models.MemberFilter{Status: "gone"})
	assert.Equal(t, "invalid_status", utils.CodeOf(err))
}

func TestDashboard(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	ana := seed(t, store, "ana", models.RoleMember)

	require.NoError(t, store.CreateChallenge(ctx, &models.Challenge{ID: "c1", Title: "Open", StartsAt: t0, EndsAt: t0.Add(time.Hour), Status: models.ChallengeActive}))
	require.NoError(t, store.CreateChallenge(ctx, &models.Challenge{ID: "c2", Title: "Done", StartsAt: t0, EndsAt: t0.Add(time.Hour), Status: models.ChallengeActive, RewardPoints: 7}))
	require.NoError(t, store.JoinChallenge(ctx, &models.Participation{ChallengeID: "c1", MemberID: ana.ID, JoinedAt: t0}, 0))
	require.NoError(t, store.JoinChallenge(ctx, &models.Participation{ChallengeID: "c2", MemberID: ana.ID, JoinedAt: t0}, 0))
	require.NoError(t, store.CompleteChallenge(ctx, models.ChallengeCompletion{ChallengeID: "c2", MemberID: ana.ID, At: t0, Points: 7}))

	for i := 0; i < 5; i++ {
		pub := t0.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.CreateNews(ctx, &models.NewsPost{
			ID: string(rune('a' + i)), Slug: string(rune('a' + i)), Title: "n", Body: "b", PublishedAt: &pub, CreatedAt: t0,
		}))
	}
	require.NoError(t, store.CreateNews(ctx, &models.NewsPost{ID: "draft", Slug: "draft", Title: "d", Body: "b", CreatedAt: t0}))

	d, err := svc.Dashboard(ctx, ana.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, d.Points)
	require.Len(t, d.ActiveChallenges, 1)
	assert.Equal(t, "Open", d.ActiveChallenges[0].ChallengeTitle)
	assert.Empty(t, d.RecentOrders)
	assert.NotNil(t, d.RecentOrders)
	require.Len(t, d.News, 3)
	assert.Equal(t, "e", d.News[0].ID)
}

type countingLeaderboard struct{ n int }

func (c *countingLeaderboard) InvalidateLeaderboard(context.Context) { c.n++ }

func TestLeaderboardInvalidation(t *testing.T) {
	svc, store := newService(t)
	board := &countingLeaderboard{}
	svc.SetLeaderboard(board)
	ctx := context.Background()
	m := seed(t, store, "ana", models.RoleMember)

	_, err := svc.SetStatus(ctx, "admin", m.ID, models.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, 1, board.n)

	_, err = svc.SetStatus(ctx, "admin", m.ID, models.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, 1, board.n, "unchanged status keeps the cache")

	phone := "555-0100"
	_, err = svc.UpdateProfile(ctx, m.ID, ProfileUpdate{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, 1, board.n)

	first := "Anita"
	_, err = svc.UpdateProfile(ctx, m.ID, ProfileUpdate{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, 2, board.n)

	_, err = svc.ImportCSV(ctx, strings.NewReader("email,status\nana@example.org,active\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, board.n)
}
