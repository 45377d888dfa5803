package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

const challengeSelect = `SELECT c.id, c.title, c.description, c.starts_at, c.ends_at, c.status,
	c.reward_points, c.badge_id, c.max_participants, c.created_at, c.updated_at,
	(SELECT count(*) FROM participations p WHERE p.challenge_id = c.id)
	FROM challenges c`

func scanChallenge(row pgx.Row) (*models.Challenge, error) {
	var (
		c       models.Challenge
		status  string
		badgeID *string
	)
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.StartsAt, &c.EndsAt, &status,
		&c.RewardPoints, &badgeID, &c.MaxParticipants, &c.CreatedAt, &c.UpdatedAt, &c.Participants)
	if err != nil {
		return nil, err
	}
	c.Status = models.ChallengeStatus(status)
	c.BadgeID = deref(badgeID)
	return &c, nil
}

func (s *Store) CreateChallenge(ctx context.Context, c *models.Challenge) error {
	_, err := s.db.Exec(ctx, `INSERT INTO challenges
		(id, title, description, starts_at, ends_at, status, reward_points, badge_id, max_participants, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.Title, c.Description, c.StartsAt, c.EndsAt, string(c.Status), c.RewardPoints,
		nullString(c.BadgeID), c.MaxParticipants, c.CreatedAt, c.UpdatedAt)
	return mapErr(err, "challenge")
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	c, err := scanChallenge(s.db.QueryRow(ctx, challengeSelect+` WHERE c.id = $1`, id))
	return c, mapErr(err, "challenge")
}

func (s *Store) UpdateChallenge(ctx context.Context, c *models.Challenge) error {
	tag, err := s.db.Exec(ctx, `UPDATE challenges SET
		title = $2, description = $3, starts_at = $4, ends_at = $5, reward_points = $6,
		badge_id = $7, max_participants = $8, updated_at = $9
		WHERE id = $1`,
		c.ID, c.Title, c.Description, c.StartsAt, c.EndsAt, c.RewardPoints,
		nullString(c.BadgeID), c.MaxParticipants, c.UpdatedAt)
	if err != nil {
		return mapErr(err, "challenge")
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "challenge")
	}
	return nil
}

func (s *Store) ListChallenges(ctx context.Context, f models.ChallengeFilter) ([]models.Challenge, error) {
	var where []string
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		where = append(where, "c.status = "+arg(string(f.Status)))
	}
	if !f.StartedBy.IsZero() {
		where = append(where, "c.starts_at <= "+arg(f.StartedBy))
	}
	if !f.EndedBy.IsZero() {
		where = append(where, "c.ends_at <= "+arg(f.EndedBy))
	}
	query := challengeSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.starts_at, c.id LIMIT " + arg(limitOr(f.Limit, 50, 200))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "challenge")
	}
	defer rows.Close()
	var out []models.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, mapErr(err, "challenge")
		}
		out = append(out, *c)
	}
	return out, mapErr(rows.Err(), "challenge")
}

// SetChallengeStatus moves a challenge from one status to another. It fails
// with a conflict if the stored status is no longer from.
func (s *Store) SetChallengeStatus(ctx context.Context, id string, from, to models.ChallengeStatus, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE challenges SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`, id, string(from), string(to), at)
	if err != nil {
		return mapErr(err, "challenge")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetChallenge(ctx, id); err != nil {
		return err
	}
	return utils.Conflict("status_changed", "challenge status changed concurrently")
}

func (s *Store) GetParticipation(ctx context.Context, challengeID, memberID string) (*models.Participation, error) {
	p := models.Participation{ChallengeID: challengeID, MemberID: memberID}
	var status string
	err := s.db.QueryRow(ctx, `SELECT status, points_awarded, joined_at, completed_at FROM participations
		WHERE challenge_id = $1 AND member_id = $2`, challengeID, memberID).
		Scan(&status, &p.PointsAwarded, &p.JoinedAt, &p.CompletedAt)
	if err != nil {
		return nil, mapErr(err, "participation")
	}
	p.Status = models.ParticipationStatus(status)
	return &p, nil
}

// JoinChallenge inserts p while holding the challenge row lock, so the
// capacity check and the insert cannot interleave with another join.
// maxParticipants of zero means unlimited.
func (s *Store) JoinChallenge(ctx context.Context, p *models.Participation, maxParticipants int) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM challenges WHERE id = $1 FOR UPDATE`, p.ChallengeID).Scan(&status)
		if err != nil {
			return mapErr(err, "challenge")
		}
		if models.ChallengeStatus(status).Finished() {
			return utils.Conflict("challenge_closed", "challenge is no longer open")
		}
		if maxParticipants > 0 {
			var n int
			if err := tx.QueryRow(ctx, `SELECT count(*) FROM participations WHERE challenge_id = $1`, p.ChallengeID).Scan(&n); err != nil {
				return mapErr(err, "participation")
			}
			if n >= maxParticipants {
				return utils.Conflict("challenge_full", "challenge has no free places")
			}
		}
		_, err = tx.Exec(ctx, `INSERT INTO participations (challenge_id, member_id, status, joined_at)
			VALUES ($1, $2, $3, $4)`, p.ChallengeID, p.MemberID, string(models.ParticipationJoined), p.JoinedAt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return utils.Conflict("already_joined", "already joined this challenge")
		}
		return mapErr(err, "participation")
	})
}

// LeaveChallenge removes a participation that has not been completed.
func (s *Store) LeaveChallenge(ctx context.Context, challengeID, memberID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM participations
		WHERE challenge_id = $1 AND member_id = $2 AND status = 'joined'`, challengeID, memberID)
	if err != nil {
		return mapErr(err, "participation")
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "participation")
	}
	return nil
}

// CompleteChallenge records a completion, credits points and awards the
// badge in one transaction.
func (s *Store) CompleteChallenge(ctx context.Context, c models.ChallengeCompletion) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE participations SET status = 'completed', completed_at = $3, points_awarded = $4
			WHERE challenge_id = $1 AND member_id = $2 AND status = 'joined'`,
			c.ChallengeID, c.MemberID, c.At, c.Points)
		if err != nil {
			return mapErr(err, "participation")
		}
		if tag.RowsAffected() == 0 {
			return utils.Conflict("already_completed", "challenge already completed")
		}
		if _, err := tx.Exec(ctx, `UPDATE members SET points = points + $2, updated_at = $3 WHERE id = $1`,
			c.MemberID, c.Points, c.At); err != nil {
			return mapErr(err, "member")
		}
		if c.BadgeID == "" {
			return nil
		}
		_, err = tx.Exec(ctx, `INSERT INTO member_badges (member_id, badge_id, challenge_id, awarded_at)
			VALUES ($1, $2, $3, $4) ON CONFLICT (member_id, badge_id) DO NOTHING`,
			c.MemberID, c.BadgeID, c.ChallengeID, c.At)
		return mapErr(err, "badge")
	})
}

func (s *Store) ListMemberParticipations(ctx context.Context, memberID string) ([]models.Participation, error) {
	rows, err := s.db.Query(ctx, `SELECT p.challenge_id, c.title, p.status, p.points_awarded, p.joined_at, p.completed_at
		FROM participations p JOIN challenges c ON c.id = p.challenge_id
		WHERE p.member_id = $1 ORDER BY p.joined_at DESC`, memberID)
	if err != nil {
		return nil, mapErr(err, "participation")
	}
	defer rows.Close()
	var out []models.Participation
	for rows.Next() {
		p := models.Participation{MemberID: memberID}
		var status string
		if err := rows.Scan(&p.ChallengeID, &p.ChallengeTitle, &status, &p.PointsAwarded, &p.JoinedAt, &p.CompletedAt); err != nil {
			return nil, mapErr(err, "participation")
		}
		p.Status = models.ParticipationStatus(status)
		out = append(out, p)
	}
	return out, mapErr(rows.Err(), "participation")
}

// Leaderboard ranks members by points earned from completed challenges.
// Ties go to whoever reached the total first.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT m.id, m.first_name, m.last_name,
			SUM(p.points_awarded), count(*), MAX(p.completed_at)
		FROM participations p JOIN members m ON m.id = p.member_id
		WHERE p.status = 'completed' AND m.status <> 'suspended'
		GROUP BY m.id, m.first_name, m.last_name
		ORDER BY SUM(p.points_awarded) DESC, MAX(p.completed_at) ASC, m.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, mapErr(err, "leaderboard")
	}
	defer rows.Close()
	var out []models.LeaderboardEntry
	for rows.Next() {
		var (
			e           models.LeaderboardEntry
			first, last string
		)
		if err := rows.Scan(&e.MemberID, &first, &last, &e.Points, &e.Completed, &e.LastCompletedAt); err != nil {
			return nil, mapErr(err, "leaderboard")
		}
		e.Name = models.PublicName(first, last)
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, mapErr(rows.Err(), "leaderboard")
}

func (s *Store) CreateBadge(ctx context.Context, b *models.Badge) error {
	_, err := s.db.Exec(ctx, `INSERT INTO badges (id, name, description, icon, created_at)
		VALUES ($1, $2, $3, $4, $5)`, b.ID, b.Name, b.Description, b.Icon, b.CreatedAt)
	return mapErr(err, "badge")
}

func (s *Store) GetBadge(ctx context.Context, id string) (*models.Badge, error) {
	var b models.Badge
	err := s.db.QueryRow(ctx, `SELECT id, name, description, icon, created_at FROM badges WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Description, &b.Icon, &b.CreatedAt)
	if err != nil {
		return nil, mapErr(err, "badge")
	}
	return &b, nil
}

func (s *Store) ListBadges(ctx context.Context) ([]models.Badge, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, description, icon, created_at FROM badges ORDER BY name`)
	if err != nil {
		return nil, mapErr(err, "badge")
	}
	defer rows.Close()
	var out []models.Badge
	for rows.Next() {
		var b models.Badge
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.Icon, &b.CreatedAt); err != nil {
			return nil, mapErr(err, "badge")
		}
		out = append(out, b)
	}
	return out, mapErr(rows.Err(), "badge")
}

func (s *Store) ListMemberBadges(ctx context.Context, memberID string) ([]models.MemberBadge, error) {
	rows, err := s.db.Query(ctx, `SELECT b.id, b.name, b.description, b.icon, b.created_at, mb.challenge_id, mb.awarded_at
		FROM member_badges mb JOIN badges b ON b.id = mb.badge_id
		WHERE mb.member_id = $1 ORDER BY mb.awarded_at DESC`, memberID)
	if err != nil {
		return nil, mapErr(err, "badge")
	}
	defer rows.Close()
	var out []models.MemberBadge
	for rows.Next() {
		var (
			mb          models.MemberBadge
			challengeID *string
		)
		if err := rows.Scan(&mb.ID, &mb.Name, &mb.Description, &mb.Icon, &mb.CreatedAt, &challengeID, &mb.AwardedAt); err != nil {
			return nil, mapErr(err, "badge")
		}
		mb.ChallengeID = deref(challengeID)
		out = append(out, mb)
	}
	return out, mapErr(rows.Err(), "badge")
}
