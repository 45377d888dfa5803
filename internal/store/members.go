package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/harrylevesque/memberhub/internal/models"
)

const memberColumns = `id, email, first_name, last_name, phone, branch, chapter,
	status, role, points, expires_at, password_hash, created_at, updated_at`

func scanMember(row pgx.Row) (*models.Member, error) {
	var (
		m            models.Member
		status, role string
	)
	err := row.Scan(&m.ID, &m.Email, &m.FirstName, &m.LastName, &m.Phone, &m.Branch, &m.Chapter,
		&status, &role, &m.Points, &m.ExpiresAt, &m.PasswordHash, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = models.MemberStatus(status)
	m.Role = models.Role(role)
	return &m, nil
}

func (s *Store) CreateMember(ctx context.Context, m *models.Member) error {
	_, err := s.db.Exec(ctx, `INSERT INTO members (`+memberColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, m.Email, m.FirstName, m.LastName, m.Phone, m.Branch, m.Chapter,
		string(m.Status), string(m.Role), m.Points, m.ExpiresAt, m.PasswordHash, m.CreatedAt, m.UpdatedAt)
	return mapErr(err, "member")
}

func (s *Store) GetMember(ctx context.Context, id string) (*models.Member, error) {
	m, err := scanMember(s.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
	return m, mapErr(err, "member")
}

func (s *Store) GetMemberByEmail(ctx context.Context, email string) (*models.Member, error) {
	m, err := scanMember(s.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE email = $1`, email))
	return m, mapErr(err, "member")
}

// UpdateMember writes every mutable column. Points are owned by challenge
// completion and are not touched here.
func (s *Store) UpdateMember(ctx context.Context, m *models.Member) error {
	tag, err := s.db.Exec(ctx, `UPDATE members SET
		email = $2, first_name = $3, last_name = $4, phone = $5, branch = $6, chapter = $7,
		status = $8, role = $9, expires_at = $10, password_hash = $11, updated_at = $12
		WHERE id = $1`,
		m.ID, m.Email, m.FirstName, m.LastName, m.Phone, m.Branch, m.Chapter,
		string(m.Status), string(m.Role), m.ExpiresAt, m.PasswordHash, m.UpdatedAt)
	if err != nil {
		return mapErr(err, "member")
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "member")
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, f models.MemberFilter) ([]models.Member, int, error) {
	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", n, n, n))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Role != "" {
		args = append(args, string(f.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM members`+clause, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err, "member")
	}

	args = append(args, limitOr(f.Limit, 50, 200), max(f.Offset, 0))
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT `+memberColumns+` FROM members%s
		ORDER BY last_name, first_name, email LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, mapErr(err, "member")
	}
	defer rows.Close()

	var out []models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, 0, mapErr(err, "member")
		}
		out = append(out, *m)
	}
	return out, total, mapErr(rows.Err(), "member")
}

func (s *Store) CountMembersByRole(ctx context.Context, role models.Role) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM members WHERE role = $1 AND status <> 'suspended'`, string(role)).Scan(&n)
	return n, mapErr(err, "member")
}
