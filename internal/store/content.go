package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/harrylevesque/memberhub/internal/models"
)

const newsColumns = `id, slug, title, summary, body, author_id, published_at, created_at, updated_at`

func scanNews(row pgx.Row) (*models.NewsPost, error) {
	var (
		p        models.NewsPost
		authorID *string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.Title, &p.Summary, &p.Body, &authorID, &p.PublishedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.AuthorID = deref(authorID)
	return &p, nil
}

func (s *Store) CreateNews(ctx context.Context, p *models.NewsPost) error {
	_, err := s.db.Exec(ctx, `INSERT INTO news_posts (`+newsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Slug, p.Title, p.Summary, p.Body, nullString(p.AuthorID), p.PublishedAt, p.CreatedAt, p.UpdatedAt)
	return mapErr(err, "news_post")
}

func (s *Store) UpdateNews(ctx context.Context, p *models.NewsPost) error {
	tag, err := s.db.Exec(ctx, `UPDATE news_posts SET slug = $2, title = $3, summary = $4, body = $5,
		published_at = $6, updated_at = $7 WHERE id = $1`,
		p.ID, p.Slug, p.Title, p.Summary, p.Body, p.PublishedAt, p.UpdatedAt)
	if err != nil {
		return mapErr(err, "news_post")
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "news_post")
	}
	return nil
}

func (s *Store) DeleteNews(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM news_posts WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "news_post")
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "news_post")
	}
	return nil
}

func (s *Store) GetNews(ctx context.Context, id string) (*models.NewsPost, error) {
	p, err := scanNews(s.db.QueryRow(ctx, `SELECT `+newsColumns+` FROM news_posts WHERE id = $1`, id))
	return p, mapErr(err, "news_post")
}

func (s *Store) GetNewsBySlug(ctx context.Context, slug string) (*models.NewsPost, error) {
	p, err := scanNews(s.db.QueryRow(ctx, `SELECT `+newsColumns+` FROM news_posts WHERE slug = $1`, slug))
	return p, mapErr(err, "news_post")
}

// ListNews returns newest first. Drafts sort ahead of published posts by
// creation time when PublishedOnly is false.
func (s *Store) ListNews(ctx context.Context, f models.NewsFilter) ([]models.NewsPost, error) {
	query := `SELECT ` + newsColumns + ` FROM news_posts`
	if f.PublishedOnly {
		query += ` WHERE published_at IS NOT NULL`
	}
	query += ` ORDER BY published_at DESC NULLS FIRST, created_at DESC, id LIMIT $1 OFFSET $2`
	rows, err := s.db.Query(ctx, query, limitOr(f.Limit, 20, 50), max(f.Offset, 0))
	if err != nil {
		return nil, mapErr(err, "news_post")
	}
	defer rows.Close()
	var out []models.NewsPost
	for rows.Next() {
		p, err := scanNews(rows)
		if err != nil {
			return nil, mapErr(err, "news_post")
		}
		out = append(out, *p)
	}
	return out, mapErr(rows.Err(), "news_post")
}

// SlugTaken reports whether slug belongs to a post other than excludeID.
func (s *Store) SlugTaken(ctx context.Context, slug, excludeID string) (bool, error) {
	var taken bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM news_posts WHERE slug = $1 AND id <> $2)`, slug, excludeID).Scan(&taken)
	return taken, mapErr(err, "news_post")
}

func (s *Store) ListSettings(ctx context.Context, publicOnly bool) ([]models.Setting, error) {
	query := `SELECT key, value, public, updated_at FROM settings`
	if publicOnly {
		query += ` WHERE public`
	}
	rows, err := s.db.Query(ctx, query+` ORDER BY key`)
	if err != nil {
		return nil, mapErr(err, "setting")
	}
	defer rows.Close()
	var out []models.Setting
	for rows.Next() {
		var st models.Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Public, &st.UpdatedAt); err != nil {
			return nil, mapErr(err, "setting")
		}
		out = append(out, st)
	}
	return out, mapErr(rows.Err(), "setting")
}

func (s *Store) PutSetting(ctx context.Context, st *models.Setting) error {
	_, err := s.db.Exec(ctx, `INSERT INTO settings (key, value, public, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, public = EXCLUDED.public, updated_at = EXCLUDED.updated_at`,
		st.Key, st.Value, st.Public, st.UpdatedAt)
	return mapErr(err, "setting")
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return mapErr(err, "setting")
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "setting")
	}
	return nil
}
