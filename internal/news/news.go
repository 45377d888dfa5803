// Package news manages announcement posts shown on the public site and
// the member dashboard.
package news

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

const (
	DefaultLimit   = 20
	MaxLimit       = 50
	maxTitleLength = 200
	maxSlugLength  = 80
)

type Store interface {
	CreateNews(ctx context.Context, p *models.NewsPost) error
	UpdateNews(ctx context.Context, p *models.NewsPost) error
	DeleteNews(ctx context.Context, id string) error
	GetNews(ctx context.Context, id string) (*models.NewsPost, error)
	GetNewsBySlug(ctx context.Context, slug string) (*models.NewsPost, error)
	ListNews(ctx context.Context, f models.NewsFilter) ([]models.NewsPost, error)
	SlugTaken(ctx context.Context, slug, excludeID string) (bool, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type PostInput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Body    string `json:"body"`
}

func (in *PostInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Summary = strings.TrimSpace(in.Summary)
	switch {
	case in.Title == "":
		return utils.Validation("title_required", "title is required")
	case len([]rune(in.Title)) > maxTitleLength:
		return utils.Validation("title_too_long", "title must be at most 200 characters")
	case strings.TrimSpace(in.Body) == "":
		return utils.Validation("body_required", "body is required")
	}
	return nil
}

// Slugify lowercases title and collapses every run of characters that are
// not ASCII letters or digits into a single dash.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "post"
	}
	return slug
}

// uniqueSlug returns base, or base-2, base-3 and so on until one is free.
func (s *Service) uniqueSlug(ctx context.Context, base, excludeID string) (string, error) {
	slug := base
	for n := 2; ; n++ {
		taken, err := s.store.SlugTaken(ctx, slug, excludeID)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
		slug = base + "-" + strconv.Itoa(n)
	}
}

// Create stores a draft post. Publishing is a separate step.
func (s *Service) Create(ctx context.Context, authorID string, in PostInput) (*models.NewsPost, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	slug, err := s.uniqueSlug(ctx, Slugify(in.Title), "")
	if err != nil {
		return nil, err
	}
	now := s.now()
	p := &models.NewsPost{
		ID:        uuid.NewString(),
		Slug:      slug,
		Title:     in.Title,
		Summary:   in.Summary,
		Body:      in.Body,
		AuthorID:  authorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateNews(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update edits a post. The slug is kept so published links stay valid.
func (s *Service) Update(ctx context.Context, id string, in PostInput) (*models.NewsPost, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p, err := s.store.GetNews(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Title = in.Title
	p.Summary = in.Summary
	p.Body = in.Body
	p.UpdatedAt = s.now()
	if err := s.store.UpdateNews(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteNews(ctx, id)
}

// Publish makes a post public. Publishing an already published post keeps
// its original date.
func (s *Service) Publish(ctx context.Context, id string) (*models.NewsPost, error) {
	p, err := s.store.GetNews(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Published() {
		return p, nil
	}
	now := s.now()
	p.PublishedAt = &now
	p.UpdatedAt = now
	if err := s.store.UpdateNews(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Unpublish(ctx context.Context, id string) (*models.NewsPost, error) {
	p, err := s.store.GetNews(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Published() {
		return p, nil
	}
	p.PublishedAt = nil
	p.UpdatedAt = s.now()
	if err := s.store.UpdateNews(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// BySlug returns a published post. Drafts are reported as not found.
func (s *Service) BySlug(ctx context.Context, slug string) (*models.NewsPost, error) {
	p, err := s.store.GetNewsBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !p.Published() {
		return nil, utils.NotFound("news_post_not_found", "news post not found")
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.NewsPost, error) {
	return s.store.GetNews(ctx, id)
}

// List pages through posts, newest first. Drafts are included only when
// publishedOnly is false.
func (s *Service) List(ctx context.Context, publishedOnly bool, limit, offset int) ([]models.NewsPost, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	list, err := s.store.ListNews(ctx, models.NewsFilter{PublishedOnly: publishedOnly, Limit: limit, Offset: offset})
	if list == nil && err == nil {
		list = []models.NewsPost{}
	}
	return list, err
}
