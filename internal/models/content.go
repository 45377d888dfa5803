package models

import "time"

type NewsPost struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Body        string     `json:"body"`
	AuthorID    string     `json:"author_id,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (p *NewsPost) Published() bool { return p.PublishedAt != nil }

type NewsFilter struct {
	PublishedOnly bool
	Limit         int
	Offset        int
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Public    bool      `json:"public"`
	UpdatedAt time.Time `json:"updated_at"`
}
