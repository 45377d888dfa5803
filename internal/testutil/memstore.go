// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

// MemStore is an in-memory stand-in for store.Store. It applies the same
// constraints the SQL schema enforces (unique emails and slugs, stock never
// negative, single-use backup codes) and returns the same error codes.
type MemStore struct {
	mu sync.Mutex

	members        map[string]models.Member
	twoFactor      map[string]models.TwoFactor
	badges         map[string]models.Badge
	challenges     map[string]models.Challenge
	participations map[[2]string]models.Participation
	memberBadges   map[string][]models.MemberBadge
	products       map[string]models.Product
	orders         map[string]models.Order
	news           map[string]models.NewsPost
	settings       map[string]models.Setting
}

func NewMemStore() *MemStore {
	return &MemStore{
		members:        map[string]models.Member{},
		twoFactor:      map[string]models.TwoFactor{},
		badges:         map[string]models.Badge{},
		challenges:     map[string]models.Challenge{},
		participations: map[[2]string]models.Participation{},
		memberBadges:   map[string][]models.MemberBadge{},
		products:       map[string]models.Product{},
		orders:         map[string]models.Order{},
		news:           map[string]models.NewsPost{},
		settings:       map[string]models.Setting{},
	}
}

func notFound(what string) error {
	return utils.NotFound(what+"_not_found", strings.ReplaceAll(what, "_", " ")+" not found")
}

func exists(what string) error {
	return utils.Conflict(what+"_exists", strings.ReplaceAll(what, "_", " ")+" already exists")
}

func limitOr(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[max(offset, 0):]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Members

func (s *MemStore) CreateMember(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.ID]; ok {
		return exists("member")
	}
	for _, o := range s.members {
		if o.Email == m.Email {
			return exists("member")
		}
	}
	s.members[m.ID] = *m
	return nil
}

func (s *MemStore) GetMember(_ context.Context, id string) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return nil, notFound("member")
	}
	return &m, nil
}

func (s *MemStore) GetMemberByEmail(_ context.Context, email string) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.Email == email {
			return &m, nil
		}
	}
	return nil, notFound("member")
}

func (s *MemStore) UpdateMember(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.members[m.ID]
	if !ok {
		return notFound("member")
	}
	for id, o := range s.members {
		if id != m.ID && o.Email == m.Email {
			return exists("member")
		}
	}
	next := *m
	next.Points = cur.Points
	next.CreatedAt = cur.CreatedAt
	s.members[m.ID] = next
	return nil
}

func (s *MemStore) ListMembers(_ context.Context, f models.MemberFilter) ([]models.Member, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	var out []models.Member
	for _, m := range s.members {
		if q != "" && !strings.Contains(strings.ToLower(m.Email+" "+m.FirstName+" "+m.LastName), q) {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Role != "" && m.Role != f.Role {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.Email < b.Email
	})
	return page(out, limitOr(f.Limit, 50, 200), f.Offset), len(out), nil
}

func (s *MemStore) CountMembersByRole(_ context.Context, role models.Role) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.members {
		if m.Role == role && m.Status != models.StatusSuspended {
			n++
		}
	}
	return n, nil
}

// Two-factor

func (s *MemStore) GetTwoFactor(_ context.Context, memberID string) (*models.TwoFactor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.twoFactor[memberID]
	if !ok {
		return nil, notFound("two_factor")
	}
	tf.Secret = append([]byte(nil), tf.Secret...)
	tf.BackupCodes = append([]models.BackupCode(nil), tf.BackupCodes...)
	return &tf, nil
}

func (s *MemStore) SaveTwoFactor(_ context.Context, tf *models.TwoFactor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *tf
	next.Secret = append([]byte(nil), tf.Secret...)
	next.BackupCodes = s.twoFactor[tf.MemberID].BackupCodes
	s.twoFactor[tf.MemberID] = next
	return nil
}

func (s *MemStore) EnableTwoFactor(_ context.Context, tf *models.TwoFactor, codes []models.BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *tf
	next.Secret = append([]byte(nil), tf.Secret...)
	next.BackupCodes = append([]models.BackupCode(nil), codes...)
	s.twoFactor[tf.MemberID] = next
	return nil
}

func (s *MemStore) ReplaceBackupCodes(_ context.Context, memberID string, codes []models.BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.twoFactor[memberID]
	if !ok {
		return utils.Validation("invalid_reference", "referenced record does not exist")
	}
	tf.BackupCodes = append([]models.BackupCode(nil), codes...)
	s.twoFactor[memberID] = tf
	return nil
}

func (s *MemStore) UseBackupCode(_ context.Context, memberID, codeID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.twoFactor[memberID]
	if !ok {
		return false, nil
	}
	for i, c := range tf.BackupCodes {
		if c.ID == codeID && c.UsedAt == nil {
			tf.BackupCodes[i].UsedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) DeleteTwoFactor(_ context.Context, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.twoFactor, memberID)
	return nil
}

// Challenges and badges

func (s *MemStore) countParticipants(challengeID string) int {
	n := 0
	for k := range s.participations {
		if k[0] == challengeID {
			n++
		}
	}
	return n
}

func (s *MemStore) CreateChallenge(_ context.Context, c *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[c.ID]; ok {
		return exists("challenge")
	}
	if c.BadgeID != "" {
		if _, ok := s.badges[c.BadgeID]; !ok {
			return utils.Validation("invalid_reference", "referenced record does not exist")
		}
	}
	next := *c
	next.Participants = 0
	s.challenges[c.ID] = next
	return nil
}

func (s *MemStore) GetChallenge(_ context.Context, id string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, notFound("challenge")
	}
	c.Participants = s.countParticipants(id)
	return &c, nil
}

func (s *MemStore) UpdateChallenge(_ context.Context, c *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.challenges[c.ID]
	if !ok {
		return notFound("challenge")
	}
	if c.BadgeID != "" {
		if _, ok := s.badges[c.BadgeID]; !ok {
			return utils.Validation("invalid_reference", "referenced record does not exist")
		}
	}
	next := *c
	next.Status = cur.Status
	next.CreatedAt = cur.CreatedAt
	s.challenges[c.ID] = next
	return nil
}

func (s *MemStore) ListChallenges(_ context.Context, f models.ChallengeFilter) ([]models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Challenge
	for id, c := range s.challenges {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if !f.StartedBy.IsZero() && c.StartsAt.After(f.StartedBy) {
			continue
		}
		if !f.EndedBy.IsZero() && c.EndsAt.After(f.EndedBy) {
			continue
		}
		c.Participants = s.countParticipants(id)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limitOr(f.Limit, 50, 200), 0), nil
}

func (s *MemStore) SetChallengeStatus(_ context.Context, id string, from, to models.ChallengeStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return notFound("challenge")
	}
	if c.Status != from {
		return utils.Conflict("status_changed", "challenge status changed concurrently")
	}
	c.Status = to
	c.UpdatedAt = at
	s.challenges[id] = c
	return nil
}

func (s *MemStore) GetParticipation(_ context.Context, challengeID, memberID string) (*models.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participations[[2]string{challengeID, memberID}]
	if !ok {
		return nil, notFound("participation")
	}
	return &p, nil
}

func (s *MemStore) JoinChallenge(_ context.Context, p *models.Participation, maxParticipants int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[p.ChallengeID]
	if !ok {
		return notFound("challenge")
	}
	if c.Status.Finished() {
		return utils.Conflict("challenge_closed", "challenge is no longer open")
	}
	if maxParticipants > 0 && s.countParticipants(p.ChallengeID) >= maxParticipants {
		return utils.Conflict("challenge_full", "challenge has no free places")
	}
	key := [2]string{p.ChallengeID, p.MemberID}
	if _, ok := s.participations[key]; ok {
		return utils.Conflict("already_joined", "already joined this challenge")
	}
	next := *p
	next.Status = models.ParticipationJoined
	next.ChallengeTitle = ""
	s.participations[key] = next
	return nil
}

func (s *MemStore) LeaveChallenge(_ context.Context, challengeID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{challengeID, memberID}
	p, ok := s.participations[key]
	if !ok || p.Status != models.ParticipationJoined {
		return notFound("participation")
	}
	delete(s.participations, key)
	return nil
}

func (s *MemStore) CompleteChallenge(_ context.Context, c models.ChallengeCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{c.ChallengeID, c.MemberID}
	p, ok := s.participations[key]
	if !ok || p.Status != models.ParticipationJoined {
		return utils.Conflict("already_completed", "challenge already completed")
	}
	at := c.At
	p.Status = models.ParticipationCompleted
	p.CompletedAt = &at
	p.PointsAwarded = c.Points
	s.participations[key] = p

	m := s.members[c.MemberID]
	m.Points += c.Points
	m.UpdatedAt = c.At
	s.members[c.MemberID] = m

	if c.BadgeID == "" {
		return nil
	}
	for _, mb := range s.memberBadges[c.MemberID] {
		if mb.ID == c.BadgeID {
			return nil
		}
	}
	b, ok := s.badges[c.BadgeID]
	if !ok {
		return utils.Validation("invalid_reference", "referenced record does not exist")
	}
	s.memberBadges[c.MemberID] = append(s.memberBadges[c.MemberID],
		models.MemberBadge{Badge: b, ChallengeID: c.ChallengeID, AwardedAt: c.At})
	return nil
}

func (s *MemStore) ListMemberParticipations(_ context.Context, memberID string) ([]models.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Participation
	for k, p := range s.participations {
		if k[1] != memberID {
			continue
		}
		p.ChallengeTitle = s.challenges[k[0]].Title
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	return out, nil
}

func (s *MemStore) Leaderboard(_ context.Context, limit int) ([]models.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMember := map[string]*models.LeaderboardEntry{}
	for k, p := range s.participations {
		if p.Status != models.ParticipationCompleted {
			continue
		}
		m, ok := s.members[k[1]]
		if !ok || m.Status == models.StatusSuspended {
			continue
		}
		e, ok := byMember[m.ID]
		if !ok {
			e = &models.LeaderboardEntry{MemberID: m.ID, Name: models.PublicName(m.FirstName, m.LastName)}
			byMember[m.ID] = e
		}
		e.Points += p.PointsAwarded
		e.Completed++
		if p.CompletedAt.After(e.LastCompletedAt) {
			e.LastCompletedAt = *p.CompletedAt
		}
	}
	out := make([]models.LeaderboardEntry, 0, len(byMember))
	for _, e := range byMember {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if !a.LastCompletedAt.Equal(b.LastCompletedAt) {
			return a.LastCompletedAt.Before(b.LastCompletedAt)
		}
		return a.MemberID < b.MemberID
	})
	out = page(out, limit, 0)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (s *MemStore) CreateBadge(_ context.Context, b *models.Badge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.badges {
		if o.ID == b.ID || o.Name == b.Name {
			return exists("badge")
		}
	}
	s.badges[b.ID] = *b
	return nil
}

func (s *MemStore) GetBadge(_ context.Context, id string) (*models.Badge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.badges[id]
	if !ok {
		return nil, notFound("badge")
	}
	return &b, nil
}

func (s *MemStore) ListBadges(_ context.Context) ([]models.Badge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Badge
	for _, b := range s.badges {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) ListMemberBadges(_ context.Context, memberID string) ([]models.MemberBadge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.MemberBadge(nil), s.memberBadges[memberID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AwardedAt.After(out[j].AwardedAt) })
	return out, nil
}

// Marketplace

func (s *MemStore) CreateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return exists("product")
	}
	s.products[p.ID] = *p
	return nil
}

func (s *MemStore) UpdateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.products[p.ID]
	if !ok {
		return notFound("product")
	}
	next := *p
	next.CreatedAt = cur.CreatedAt
	s.products[p.ID] = next
	return nil
}

func (s *MemStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, notFound("product")
	}
	return &p, nil
}

func (s *MemStore) ListProducts(_ context.Context, activeOnly bool) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Product
	for _, p := range s.products {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) CreateOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[o.MemberID]; !ok {
		return utils.Validation("invalid_reference", "referenced record does not exist")
	}
	// validate everything before touching stock so a failure leaves no trace
	o.TotalCents = 0
	for i := range o.Items {
		it := &o.Items[i]
		p, ok := s.products[it.ProductID]
		if !ok {
			return notFound("product")
		}
		if !p.Active {
			return utils.Conflict("product_unavailable", fmt.Sprintf("%s is not available", p.Name))
		}
		if p.Stock < it.Quantity {
			return utils.Conflict("insufficient_stock", fmt.Sprintf("only %d of %s left", p.Stock, p.Name))
		}
		it.Name = p.Name
		it.PriceCents = p.PriceCents
		o.TotalCents += p.PriceCents * int64(it.Quantity)
	}
	for _, it := range o.Items {
		p := s.products[it.ProductID]
		p.Stock -= it.Quantity
		p.UpdatedAt = o.CreatedAt
		s.products[it.ProductID] = p
	}
	next := *o
	next.Items = append([]models.OrderItem(nil), o.Items...)
	s.orders[o.ID] = next
	return nil
}

func (s *MemStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, notFound("order")
	}
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return &o, nil
}

func (s *MemStore) ListOrders(_ context.Context, f models.OrderFilter) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if f.MemberID != "" && o.MemberID != f.MemberID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		o.Items = append([]models.OrderItem(nil), o.Items...)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limitOr(f.Limit, 50, 200), 0), nil
}

func (s *MemStore) TransitionOrder(_ context.Context, id string, from, to models.OrderStatus, restock bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return notFound("order")
	}
	if o.Status != from {
		return utils.Conflict("status_changed", "order status changed concurrently")
	}
	o.Status = to
	o.UpdatedAt = at
	s.orders[id] = o
	if restock {
		for _, it := range o.Items {
			p := s.products[it.ProductID]
			p.Stock += it.Quantity
			p.UpdatedAt = at
			s.products[it.ProductID] = p
		}
	}
	return nil
}

// News and settings

func (s *MemStore) CreateNews(_ context.Context, p *models.NewsPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.news {
		if o.ID == p.ID || o.Slug == p.Slug {
			return exists("news_post")
		}
	}
	s.news[p.ID] = *p
	return nil
}

func (s *MemStore) UpdateNews(_ context.Context, p *models.NewsPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.news[p.ID]
	if !ok {
		return notFound("news_post")
	}
	for id, o := range s.news {
		if id != p.ID && o.Slug == p.Slug {
			return exists("news_post")
		}
	}
	next := *p
	next.AuthorID = cur.AuthorID
	next.CreatedAt = cur.CreatedAt
	s.news[p.ID] = next
	return nil
}

func (s *MemStore) DeleteNews(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.news[id]; !ok {
		return notFound("news_post")
	}
	delete(s.news, id)
	return nil
}

func (s *MemStore) GetNews(_ context.Context, id string) (*models.NewsPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.news[id]
	if !ok {
		return nil, notFound("news_post")
	}
	return &p, nil
}

func (s *MemStore) GetNewsBySlug(_ context.Context, slug string) (*models.NewsPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.news {
		if p.Slug == slug {
			return &p, nil
		}
	}
	return nil, notFound("news_post")
}

func (s *MemStore) ListNews(_ context.Context, f models.NewsFilter) ([]models.NewsPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NewsPost
	for _, p := range s.news {
		if f.PublishedOnly && p.PublishedAt == nil {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.PublishedAt == nil && b.PublishedAt != nil:
			return true
		case a.PublishedAt != nil && b.PublishedAt == nil:
			return false
		case a.PublishedAt != nil && !a.PublishedAt.Equal(*b.PublishedAt):
			return a.PublishedAt.After(*b.PublishedAt)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return page(out, limitOr(f.Limit, 20, 50), f.Offset), nil
}

func (s *MemStore) SlugTaken(_ context.Context, slug, excludeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.news {
		if id != excludeID && p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemStore) ListSettings(_ context.Context, publicOnly bool) ([]models.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Setting
	for _, st := range s.settings {
		if publicOnly && !st.Public {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemStore) PutSetting(_ context.Context, st *models.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[st.Key] = *st
	return nil
}

func (s *MemStore) DeleteSetting(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settings[key]; !ok {
		return notFound("setting")
	}
	delete(s.settings, key)
	return nil
}
