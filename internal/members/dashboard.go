package members

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/harrylevesque/memberhub/internal/models"
)

const (
	dashboardOrders = 5
	dashboardNews   = 3
)

// Dashboard is the member home page payload.
type Dashboard struct {
	Member           *models.Member         `json:"member"`
	Points           int                    `json:"points"`
	Badges           []models.MemberBadge   `json:"badges"`
	ActiveChallenges []models.Participation `json:"active_challenges"`
	RecentOrders     []models.Order         `json:"recent_orders"`
	News             []models.NewsPost      `json:"news"`
}

// Dashboard gathers the member's profile, badges, open challenges, recent
// orders and the latest published news. The sections load concurrently.
func (s *Service) Dashboard(ctx context.Context, id string) (*Dashboard, error) {
	m, err := s.store.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Dashboard{
		Member:           m,
		Points:           m.Points,
		Badges:           []models.MemberBadge{},
		ActiveChallenges: []models.Participation{},
		RecentOrders:     []models.Order{},
		News:             []models.NewsPost{},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		badges, err := s.feed.ListMemberBadges(gctx, id)
		if err == nil && badges != nil {
			d.Badges = badges
		}
		return err
	})
	g.Go(func() error {
		parts, err := s.feed.ListMemberParticipations(gctx, id)
		if err != nil {
			return err
		}
		for _, p := range parts {
			if p.Status == models.ParticipationJoined {
				d.ActiveChallenges = append(d.ActiveChallenges, p)
			}
		}
		return nil
	})
	g.Go(func() error {
		orders, err := s.feed.ListOrders(gctx, models.OrderFilter{MemberID: id, Limit: dashboardOrders})
		if err == nil && orders != nil {
			d.RecentOrders = orders
		}
		return err
	})
	g.Go(func() error {
		news, err := s.feed.ListNews(gctx, models.NewsFilter{PublishedOnly: true, Limit: dashboardNews})
		if err == nil && news != nil {
			d.News = news
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}
