// Package challenges runs the challenge lifecycle, participation, badges
// and the points leaderboard.
package challenges

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harrylevesque/memberhub/internal/cache"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
	leaderboardKey          = "leaderboard"
)

type Store interface {
	CreateChallenge(ctx context.Context, c *models.Challenge) error
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
	UpdateChallenge(ctx context.Context, c *models.Challenge) error
	ListChallenges(ctx context.Context, f models.ChallengeFilter) ([]models.Challenge, error)
	SetChallengeStatus(ctx context.Context, id string, from, to models.ChallengeStatus, at time.Time) error

	GetParticipation(ctx context.Context, challengeID, memberID string) (*models.Participation, error)
	JoinChallenge(ctx context.Context, p *models.Participation, maxParticipants int) error
	LeaveChallenge(ctx context.Context, challengeID, memberID string) error
	CompleteChallenge(ctx context.Context, c models.ChallengeCompletion) error
	ListMemberParticipations(ctx context.Context, memberID string) ([]models.Participation, error)
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)

	CreateBadge(ctx context.Context, b *models.Badge) error
	GetBadge(ctx context.Context, id string) (*models.Badge, error)
	ListBadges(ctx context.Context) ([]models.Badge, error)
	ListMemberBadges(ctx context.Context, memberID string) ([]models.MemberBadge, error)
}

// transitions lists the allowed status moves.
var transitions = map[models.ChallengeStatus][]models.ChallengeStatus{
	models.ChallengeUpcoming: {models.ChallengeActive, models.ChallengeCancelled},
	models.ChallengeActive:   {models.ChallengeCompleted, models.ChallengeCancelled},
}

// CanTransition reports whether a challenge may move from one status to
// another.
func CanTransition(from, to models.ChallengeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Service struct {
	store    Store
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
}

func NewService(store Store, c cache.Cache, cacheTTL time.Duration) *Service {
	return &Service{store: store, cache: c, cacheTTL: cacheTTL, now: time.Now}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

type ChallengeInput struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	RewardPoints    int       `json:"reward_points"`
	BadgeID         string    `json:"badge_id"`
	MaxParticipants int       `json:"max_participants"`
}

// ChallengeUpdate holds optional edits; nil fields are left unchanged.
type ChallengeUpdate struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	StartsAt        *time.Time `json:"starts_at"`
	EndsAt          *time.Time `json:"ends_at"`
	RewardPoints    *int       `json:"reward_points"`
	BadgeID         *string    `json:"badge_id"`
	MaxParticipants *int       `json:"max_participants"`
}

func validate(c *models.Challenge) error {
	switch {
	case c.Title == "":
		return utils.Validation("title_required", "title is required")
	case len(c.Title) > 200:
		return utils.Validation("title_too_long", "title must be at most 200 characters")
	case c.StartsAt.IsZero() || c.EndsAt.IsZero():
		return utils.Validation("dates_required", "starts_at and ends_at are required")
	case !c.EndsAt.After(c.StartsAt):
		return utils.Validation("invalid_dates", "ends_at must be after starts_at")
	case c.RewardPoints < 0:
		return utils.Validation("invalid_reward", "reward_points must not be negative")
	case c.MaxParticipants < 0:
		return utils.Validation("invalid_capacity", "max_participants must not be negative")
	}
	return nil
}

func (s *Service) checkBadge(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.store.GetBadge(ctx, id); err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			return utils.Validation("unknown_badge", "badge does not exist")
		}
		return err
	}
	return nil
}

// Create stores a new challenge. It starts active when its start time has
// already passed.
func (s *Service) Create(ctx context.Context, in ChallengeInput) (*models.Challenge, error) {
	now := s.now()
	c := &models.Challenge{
		ID:              uuid.NewString(),
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		StartsAt:        in.StartsAt,
		EndsAt:          in.EndsAt,
		Status:          models.ChallengeUpcoming,
		RewardPoints:    in.RewardPoints,
		BadgeID:         in.BadgeID,
		MaxParticipants: in.MaxParticipants,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	if err := s.checkBadge(ctx, c.BadgeID); err != nil {
		return nil, err
	}
	if !c.StartsAt.After(now) {
		c.Status = models.ChallengeActive
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return nil, err
	}
	log.Info().Str("challenge_id", c.ID).Str("status", string(c.Status)).Msg("challenge created")
	return c, nil
}

// Update applies in to a challenge that is not finished. Dates may only
// move while the challenge is upcoming.
func (s *Service) Update(ctx context.Context, id string, in ChallengeUpdate) (*models.Challenge, error) {
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status.Finished() {
		return nil, utils.Conflict("challenge_closed", "finished challenges cannot be edited")
	}
	if (in.StartsAt != nil || in.EndsAt != nil) && c.Status != models.ChallengeUpcoming {
		return nil, utils.Conflict("dates_locked", "dates can only change before the challenge starts")
	}
	if in.Title != nil {
		c.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		c.Description = strings.TrimSpace(*in.Description)
	}
	if in.StartsAt != nil {
		c.StartsAt = *in.StartsAt
	}
	if in.EndsAt != nil {
		c.EndsAt = *in.EndsAt
	}
	if in.RewardPoints != nil {
		c.RewardPoints = *in.RewardPoints
	}
	if in.BadgeID != nil {
		c.BadgeID = *in.BadgeID
		if err := s.checkBadge(ctx, c.BadgeID); err != nil {
			return nil, err
		}
	}
	if in.MaxParticipants != nil {
		c.MaxParticipants = *in.MaxParticipants
		if c.MaxParticipants > 0 && c.MaxParticipants < c.Participants {
			return nil, utils.Conflict("capacity_below_participants", "max_participants is below the current participant count")
		}
	}
	if err := validate(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.now()
	if err := s.store.UpdateChallenge(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Challenge, error) {
	return s.store.GetChallenge(ctx, id)
}

func (s *Service) List(ctx context.Context, status models.ChallengeStatus, limit int) ([]models.Challenge, error) {
	if status != "" && !status.Valid() {
		return nil, utils.Validation("invalid_status", "unknown challenge status")
	}
	return s.store.ListChallenges(ctx, models.ChallengeFilter{Status: status, Limit: limit})
}

// Transition moves a challenge to status to.
func (s *Service) Transition(ctx context.Context, id string, to models.ChallengeStatus) (*models.Challenge, error) {
	if !to.Valid() {
		return nil, utils.Validation("invalid_status", "unknown challenge status")
	}
	c, err := s.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, to) {
		return nil, utils.Conflict("invalid_transition", "cannot move challenge from "+string(c.Status)+" to "+string(to))
	}
	now := s.now()
	if err := s.store.SetChallengeStatus(ctx, id, c.Status, to, now); err != nil {
		return nil, err
	}
	log.Info().Str("challenge_id", id).Str("from", string(c.Status)).Str("to", string(to)).Msg("challenge status changed")
	c.Status = to
	c.UpdatedAt = now
	s.InvalidateLeaderboard(ctx)
	return c, nil
}

// SyncStatuses starts upcoming challenges whose start has passed and
// completes active ones whose end has passed. It returns how many status
// changes were made.
func (s *Service) SyncStatuses(ctx context.Context) (int, error) {
	now := s.now()

	started, err := s.advanceDue(ctx, models.ChallengeFilter{Status: models.ChallengeUpcoming, StartedBy: now},
		models.ChallengeActive, now)
	if err != nil {
		return started, err
	}
	ended, err := s.advanceDue(ctx, models.ChallengeFilter{Status: models.ChallengeActive, EndedBy: now},
		models.ChallengeCompleted, now)
	changed := started + ended
	if err != nil {
		return changed, err
	}
	if changed > 0 {
		log.Info().Int("changed", changed).Msg("challenge statuses synced")
	}
	return changed, nil
}

// syncBatch is the page size used while draining due challenges.
const syncBatch = 200

// advanceDue moves every challenge matching f to the next status, one page
// at a time until the store has nothing left that is due.
func (s *Service) advanceDue(ctx context.Context, f models.ChallengeFilter, to models.ChallengeStatus, now time.Time) (int, error) {
	f.Limit = syncBatch
	changed := 0
	for {
		due, err := s.store.ListChallenges(ctx, f)
		if err != nil {
			return changed, err
		}
		progressed := false
		for _, c := range due {
			err := s.store.SetChallengeStatus(ctx, c.ID, f.Status, to, now)
			if utils.IsKind(err, utils.KindConflict) {
				// moved by someone else since the list
				progressed = true
				continue
			}
			if err != nil {
				return changed, err
			}
			changed++
			progressed = true
		}
		if len(due) < syncBatch || !progressed {
			return changed, nil
		}
	}
}

// Join enrolls m in a challenge that has not finished.
func (s *Service) Join(ctx context.Context, m *models.Member, challengeID string) (*models.Participation, error) {
	if m.Status != models.StatusActive {
		return nil, utils.Forbidden("membership_inactive", "only active members can join challenges")
	}
	c, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c.Status.Finished() {
		return nil, utils.Conflict("challenge_closed", "challenge is no longer open")
	}
	p := &models.Participation{
		ChallengeID:    c.ID,
		ChallengeTitle: c.Title,
		MemberID:       m.ID,
		Status:         models.ParticipationJoined,
		JoinedAt:       s.now(),
	}
	if err := s.store.JoinChallenge(ctx, p, c.MaxParticipants); err != nil {
		return nil, err
	}
	return p, nil
}

// Leave withdraws m from a challenge it has not completed.
func (s *Service) Leave(ctx context.Context, m *models.Member, challengeID string) error {
	c, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if c.Status.Finished() {
		return utils.Conflict("challenge_closed", "challenge is no longer open")
	}
	p, err := s.store.GetParticipation(ctx, challengeID, m.ID)
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			return utils.NotFound("not_joined", "not a participant of this challenge")
		}
		return err
	}
	if p.Status == models.ParticipationCompleted {
		return utils.Conflict("already_completed", "challenge already completed")
	}
	return s.store.LeaveChallenge(ctx, challengeID, m.ID)
}

// CompletionResult describes what a completion earned.
type CompletionResult struct {
	Participation *models.Participation `json:"participation"`
	PointsAwarded int                   `json:"points_awarded"`
	Badge         *models.Badge         `json:"badge,omitempty"`
}

// Complete records that m finished an active challenge, credits the reward
// and awards the badge.
func (s *Service) Complete(ctx context.Context, m *models.Member, challengeID string) (*CompletionResult, error) {
	c, err := s.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c.Status != models.ChallengeActive {
		return nil, utils.Conflict("challenge_not_active", "only active challenges can be completed")
	}
	p, err := s.store.GetParticipation(ctx, challengeID, m.ID)
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			return nil, utils.Conflict("not_joined", "join the challenge before completing it")
		}
		return nil, err
	}
	if p.Status == models.ParticipationCompleted {
		return nil, utils.Conflict("already_completed", "challenge already completed")
	}

	now := s.now()
	if err := s.store.CompleteChallenge(ctx, models.ChallengeCompletion{
		ChallengeID: c.ID,
		MemberID:    m.ID,
		At:          now,
		Points:      c.RewardPoints,
		BadgeID:     c.BadgeID,
	}); err != nil {
		return nil, err
	}
	s.InvalidateLeaderboard(ctx)

	p.Status = models.ParticipationCompleted
	p.CompletedAt = &now
	p.PointsAwarded = c.RewardPoints
	p.ChallengeTitle = c.Title
	res := &CompletionResult{Participation: p, PointsAwarded: c.RewardPoints}
	if c.BadgeID != "" {
		if b, err := s.store.GetBadge(ctx, c.BadgeID); err == nil {
			res.Badge = b
		}
	}
	log.Info().Str("challenge_id", c.ID).Str("member_id", m.ID).Int("points", c.RewardPoints).Msg("challenge completed")
	return res, nil
}

// Participations lists the challenges m has joined, newest first.
func (s *Service) Participations(ctx context.Context, memberID string) ([]models.Participation, error) {
	return s.store.ListMemberParticipations(ctx, memberID)
}

// Leaderboard returns the top limit members. The full top list is cached
// once and sliced per request.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}

	entries, ok := s.cachedLeaderboard(ctx)
	if !ok {
		var err error
		entries, err = s.store.Leaderboard(ctx, MaxLeaderboardLimit)
		if err != nil {
			return nil, err
		}
		s.storeLeaderboard(ctx, entries)
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Service) cachedLeaderboard(ctx context.Context) ([]models.LeaderboardEntry, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, leaderboardKey)
	if err != nil {
		log.Warn().Err(err).Msg("leaderboard cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var entries []models.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Warn().Err(err).Msg("leaderboard cache entry corrupt")
		return nil, false
	}
	return entries, true
}

func (s *Service) storeLeaderboard(ctx context.Context, entries []models.LeaderboardEntry) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, leaderboardKey, raw, s.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("leaderboard cache write failed")
	}
}

// InvalidateLeaderboard drops the cached ranking. Callers that change who
// is eligible or how members are named use it too.
func (s *Service) InvalidateLeaderboard(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, leaderboardKey); err != nil {
		log.Warn().Err(err).Msg("leaderboard cache invalidation failed")
	}
}

type BadgeInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

func (s *Service) CreateBadge(ctx context.Context, in BadgeInput) (*models.Badge, error) {
	b := &models.Badge{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Icon:        strings.TrimSpace(in.Icon),
		CreatedAt:   s.now(),
	}
	if b.Name == "" {
		return nil, utils.Validation("name_required", "badge name is required")
	}
	if err := s.store.CreateBadge(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) Badges(ctx context.Context) ([]models.Badge, error) {
	return s.store.ListBadges(ctx)
}

func (s *Service) MemberBadges(ctx context.Context, memberID string) ([]models.MemberBadge, error) {
	return s.store.ListMemberBadges(ctx, memberID)
}
