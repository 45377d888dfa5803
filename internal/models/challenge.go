package models

import "time"

type ChallengeStatus string

const (
	ChallengeUpcoming  ChallengeStatus = "upcoming"
	ChallengeActive    ChallengeStatus = "active"
	ChallengeCompleted ChallengeStatus = "completed"
	ChallengeCancelled ChallengeStatus = "cancelled"
)

func (s ChallengeStatus) Valid() bool {
	switch s {
	case ChallengeUpcoming, ChallengeActive, ChallengeCompleted, ChallengeCancelled:
		return true
	}
	return false
}

// Finished reports whether no further participation changes are possible.
func (s ChallengeStatus) Finished() bool {
	return s == ChallengeCompleted || s == ChallengeCancelled
}

type Challenge struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	StartsAt        time.Time       `json:"starts_at"`
	EndsAt          time.Time       `json:"ends_at"`
	Status          ChallengeStatus `json:"status"`
	RewardPoints    int             `json:"reward_points"`
	BadgeID         string          `json:"badge_id,omitempty"`
	MaxParticipants int             `json:"max_participants"`
	Participants    int             `json:"participants"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type ChallengeFilter struct {
	Status ChallengeStatus
	// StartedBy and EndedBy, when set, keep only challenges whose start or
	// end is at or before the given time.
	StartedBy time.Time
	EndedBy   time.Time
	Limit     int
}

type ParticipationStatus string

const (
	ParticipationJoined    ParticipationStatus = "joined"
	ParticipationCompleted ParticipationStatus = "completed"
)

type Participation struct {
	ChallengeID    string              `json:"challenge_id"`
	ChallengeTitle string              `json:"challenge_title,omitempty"`
	MemberID       string              `json:"member_id"`
	Status         ParticipationStatus `json:"status"`
	PointsAwarded  int                 `json:"points_awarded"`
	JoinedAt       time.Time           `json:"joined_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

// ChallengeCompletion is the unit of work recorded when a member finishes
// a challenge: the participation flips to completed, Points are credited
// and BadgeID (if set) is awarded.
type ChallengeCompletion struct {
	ChallengeID string
	MemberID    string
	At          time.Time
	Points      int
	BadgeID     string
}

type Badge struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type MemberBadge struct {
	Badge
	ChallengeID string    `json:"challenge_id,omitempty"`
	AwardedAt   time.Time `json:"awarded_at"`
}

// PublicName renders a member for public listings without exposing the
// full surname or email.
func PublicName(first, last string) string {
	switch {
	case first != "" && last != "":
		return first + " " + string([]rune(last)[:1]) + "."
	case first != "":
		return first
	case last != "":
		return string([]rune(last)[:1]) + "."
	}
	return "Member"
}

type LeaderboardEntry struct {
	Rank            int       `json:"rank"`
	MemberID        string    `json:"member_id"`
	Name            string    `json:"name"`
	Points          int       `json:"points"`
	Completed       int       `json:"completed"`
	LastCompletedAt time.Time `json:"last_completed_at"`
}
