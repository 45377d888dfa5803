// Package settings stores site-wide key/value configuration edited from
// the admin back-office.
package settings

import (
	"context"
	"regexp"
	"time"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

const maxValueLength = 4096

var keyPattern = regexp.MustCompile(`^[a-z0-9_.]{1,64}$`)

type Store interface {
	ListSettings(ctx context.Context, publicOnly bool) ([]models.Setting, error)
	PutSetting(ctx context.Context, st *models.Setting) error
	DeleteSetting(ctx context.Context, key string) error
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

// ValidKey reports whether key is an acceptable setting name.
func ValidKey(key string) bool { return keyPattern.MatchString(key) }

func (s *Service) All(ctx context.Context) ([]models.Setting, error) {
	list, err := s.store.ListSettings(ctx, false)
	if list == nil && err == nil {
		list = []models.Setting{}
	}
	return list, err
}

// Public returns the public settings keyed by name.
func (s *Service) Public(ctx context.Context) (map[string]string, error) {
	list, err := s.store.ListSettings(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, st := range list {
		out[st.Key] = st.Value
	}
	return out, nil
}

type PutInput struct {
	Value  string `json:"value"`
	Public bool   `json:"public"`
}

// Put creates or replaces a setting.
func (s *Service) Put(ctx context.Context, key string, in PutInput) (*models.Setting, error) {
	if !ValidKey(key) {
		return nil, utils.Validation("invalid_key", "setting keys use a-z, 0-9, '_' and '.' (max 64)")
	}
	if len(in.Value) > maxValueLength {
		return nil, utils.Validation("value_too_long", "setting values are limited to 4096 bytes")
	}
	st := &models.Setting{Key: key, Value: in.Value, Public: in.Public, UpdatedAt: s.now()}
	if err := s.store.PutSetting(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return utils.Validation("invalid_key", "setting keys use a-z, 0-9, '_' and '.' (max 64)")
	}
	return s.store.DeleteSetting(ctx, key)
}
