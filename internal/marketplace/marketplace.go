// Package marketplace sells organisation merchandise to active members.
package marketplace

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/utils"
)

const maxNameLength = 200

type Store interface {
	GetMember(ctx context.Context, id string) (*models.Member, error)

	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error)

	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error)
	TransitionOrder(ctx context.Context, id string, from, to models.OrderStatus, restock bool, at time.Time) error
}

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending: {models.OrderPaid, models.OrderCancelled},
	models.OrderPaid:    {models.OrderFulfilled, models.OrderCancelled},
}

// CanTransition reports whether an order may move between two statuses.
func CanTransition(from, to models.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
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

type ProductInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
	Active      bool   `json:"active"`
}

func (in *ProductInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	switch {
	case in.Name == "":
		return utils.Validation("name_required", "product name is required")
	case len([]rune(in.Name)) > maxNameLength:
		return utils.Validation("name_too_long", "product name must be at most 200 characters")
	case in.PriceCents < 0:
		return utils.Validation("invalid_price", "price cannot be negative")
	case in.Stock < 0:
		return utils.Validation("invalid_stock", "stock cannot be negative")
	}
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	p := &models.Product{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		PriceCents:  in.PriceCents,
		Stock:       in.Stock,
		Active:      in.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProduct replaces a product's editable fields. Setting Active to
// false takes it off the public list without touching existing orders.
func (s *Service) UpdateProduct(ctx context.Context, id string, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = in.Name
	p.Description = in.Description
	p.PriceCents = in.PriceCents
	p.Stock = in.Stock
	p.Active = in.Active
	p.UpdatedAt = s.now()
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Products(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	list, err := s.store.ListProducts(ctx, activeOnly)
	if list == nil && err == nil {
		list = []models.Product{}
	}
	return list, err
}

type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// PlaceOrder creates a pending order for an active member. Repeated
// product ids are merged and stock is reserved atomically by the store.
func (s *Service) PlaceOrder(ctx context.Context, memberID string, items []ItemInput) (*models.Order, error) {
	m, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.StatusActive {
		return nil, utils.Forbidden("membership_inactive", "only active members can place orders")
	}
	if len(items) == 0 {
		return nil, utils.Validation("empty_order", "an order needs at least one item")
	}

	qty := map[string]int{}
	for _, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, utils.Validation("product_required", "every item needs a product_id")
		}
		if it.Quantity <= 0 {
			return nil, utils.Validation("invalid_quantity", "quantity must be positive")
		}
		qty[id] += it.Quantity
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	// a fixed lock order keeps concurrent orders from deadlocking
	sort.Strings(ids)

	now := s.now()
	o := &models.Order{
		ID:        uuid.NewString(),
		MemberID:  memberID,
		Status:    models.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, id := range ids {
		o.Items = append(o.Items, models.OrderItem{ProductID: id, Quantity: qty[id]})
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	log.Info().
		Str("order_id", o.ID).
		Str("member_id", memberID).
		Int64("total_cents", o.TotalCents).
		Int("items", len(o.Items)).
		Msg("order placed")
	return o, nil
}

// CancelOrder lets a member withdraw their own pending order. Orders that
// belong to someone else are reported as not found.
func (s *Service) CancelOrder(ctx context.Context, memberID, orderID string) (*models.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.MemberID != memberID {
		return nil, utils.NotFound("order_not_found", "order not found")
	}
	if o.Status != models.OrderPending {
		return nil, utils.Conflict("order_not_cancellable", "only pending orders can be cancelled")
	}
	return s.transition(ctx, o, models.OrderCancelled)
}

// SetOrderStatus is the admin path for moving an order along.
func (s *Service) SetOrderStatus(ctx context.Context, orderID string, to models.OrderStatus) (*models.Order, error) {
	if !to.Valid() {
		return nil, utils.Validation("invalid_status", "unknown order status")
	}
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, o, to)
}

func (s *Service) transition(ctx context.Context, o *models.Order, to models.OrderStatus) (*models.Order, error) {
	if !CanTransition(o.Status, to) {
		return nil, utils.Conflict("invalid_transition", "order cannot move from "+string(o.Status)+" to "+string(to))
	}
	now := s.now()
	restock := to == models.OrderCancelled
	if err := s.store.TransitionOrder(ctx, o.ID, o.Status, to, restock, now); err != nil {
		return nil, err
	}
	log.Info().
		Str("order_id", o.ID).
		Str("from", string(o.Status)).
		Str("to", string(to)).
		Msg("order status changed")
	o.Status = to
	o.UpdatedAt = now
	return o, nil
}

func (s *Service) MemberOrders(ctx context.Context, memberID string) ([]models.Order, error) {
	return s.orders(ctx, models.OrderFilter{MemberID: memberID})
}

// Orders lists every order, optionally filtered by status.
func (s *Service) Orders(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error) {
	if status != "" && !status.Valid() {
		return nil, utils.Validation("invalid_status", "unknown order status")
	}
	return s.orders(ctx, models.OrderFilter{Status: status, Limit: limit})
}

func (s *Service) orders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	list, err := s.store.ListOrders(ctx, f)
	if list == nil && err == nil {
		list = []models.Order{}
	}
	return list, err
}
