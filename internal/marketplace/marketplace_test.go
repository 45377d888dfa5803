package marketplace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/testutil"
	"github.com/harrylevesque/memberhub/internal/utils"
)

var t0 = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *testutil.MemStore
	clock *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMemStore()
	clock := testutil.NewClock(t0)
	svc := NewService(store)
	svc.SetClock(clock.Now)
	for _, m := range []*models.Member{
		{ID: "ana", Email: "ana@example.org", Status: models.StatusActive, Role: models.RoleMember},
		{ID: "ben", Email: "ben@example.org", Status: models.StatusActive, Role: models.RoleMember},
		{ID: "pat", Email: "pat@example.org", Status: models.StatusPending, Role: models.RoleMember},
	} {
		require.NoError(t, store.CreateMember(context.Background(), m))
	}
	return &fixture{svc: svc, store: store, clock: clock}
}

func (f *fixture) product(t *testing.T, name string, price int64, stock int) *models.Product {
	t.Helper()
	p, err := f.svc.CreateProduct(context.Background(), ProductInput{Name: name, PriceCents: price, Stock: stock, Active: true})
	require.NoError(t, err)
	return p
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.OrderPending, models.OrderPaid))
	assert.True(t, CanTransition(models.OrderPaid, models.OrderFulfilled))
	assert.True(t, CanTransition(models.OrderPaid, models.OrderCancelled))
	assert.False(t, CanTransition(models.OrderPending, models.OrderFulfilled))
	assert.False(t, CanTransition(models.OrderFulfilled, models.OrderCancelled))
	assert.False(t, CanTransition(models.OrderCancelled, models.OrderPending))
}

func TestProductValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for code, in := range map[string]ProductInput{
		"name_required": {Name: "  "},
		"invalid_price": {Name: "Cap", PriceCents: -1},
		"invalid_stock": {Name: "Cap", Stock: -3},
	} {
		_, err := f.svc.CreateProduct(ctx, in)
		assert.Equal(t, code, utils.CodeOf(err))
	}

	p := f.product(t, "Cap", 1500, 3)
	got, err := f.svc.UpdateProduct(ctx, p.ID, ProductInput{Name: "Cap", PriceCents: 1200, Stock: 3})
	require.NoError(t, err)
	assert.False(t, got.Active)

	active, err := f.svc.Products(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.NotNil(t, active)

	all, err := f.svc.Products(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.svc.UpdateProduct(ctx, "missing", ProductInput{Name: "x"})
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hat := f.product(t, "Cap", 1500, 5)
	pin := f.product(t, "Pin", 300, 10)

	o, err := f.svc.PlaceOrder(ctx, "ana", []ItemInput{
		{ProductID: pin.ID, Quantity: 2},
		{ProductID: hat.ID, Quantity: 1},
		{ProductID: pin.ID, Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, o.Status)
	assert.Len(t, o.Items, 2)
	assert.Equal(t, int64(1500+3*300), o.TotalCents)
	assert.Equal(t, 4, f.stock(t, hat.ID))
	assert.Equal(t, 7, f.stock(t, pin.ID))

	for _, it := range o.Items {
		if it.ProductID == pin.ID {
			assert.Equal(t, 3, it.Quantity)
			assert.Equal(t, "Pin", it.Name)
			assert.Equal(t, int64(300), it.PriceCents)
		}
	}
}

func TestPlaceOrderRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hat := f.product(t, "Cap", 1500, 1)
	old, err := f.svc.CreateProduct(ctx, ProductInput{Name: "Old", PriceCents: 100, Stock: 10})
	require.NoError(t, err)

	cases := []struct {
		name   string
		member string
		items  []ItemInput
		code   string
	}{
		{"inactive member", "pat", []ItemInput{{ProductID: hat.ID, Quantity: 1}}, "membership_inactive"},
		{"no items", "ana", nil, "empty_order"},
		{"zero quantity", "ana", []ItemInput{{ProductID: hat.ID, Quantity: 0}}, "invalid_quantity"},
		{"missing product id", "ana", []ItemInput{{Quantity: 1}}, "product_required"},
		{"inactive product", "ana", []ItemInput{{ProductID: old.ID, Quantity: 1}}, "product_unavailable"},
		{"not enough stock", "ana", []ItemInput{{ProductID: hat.ID, Quantity: 2}}, "insufficient_stock"},
		{"unknown product", "ana", []ItemInput{{ProductID: "nope", Quantity: 1}}, "product_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(ctx, tc.member, tc.items)
			assert.Equal(t, tc.code, utils.CodeOf(err))
		})
	}
	assert.Equal(t, 1, f.stock(t, hat.ID), "failed orders leave stock untouched")
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hat := f.product(t, "Cap", 1500, 5)
	o, err := f.svc.PlaceOrder(ctx, "ana", []ItemInput{{ProductID: hat.ID, Quantity: 2}})
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, "ben", o.ID)
	assert.Equal(t, "order_not_found", utils.CodeOf(err))

	f.clock.Advance(time.Minute)
	got, err := f.svc.CancelOrder(ctx, "ana", o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.Status)
	assert.Equal(t, t0.Add(time.Minute), got.UpdatedAt)
	assert.Equal(t, 5, f.stock(t, hat.ID))

	_, err = f.svc.CancelOrder(ctx, "ana", o.ID)
	assert.Equal(t, "order_not_cancellable", utils.CodeOf(err))
}

func TestMemberCannotCancelPaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hat := f.product(t, "Cap", 1500, 5)
	o, err := f.svc.PlaceOrder(ctx, "ana", []ItemInput{{ProductID: hat.ID, Quantity: 1}})
	require.NoError(t, err)
	_, err = f.svc.SetOrderStatus(ctx, o.ID, models.OrderPaid)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, "ana", o.ID)
	assert.Equal(t, "order_not_cancellable", utils.CodeOf(err))
}

func TestSetOrderStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hat := f.product(t, "Cap", 1500, 5)
	o, err := f.svc.PlaceOrder(ctx, "ana", []ItemInput{{ProductID: hat.ID, Quantity: 3}})
	require.NoError(t, err)

	_, err = f.svc.SetOrderStatus(ctx, o.ID, models.OrderFulfilled)
	assert.Equal(t, "invalid_transition", utils.CodeOf(err))

	_, err = f.svc.SetOrderStatus(ctx, o.ID, "shipped")
	assert.Equal(t, "invalid_status", utils.CodeOf(err))

	_, err = f.svc.SetOrderStatus(ctx, o.ID, models.OrderPaid)
	require.NoError(t, err)
	assert.Equal(t, 2, f.stock(t, hat.ID))

	got, err := f.svc.SetOrderStatus(ctx, o.ID, models.OrderCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.Status)
	assert.Equal(t, 5, f.stock(t, hat.ID), "cancelling a paid order restocks")

	_, err = f.svc.SetOrderStatus(ctx, o.ID, models.OrderPaid)
	assert.Equal(t, "invalid_transition", utils.CodeOf(err))
}

func TestOrderLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hat := f.product(t, "Cap", 1500, 10)
	a, err := f.svc.PlaceOrder(ctx, "ana", []ItemInput{{ProductID: hat.ID, Quantity: 1}})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.svc.PlaceOrder(ctx, "ben", []ItemInput{{ProductID: hat.ID, Quantity: 1}})
	require.NoError(t, err)
	_, err = f.svc.SetOrderStatus(ctx, a.ID, models.OrderPaid)
	require.NoError(t, err)

	mine, err := f.svc.MemberOrders(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	paid, err := f.svc.Orders(ctx, models.OrderPaid, 0)
	require.NoError(t, err)
	require.Len(t, paid, 1)

	all, err := f.svc.Orders(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := f.svc.MemberOrders(ctx, "pat")
	require.NoError(t, err)
	assert.NotNil(t, none)

	_, err = f.svc.Orders(ctx, "lost", 0)
	assert.Equal(t, "invalid_status", utils.CodeOf(err))
}
