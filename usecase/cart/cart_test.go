package cart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/internal/events"
	"github.com/fastygo/storecore/internal/handlers"
	"github.com/fastygo/storecore/internal/uow"
	"github.com/fastygo/storecore/repository"
	"github.com/fastygo/storecore/repository/memory"
	"github.com/fastygo/storecore/usecase/cart"
	"github.com/fastygo/storecore/usecase/catalog"
	"github.com/fastygo/storecore/usecase/order"
)

var (
	admin = domain.UserContext{ID: "admin-1", Role: domain.RoleAdmin}
	alice = domain.UserContext{ID: "alice", Role: domain.RoleCustomer}
	bob   = domain.UserContext{ID: "bob", Role: domain.RoleCustomer}
)

type shop struct {
	store   *memory.Store
	catalog *catalog.Service
	carts   *cart.Service
	orders  *order.Service
}

func newShop(t *testing.T, opts ...memory.Option) *shop {
	t.Helper()
	store := memory.New(opts...)
	d := events.NewDispatcher(events.Config{Workers: 2}, nil)
	require.NoError(t, handlers.Register(d, handlers.Options{Store: store}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})

	factory := uow.NewFactory(store, d, nil)
	return &shop{
		store:   store,
		catalog: catalog.New(factory, nil, nil),
		carts:   cart.New(factory, nil),
		orders:  order.New(factory, nil),
	}
}

func (s *shop) laptop(t *testing.T, stock int) domain.ProductSnapshot {
	t.Helper()
	p, err := s.catalog.CreateProduct(context.Background(), admin, catalog.CreateProductInput{
		Name:  "Laptop",
		Price: decimal.RequireFromString("999.99"),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func (s *shop) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := s.catalog.GetProduct(context.Background(), admin, productID)
	require.NoError(t, err)
	return p.Stock
}

func lineQty(snap domain.CartSnapshot, productID string) int {
	for _, it := range snap.Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}

func TestAddToCartReservesStockAndMerges(t *testing.T) {
	s := newShop(t)
	ctx := context.Background()
	laptop := s.laptop(t, 10)

	snap, err := s.carts.AddToCart(ctx, alice, laptop.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, lineQty(snap, laptop.ID))
	assert.Equal(t, 8, s.stock(t, laptop.ID))

	snap, err = s.carts.AddToCart(ctx, alice, laptop.ID, 3)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 5, lineQty(snap, laptop.ID))
	assert.Equal(t, 5, s.stock(t, laptop.ID))

	_, err = s.carts.AddToCart(ctx, alice, laptop.ID, 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 5, s.stock(t, laptop.ID))

	current, err := s.carts.GetCart(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 5, lineQty(current, laptop.ID))
}

func TestConcurrentAddsNeverOversell(t *testing.T) {
	s := newShop(t)
	laptop := s.laptop(t, 10)

	var g errgroup.Group
	results := make([]error, 2)
	for i, user := range []domain.UserContext{alice, bob} {
		i, user := i, user
		g.Go(func() error {
			_, err := s.carts.AddToCart(context.Background(), user, laptop.ID, 6)
			results[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 4, s.stock(t, laptop.ID))
}

func TestConcurrentFirstAddsShareOneCart(t *testing.T) {
	s := newShop(t)
	laptop := s.laptop(t, 50)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := s.carts.AddToCart(context.Background(), alice, laptop.ID, 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	snap, err := s.carts.GetCart(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 8, snap.Items[0].Quantity)
	assert.Equal(t, 42, s.stock(t, laptop.ID))
}

func TestSubmitCartCreatesOrderAndAuditTrail(t *testing.T) {
	s := newShop(t)
	ctx := context.Background()
	laptop := s.laptop(t, 10)
	mouse, err := s.catalog.CreateProduct(ctx, admin, catalog.CreateProductInput{
		Name:  "Mouse",
		Price: decimal.RequireFromString("25.50"),
		Stock: 100,
	})
	require.NoError(t, err)

	_, err = s.carts.AddToCart(ctx, alice, laptop.ID, 2)
	require.NoError(t, err)
	_, err = s.carts.AddToCart(ctx, alice, mouse.ID, 2)
	require.NoError(t, err)

	placed, err := s.carts.SubmitCart(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", placed.UserID)
	require.Len(t, placed.Items, 2)
	assert.True(t, placed.Total.Equal(decimal.RequireFromString("2050.98")), placed.Total.String())

	current, err := s.carts.GetCart(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, current.Items)
	assert.Equal(t, 8, s.stock(t, laptop.ID))

	orderTrail, err := s.orders.ListAuditLog(ctx, admin, placed.ID)
	require.NoError(t, err)
	require.Len(t, orderTrail, 1)
	assert.Equal(t, domain.EventOrderCreated, orderTrail[0].EventType)
	assert.Equal(t, "alice", orderTrail[0].ActorID)

	cartTrail, err := s.orders.ListAuditLog(ctx, admin, domain.CartIDForUser("alice"))
	require.NoError(t, err)
	types := make([]domain.EventType, 0, len(cartTrail))
	for _, e := range cartTrail {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventCartCreated,
		domain.EventCartItemAdded,
		domain.EventCartItemAdded,
		domain.EventCartSubmitted,
	}, types)

	_, err = s.carts.SubmitCart(ctx, alice)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestSubmitWithoutCartIsEmpty(t *testing.T) {
	s := newShop(t)
	_, err := s.carts.SubmitCart(context.Background(), bob)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestSnapshotsSurviveRepriceAndDelete(t *testing.T) {
	s := newShop(t)
	ctx := context.Background()
	laptop := s.laptop(t, 10)

	_, err := s.carts.AddToCart(ctx, alice, laptop.ID, 1)
	require.NoError(t, err)

	_, err = s.catalog.ChangePrice(ctx, admin, laptop.ID, decimal.RequireFromString("1299.00"))
	require.NoError(t, err)

	snap, err := s.carts.AddToCart(ctx, alice, laptop.ID, 1)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.True(t, snap.Items[0].UnitPrice.Equal(decimal.RequireFromString("999.99")))

	placed, err := s.carts.SubmitCart(ctx, alice)
	require.NoError(t, err)

	require.NoError(t, s.catalog.DeleteProduct(ctx, admin, laptop.ID))
	_, err = s.catalog.ChangePrice(ctx, admin, laptop.ID, decimal.RequireFromString("1.00"))
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)

	stored, err := s.orders.GetOrder(ctx, alice, placed.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Laptop", stored.Items[0].ProductName)
	assert.True(t, stored.Items[0].UnitPrice.Equal(decimal.RequireFromString("999.99")))
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("1999.98")))

	_, err = s.carts.AddToCart(ctx, bob, laptop.ID, 1)
	assert.ErrorIs(t, err, domain.ErrProductUnavailable)
}

func TestRemoveFromCartReleasesStock(t *testing.T) {
	s := newShop(t)
	ctx := context.Background()
	laptop := s.laptop(t, 10)

	for _, qty := range []int{1, 4, 2} {
		_, err := s.carts.AddToCart(ctx, alice, laptop.ID, qty)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, s.stock(t, laptop.ID))

	require.NoError(t, s.catalog.DeleteProduct(ctx, admin, laptop.ID))

	snap, err := s.carts.RemoveFromCart(ctx, alice, laptop.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.Equal(t, 10, s.stock(t, laptop.ID))

	_, err = s.carts.RemoveFromCart(ctx, alice, laptop.ID)
	assert.ErrorIs(t, err, domain.ErrItemNotInCart)
	_, err = s.carts.RemoveFromCart(ctx, bob, laptop.ID)
	assert.ErrorIs(t, err, domain.ErrItemNotInCart)
}

func TestLockTimeoutRollsBack(t *testing.T) {
	s := newShop(t, memory.WithLockTimeout(50*time.Millisecond))
	ctx := context.Background()
	laptop := s.laptop(t, 10)

	holder, err := s.store.Begin(ctx)
	require.NoError(t, err)
	_, err = holder.GetForUpdate(ctx, domain.KindProduct, laptop.ID)
	require.NoError(t, err)

	_, err = s.carts.AddToCart(ctx, alice, laptop.ID, 1)
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
	require.NoError(t, holder.Rollback(ctx))

	assert.Equal(t, 10, s.stock(t, laptop.ID))
	current, err := s.carts.GetCart(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, current.Items)
}

func TestCartOperationsRequireIdentity(t *testing.T) {
	s := newShop(t)
	ctx := context.Background()
	laptop := s.laptop(t, 10)

	for _, user := range []domain.UserContext{{}, {ID: "x", Role: "guest"}} {
		_, err := s.carts.AddToCart(ctx, user, laptop.ID, 1)
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
		_, err = s.carts.SubmitCart(ctx, user)
		assert.ErrorIs(t, err, domain.ErrPermissionDenied)
	}

	_, err := s.carts.AddToCart(ctx, alice, laptop.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = s.carts.AddToCart(ctx, alice, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestErrorsNeverLeakStorageTypes(t *testing.T) {
	s := newShop(t)
	_, err := s.carts.AddToCart(context.Background(), alice, "missing", 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, repository.ErrRowNotFound))
	assert.Equal(t, domain.ErrCodeNotFound, domain.CodeOf(err))
}

func TestConcurrentAddsAndRemovesConserveStock(t *testing.T) {
	s := newShop(t)
	ctx := context.Background()
	laptop := s.laptop(t, 20)

	users := []domain.UserContext{alice, bob, {ID: "carol", Role: domain.RoleCustomer}, {ID: "dave", Role: domain.RoleCustomer}}
	var g errgroup.Group
	for i, user := range users {
		i, user := i, user
		g.Go(func() error {
			for round := 0; round < 10; round++ {
				_, err := s.carts.AddToCart(ctx, user, laptop.ID, 3+i)
				if err != nil && !errors.Is(err, domain.ErrInsufficientStock) {
					return err
				}
				if round%2 == 1 {
					continue
				}
				_, err = s.carts.RemoveFromCart(ctx, user, laptop.ID)
				if err != nil && !errors.Is(err, domain.ErrItemNotInCart) {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	held := 0
	for _, user := range users {
		snap, err := s.carts.GetCart(ctx, user)
		require.NoError(t, err)
		held += lineQty(snap, laptop.ID)
	}
	stock := s.stock(t, laptop.ID)
	assert.GreaterOrEqual(t, stock, 0)
	assert.Equal(t, 20, stock+held)
}

func TestAuditEntryWrittenAfterCallerCancels(t *testing.T) {
	store := memory.New()
	d := events.NewDispatcher(events.Config{Workers: 1}, nil)
	t.Cleanup(func() { _ = d.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Register(domain.EventProductCreated, events.HandlerFunc(func(context.Context, domain.Event) error {
		cancel()
		return nil
	})))
	require.NoError(t, handlers.Register(d, handlers.Options{Store: store}))

	factory := uow.NewFactory(store, d, nil)
	created, err := catalog.New(factory, nil, nil).CreateProduct(ctx, admin, catalog.CreateProductInput{
		Name:  "Laptop",
		Price: decimal.RequireFromString("999.99"),
		Stock: 1,
	})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	trail, err := order.New(factory, nil).ListAuditLog(context.Background(), admin, created.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.EventProductCreated, trail[0].EventType)
	assert.Zero(t, d.Stats().SyncFailures)
}
