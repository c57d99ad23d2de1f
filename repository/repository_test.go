package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/repository"
	"github.com/fastygo/storecore/repository/memory"
)

func withTx(t *testing.T, store repository.TxBeginner, fn func(tx repository.Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit(ctx))
}

func newLaptop(t *testing.T) *domain.Product {
	t.Helper()
	p, err := domain.NewProduct(domain.NewProductParams{
		Name:  "Laptop",
		Price: decimal.RequireFromString("999.99"),
		Stock: 10,
	})
	require.NoError(t, err)
	return p
}

func TestProductRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	laptop := newLaptop(t)

	withTx(t, store, func(tx repository.Tx) {
		repo := repository.NewProductRepository(tx, nil)
		require.NoError(t, repo.Save(ctx, laptop))
		assert.Equal(t, 1, laptop.Version())
	})

	withTx(t, store, func(tx repository.Tx) {
		repo := repository.NewProductRepository(tx, nil)
		p, err := repo.GetForUpdate(ctx, laptop.ID())
		require.NoError(t, err)
		assert.Equal(t, "Laptop", p.Name())
		assert.True(t, p.Price().Equal(decimal.RequireFromString("999.99")))
		assert.Equal(t, 1, p.Version())
		assert.Empty(t, p.PendingEvents())

		require.NoError(t, p.ReserveStock(2))
		require.NoError(t, repo.Save(ctx, p))
		assert.Equal(t, 2, p.Version())
	})

	withTx(t, store, func(tx repository.Tx) {
		p, err := repository.NewProductRepository(tx, nil).Get(ctx, laptop.ID())
		require.NoError(t, err)
		assert.Equal(t, 8, p.Stock())
		assert.Equal(t, 2, p.Version())
	})
}

func TestProductRepositoryDuplicateName(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	withTx(t, store, func(tx repository.Tx) {
		require.NoError(t, repository.NewProductRepository(tx, nil).Save(ctx, newLaptop(t)))
	})

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	repo := repository.NewProductRepository(tx, nil)
	exists, err := repo.ExistsByKey(ctx, "  LAPTOP ")
	require.NoError(t, err)
	assert.True(t, exists)

	err = repo.Save(ctx, newLaptop(t))
	assert.ErrorIs(t, err, domain.ErrDuplicateProduct)
	assert.False(t, errors.Is(err, repository.ErrRowExists), "storage error must not leak")
}

func TestProductRepositoryNotFoundAndLockTimeout(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.WithLockTimeout(20 * time.Millisecond))
	laptop := newLaptop(t)

	withTx(t, store, func(tx repository.Tx) {
		require.NoError(t, repository.NewProductRepository(tx, nil).Save(ctx, laptop))
	})

	holder, err := store.Begin(ctx)
	require.NoError(t, err)
	defer holder.Rollback(ctx)
	_, err = repository.NewProductRepository(holder, nil).GetForUpdate(ctx, laptop.ID())
	require.NoError(t, err)

	waiter, err := store.Begin(ctx)
	require.NoError(t, err)
	defer waiter.Rollback(ctx)
	repo := repository.NewProductRepository(waiter, nil)

	_, err = repo.GetForUpdate(ctx, laptop.ID())
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
	assert.False(t, errors.Is(err, repository.ErrLockTimeout))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestLockGuardSeesEveryLockedRead(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	laptop := newLaptop(t)

	withTx(t, store, func(tx repository.Tx) {
		require.NoError(t, repository.NewProductRepository(tx, nil).Save(ctx, laptop))
	})

	var seen []repository.LockKey
	guard := func(key repository.LockKey) error {
		seen = append(seen, key)
		if key.Kind == domain.KindOrder {
			return domain.ErrLockOrderViolated
		}
		return nil
	}

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = repository.NewProductRepository(tx, guard).GetForUpdate(ctx, laptop.ID())
	require.NoError(t, err)
	_, err = repository.NewCartRepository(tx, guard).GetOrCreateForUpdate(ctx, "u1")
	require.NoError(t, err)
	_, err = repository.NewOrderRepository(tx, guard).GetForUpdate(ctx, "o1")
	assert.ErrorIs(t, err, domain.ErrLockOrderViolated)

	assert.Equal(t, []repository.LockKey{
		{Kind: domain.KindProduct, ID: laptop.ID()},
		{Kind: domain.KindCart, ID: domain.CartIDForUser("u1")},
		{Kind: domain.KindOrder, ID: "o1"},
	}, seen)
}

func TestCartGetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	withTx(t, store, func(tx repository.Tx) {
		repo := repository.NewCartRepository(tx, nil)
		cart, err := repo.GetOrCreateForUpdate(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, domain.CartIDForUser("u1"), cart.ID())
		require.Len(t, cart.PendingEvents(), 1)
		assert.Equal(t, domain.EventCartCreated, cart.PendingEvents()[0].Type)

		exists, err := repo.ExistsByKey(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	withTx(t, store, func(tx repository.Tx) {
		repo := repository.NewCartRepository(tx, nil)
		cart, err := repo.GetOrCreateForUpdate(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, cart.PendingEvents())
		assert.Equal(t, 1, cart.Version())

		item, err := domain.NewCartItem("p1", "Laptop", decimal.RequireFromString("999.99"), 1)
		require.NoError(t, err)
		require.NoError(t, cart.AddItem(item))
		require.NoError(t, repo.Save(ctx, cart))
		assert.Equal(t, 2, cart.Version())
	})

	withTx(t, store, func(tx repository.Tx) {
		cart, err := repository.NewCartRepository(tx, nil).Get(ctx, domain.CartIDForUser("u1"))
		require.NoError(t, err)
		assert.Len(t, cart.Items(), 1)

		exists, err := repository.NewCartRepository(tx, nil).ExistsByKey(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestOrderRepositoryIsInsertOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	item, err := domain.NewCartItem("p1", "Laptop", decimal.RequireFromString("10.50"), 2)
	require.NoError(t, err)
	order, err := domain.NewOrder(domain.NewOrderID(), "u1", []domain.CartItem{item})
	require.NoError(t, err)

	withTx(t, store, func(tx repository.Tx) {
		repo := repository.NewOrderRepository(tx, nil)
		require.NoError(t, repo.Save(ctx, order))
		assert.ErrorIs(t, repo.Save(ctx, order), domain.ErrInvalidState)
	})

	withTx(t, store, func(tx repository.Tx) {
		repo := repository.NewOrderRepository(tx, nil)
		got, err := repo.Get(ctx, order.ID())
		require.NoError(t, err)
		assert.True(t, got.Total().Equal(decimal.RequireFromString("21.00")))

		orders, err := repo.ListByUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, order.ID(), orders[0].ID())

		_, err = repo.GetForUpdate(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestAuditLogRejectsSecondEntryForEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	cart, err := domain.NewCart("u1")
	require.NoError(t, err)
	event := cart.PullEvents()[0]
	entry, err := domain.NewAuditLogEntry(event, time.Now())
	require.NoError(t, err)

	withTx(t, store, func(tx repository.Tx) {
		require.NoError(t, repository.NewAuditLogRepository(tx).Append(ctx, entry))
	})

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	repo := repository.NewAuditLogRepository(tx)
	assert.ErrorIs(t, repo.Append(ctx, entry), domain.ErrDuplicate)

	entries, err := repo.List(ctx, cart.ID())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, event.ID, entries[0].EventID)
	assert.Equal(t, domain.EventCartCreated, entries[0].EventType)
}

func TestLockKeyOrdering(t *testing.T) {
	product := repository.LockKey{Kind: domain.KindProduct, ID: "z"}
	cart := repository.LockKey{Kind: domain.KindCart, ID: "a"}
	order := repository.LockKey{Kind: domain.KindOrder, ID: "a"}

	assert.True(t, product.Less(cart))
	assert.True(t, cart.Less(order))
	assert.False(t, order.Less(product))
	assert.True(t, repository.LockKey{Kind: domain.KindProduct, ID: "a"}.Less(product))
	assert.False(t, product.Less(product))
}
