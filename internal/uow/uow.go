// Package uow implements the unit of work that spans one storage transaction:
// transaction-bound repositories, lock ordering, event collection and
// dispatch after commit.
package uow

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/repository"
)

// Dispatcher receives the events of a committed unit of work.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []domain.Event)
}

// State is the lifecycle position of a UnitOfWork.
type State int

const (
	StateOpen State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Factory opens units of work against one store.
type Factory struct {
	store      repository.TxBeginner
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewFactory wires a store and a dispatcher. dispatcher may be nil, in which
// case committed events are discarded.
func NewFactory(store repository.TxBeginner, dispatcher Dispatcher, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{store: store, dispatcher: dispatcher, logger: logger}
}

// Begin opens a transaction on behalf of user. Failing to open one is
// reported as domain.ErrResourceUnavailable.
func (f *Factory) Begin(ctx context.Context, user domain.UserContext) (*UnitOfWork, error) {
	tx, err := f.store.Begin(ctx)
	if err != nil {
		f.logger.Warn("begin unit of work failed", zap.Error(err))
		return nil, repository.TranslateError(err)
	}
	return &UnitOfWork{
		tx:         tx,
		user:       user,
		dispatcher: f.dispatcher,
		logger:     f.logger,
		held:       make(map[repository.LockKey]struct{}),
	}, nil
}

// Run executes fn inside a unit of work and commits when fn succeeds. Any
// error rolls the transaction back; commit failures are translated into the
// domain vocabulary.
func (f *Factory) Run(ctx context.Context, user domain.UserContext, fn func(ctx context.Context, u *UnitOfWork) error) error {
	u, err := f.Begin(ctx, user)
	if err != nil {
		return err
	}
	defer u.Rollback(ctx)

	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := u.Commit(ctx); err != nil {
		return repository.TranslateError(err)
	}
	return nil
}

// UnitOfWork is bound to one goroutine.
type UnitOfWork struct {
	tx         repository.Tx
	user       domain.UserContext
	dispatcher Dispatcher
	logger     *zap.Logger
	state      State

	products *repository.ProductRepository
	carts    *repository.CartRepository
	orders   *repository.OrderRepository
	audit    *repository.AuditLogRepository

	held    map[repository.LockKey]struct{}
	last    *repository.LockKey
	pending []domain.Event
}

func (u *UnitOfWork) State() State { return u.state }

func (u *UnitOfWork) User() domain.UserContext { return u.user }

// Products returns the product repository of this unit of work; every call
// returns the same instance.
func (u *UnitOfWork) Products() *repository.ProductRepository {
	if u.products == nil {
		u.products = repository.NewProductRepository(u.tx, u.guard)
	}
	return u.products
}

func (u *UnitOfWork) Carts() *repository.CartRepository {
	if u.carts == nil {
		u.carts = repository.NewCartRepository(u.tx, u.guard)
	}
	return u.carts
}

func (u *UnitOfWork) Orders() *repository.OrderRepository {
	if u.orders == nil {
		u.orders = repository.NewOrderRepository(u.tx, u.guard)
	}
	return u.orders
}

// AuditLog reads and appends audit entries. Audit rows are never locked, so
// they take no part in lock ordering.
func (u *UnitOfWork) AuditLog() *repository.AuditLogRepository {
	if u.audit == nil {
		u.audit = repository.NewAuditLogRepository(u.tx)
	}
	return u.audit
}

// guard enforces the global lock order: product, cart, order, then id.
// Re-locking a held key is allowed.
func (u *UnitOfWork) guard(key repository.LockKey) error {
	if u.state != StateOpen {
		return domain.ErrInvalidState
	}
	if _, ok := u.held[key]; ok {
		return nil
	}
	if u.last != nil && key.Less(*u.last) {
		return domain.Detail(domain.ErrLockOrderViolated, "%s %s requested after %s %s",
			key.Kind, key.ID, u.last.Kind, u.last.ID)
	}
	u.held[key] = struct{}{}
	u.last = &key
	return nil
}

// Collect drains the pending events of each aggregate into the dispatch list,
// attributing them to the unit of work's user. Collecting an aggregate with
// nothing new is a no-op.
func (u *UnitOfWork) Collect(aggregates ...domain.Aggregate) error {
	if u.state != StateOpen {
		return domain.Detail(domain.ErrInvalidState, "collect on %s unit of work", u.state)
	}
	for _, agg := range aggregates {
		if agg == nil {
			continue
		}
		for _, event := range agg.PullEvents() {
			u.pending = append(u.pending, event.WithActor(u.user.ID))
		}
	}
	return nil
}

// Events returns a copy of the events collected so far.
func (u *UnitOfWork) Events() []domain.Event {
	out := make([]domain.Event, len(u.pending))
	copy(out, u.pending)
	return out
}

// Commit commits the transaction and then hands the collected events to the
// dispatcher, once. A failed commit discards the events and returns the
// store's error as is.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.state != StateOpen {
		return domain.Detail(domain.ErrInvalidState, "commit on %s unit of work", u.state)
	}
	events := u.pending
	u.pending = nil

	if err := u.tx.Commit(ctx); err != nil {
		u.state = StateRolledBack
		u.logger.Warn("unit of work commit failed",
			zap.Int("discarded_events", len(events)),
			zap.Error(err),
		)
		return err
	}
	u.state = StateCommitted

	if u.dispatcher != nil && len(events) > 0 {
		u.dispatcher.Dispatch(ctx, events)
	}
	return nil
}

// Rollback discards the transaction and the collected events. It is safe to
// call in any state, including after Commit.
func (u *UnitOfWork) Rollback(ctx context.Context) {
	if u.state != StateOpen {
		return
	}
	u.state = StateRolledBack
	u.pending = nil
	if err := u.tx.Rollback(ctx); err != nil {
		u.logger.Warn("unit of work rollback failed", zap.Error(err))
	}
}
