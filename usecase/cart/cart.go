// Package cart orchestrates the shopping operations that span products,
// carts and orders. Every operation locks the product before the cart and
// the cart before the order.
package cart

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/internal/uow"
	"github.com/fastygo/storecore/pkg/logger"
	"github.com/fastygo/storecore/usecase"
)

type Service struct {
	uow    *uow.Factory
	logger *zap.Logger
}

func New(factory *uow.Factory, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{uow: factory, logger: log}
}

// AddToCart reserves qty units of the product and adds them to the caller's
// cart, creating the cart on first use.
func (s *Service) AddToCart(ctx context.Context, user domain.UserContext, productID string, qty int) (domain.CartSnapshot, error) {
	if err := usecase.RequireUser(user); err != nil {
		return domain.CartSnapshot{}, err
	}
	if qty <= 0 {
		return domain.CartSnapshot{}, domain.ErrInvalidQuantity
	}
	ctx, log := s.scope(ctx, "add_to_cart")

	var snap domain.CartSnapshot
	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		product, err := u.Products().GetForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		cart, err := u.Carts().GetOrCreateForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}

		if err := product.ReserveStock(qty); err != nil {
			return err
		}
		line, err := product.LineSnapshot(qty)
		if err != nil {
			return err
		}
		if err := cart.AddItem(line); err != nil {
			return err
		}

		if err := u.Products().Save(ctx, product); err != nil {
			return err
		}
		if err := u.Carts().Save(ctx, cart); err != nil {
			return err
		}
		if err := u.Collect(product, cart); err != nil {
			return err
		}
		snap = cart.Snapshot()
		return nil
	})
	err = usecase.Result(err)
	usecase.LogOutcome(log, "add to cart", err,
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
	)
	return snap, err
}

// RemoveFromCart drops the product's line from the caller's cart and returns
// its quantity to stock. Stock returns even when the product was deleted.
func (s *Service) RemoveFromCart(ctx context.Context, user domain.UserContext, productID string) (domain.CartSnapshot, error) {
	if err := usecase.RequireUser(user); err != nil {
		return domain.CartSnapshot{}, err
	}
	ctx, log := s.scope(ctx, "remove_from_cart")

	var snap domain.CartSnapshot
	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		product, err := u.Products().GetForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		cart, err := u.Carts().GetForUpdate(ctx, domain.CartIDForUser(user.ID))
		if err != nil {
			if errors.Is(err, domain.ErrCartNotFound) {
				return domain.Detail(domain.ErrItemNotInCart, "product %s", productID)
			}
			return err
		}

		line, err := cart.RemoveItem(productID)
		if err != nil {
			return err
		}
		if err := product.ReleaseStock(line.Quantity()); err != nil {
			return err
		}

		if err := u.Products().Save(ctx, product); err != nil {
			return err
		}
		if err := u.Carts().Save(ctx, cart); err != nil {
			return err
		}
		if err := u.Collect(product, cart); err != nil {
			return err
		}
		snap = cart.Snapshot()
		return nil
	})
	err = usecase.Result(err)
	usecase.LogOutcome(log, "remove from cart", err, zap.String("product_id", productID))
	return snap, err
}

// SubmitCart turns the caller's cart into an order and empties the cart.
// Reserved stock stays with the order.
func (s *Service) SubmitCart(ctx context.Context, user domain.UserContext) (domain.OrderSnapshot, error) {
	if err := usecase.RequireUser(user); err != nil {
		return domain.OrderSnapshot{}, err
	}
	ctx, log := s.scope(ctx, "submit_cart")

	var snap domain.OrderSnapshot
	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		cart, err := u.Carts().GetForUpdate(ctx, domain.CartIDForUser(user.ID))
		if err != nil {
			if errors.Is(err, domain.ErrCartNotFound) {
				return domain.ErrEmptyCart
			}
			return err
		}

		orderID := domain.NewOrderID()
		lines, err := cart.Submit(orderID)
		if err != nil {
			return err
		}
		order, err := domain.NewOrder(orderID, user.ID, lines)
		if err != nil {
			return err
		}

		if err := u.Carts().Save(ctx, cart); err != nil {
			return err
		}
		if err := u.Orders().Save(ctx, order); err != nil {
			return err
		}
		if err := u.Collect(cart, order); err != nil {
			return err
		}
		snap = order.Snapshot()
		return nil
	})
	err = usecase.Result(err)
	usecase.LogOutcome(log, "submit cart", err, zap.String("order_id", snap.ID))
	return snap, err
}

// GetCart returns the caller's cart, or an empty one when none exists yet.
func (s *Service) GetCart(ctx context.Context, user domain.UserContext) (domain.CartSnapshot, error) {
	if err := usecase.RequireUser(user); err != nil {
		return domain.CartSnapshot{}, err
	}
	id := domain.CartIDForUser(user.ID)
	snap := domain.CartSnapshot{ID: id, UserID: user.ID, Items: []domain.CartItemSnapshot{}}

	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		cart, err := u.Carts().Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrCartNotFound) {
				return nil
			}
			return err
		}
		snap = cart.Snapshot()
		return nil
	})
	return snap, usecase.Result(err)
}

func (s *Service) scope(ctx context.Context, op string) (context.Context, *zap.Logger) {
	ctx, _ = logger.EnsureOperationID(ctx)
	return ctx, logger.WithRequestID(ctx, s.logger).With(
		zap.String("operation", op),
	)
}
