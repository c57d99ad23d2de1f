// Package catalog manages products: creation, repricing, restocking and
// soft deletion by administrators, and product reads for everyone.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/internal/uow"
	"github.com/fastygo/storecore/pkg/logger"
	"github.com/fastygo/storecore/usecase"
)

// ProductCache is the optional read-through cache used by GetProduct.
type ProductCache interface {
	Get(ctx context.Context, id string) (domain.ProductSnapshot, bool, error)
	Set(ctx context.Context, snap domain.ProductSnapshot) error
}

// CreateProductInput describes a new product.
type CreateProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

type Service struct {
	uow    *uow.Factory
	cache  ProductCache
	logger *zap.Logger
}

// New builds the catalog service. cache may be nil.
func New(factory *uow.Factory, cache ProductCache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{uow: factory, cache: cache, logger: log}
}

// CreateProduct adds a product whose name is not used by any live product.
func (s *Service) CreateProduct(ctx context.Context, user domain.UserContext, in CreateProductInput) (domain.ProductSnapshot, error) {
	if err := usecase.RequireAdmin(user); err != nil {
		return domain.ProductSnapshot{}, err
	}
	ctx, log := s.scope(ctx, "create_product")

	var snap domain.ProductSnapshot
	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		exists, err := u.Products().ExistsByKey(ctx, in.Name)
		if err != nil {
			return err
		}
		if exists {
			return domain.Detail(domain.ErrDuplicateProduct, "%q", in.Name)
		}

		p, err := domain.NewProduct(domain.NewProductParams{
			Name:        in.Name,
			Description: in.Description,
			Price:       in.Price,
			Stock:       in.Stock,
		})
		if err != nil {
			return err
		}
		if err := u.Products().Save(ctx, p); err != nil {
			return err
		}
		if err := u.Collect(p); err != nil {
			return err
		}
		snap = p.Snapshot()
		return nil
	})
	err = usecase.Result(err)
	usecase.LogOutcome(log, "create product", err, zap.String("name", in.Name))
	return snap, err
}

// ChangePrice reprices a live product.
func (s *Service) ChangePrice(ctx context.Context, user domain.UserContext, productID string, price decimal.Decimal) (domain.ProductSnapshot, error) {
	return s.mutate(ctx, user, "change_price", productID, func(p *domain.Product) error {
		return p.ChangePrice(price)
	})
}

// Restock adds qty units to a live product.
func (s *Service) Restock(ctx context.Context, user domain.UserContext, productID string, qty int) (domain.ProductSnapshot, error) {
	return s.mutate(ctx, user, "restock", productID, func(p *domain.Product) error {
		return p.Restock(qty)
	})
}

// DeleteProduct tombstones a product. Carts and orders keep their snapshots.
func (s *Service) DeleteProduct(ctx context.Context, user domain.UserContext, productID string) error {
	_, err := s.mutate(ctx, user, "delete_product", productID, func(p *domain.Product) error {
		return p.Delete()
	})
	return err
}

// GetProduct returns a live product. Administrators also see deleted ones.
func (s *Service) GetProduct(ctx context.Context, user domain.UserContext, productID string) (domain.ProductSnapshot, error) {
	if err := usecase.RequireUser(user); err != nil {
		return domain.ProductSnapshot{}, err
	}
	ctx, log := s.scope(ctx, "get_product")

	snap, hit := s.cached(ctx, log, productID)
	if !hit {
		err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
			p, err := u.Products().Get(ctx, productID)
			if err != nil {
				return err
			}
			snap = p.Snapshot()
			return nil
		})
		if err != nil {
			return domain.ProductSnapshot{}, usecase.Result(err)
		}
		s.store(ctx, log, snap)
	}

	if snap.Deleted && !user.IsAdmin() {
		return domain.ProductSnapshot{}, domain.Detail(domain.ErrProductNotFound, "product %s", productID)
	}
	return snap, nil
}

// ListProducts returns the live products, oldest first.
func (s *Service) ListProducts(ctx context.Context, user domain.UserContext) ([]domain.ProductSnapshot, error) {
	if err := usecase.RequireUser(user); err != nil {
		return nil, err
	}
	var out []domain.ProductSnapshot
	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		products, err := u.Products().List(ctx)
		if err != nil {
			return err
		}
		out = make([]domain.ProductSnapshot, 0, len(products))
		for _, p := range products {
			if p.IsDeleted() && !user.IsAdmin() {
				continue
			}
			out = append(out, p.Snapshot())
		}
		return nil
	})
	return out, usecase.Result(err)
}

func (s *Service) mutate(ctx context.Context, user domain.UserContext, op, productID string, apply func(*domain.Product) error) (domain.ProductSnapshot, error) {
	if err := usecase.RequireAdmin(user); err != nil {
		return domain.ProductSnapshot{}, err
	}
	ctx, log := s.scope(ctx, op)

	var snap domain.ProductSnapshot
	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		p, err := u.Products().GetForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if err := apply(p); err != nil {
			return err
		}
		if len(p.PendingEvents()) > 0 {
			if err := u.Products().Save(ctx, p); err != nil {
				return err
			}
		}
		if err := u.Collect(p); err != nil {
			return err
		}
		snap = p.Snapshot()
		return nil
	})
	err = usecase.Result(err)
	usecase.LogOutcome(log, op, err, zap.String("product_id", productID))
	return snap, err
}

func (s *Service) cached(ctx context.Context, log *zap.Logger, id string) (domain.ProductSnapshot, bool) {
	if s.cache == nil {
		return domain.ProductSnapshot{}, false
	}
	snap, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		log.Warn("product cache read failed", zap.String("product_id", id), zap.Error(err))
		return domain.ProductSnapshot{}, false
	}
	return snap, ok
}

func (s *Service) store(ctx context.Context, log *zap.Logger, snap domain.ProductSnapshot) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, snap); err != nil {
		log.Warn("product cache write failed", zap.String("product_id", snap.ID), zap.Error(err))
	}
}

func (s *Service) scope(ctx context.Context, op string) (context.Context, *zap.Logger) {
	ctx, _ = logger.EnsureOperationID(ctx)
	return ctx, logger.WithRequestID(ctx, s.logger).With(zap.String("operation", op))
}
