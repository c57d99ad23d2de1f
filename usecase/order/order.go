// Package order exposes placed orders and the audit trail.
package order

import (
	"context"

	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
	"github.com/fastygo/storecore/internal/uow"
	"github.com/fastygo/storecore/usecase"
)

type Service struct {
	uow    *uow.Factory
	logger *zap.Logger
}

func New(factory *uow.Factory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{uow: factory, logger: logger}
}

// GetOrder returns an order to its owner or to an administrator.
func (s *Service) GetOrder(ctx context.Context, user domain.UserContext, orderID string) (domain.OrderSnapshot, error) {
	if err := usecase.RequireUser(user); err != nil {
		return domain.OrderSnapshot{}, err
	}
	var snap domain.OrderSnapshot
	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		o, err := u.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !user.CanAccess(o.UserID()) {
			return domain.Detail(domain.ErrPermissionDenied, "order %s", orderID)
		}
		snap = o.Snapshot()
		return nil
	})
	return snap, usecase.Result(err)
}

// ListOrders returns the caller's orders, oldest first.
func (s *Service) ListOrders(ctx context.Context, user domain.UserContext) ([]domain.OrderSnapshot, error) {
	if err := usecase.RequireUser(user); err != nil {
		return nil, err
	}
	var out []domain.OrderSnapshot
	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		orders, err := u.Orders().ListByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		out = make([]domain.OrderSnapshot, 0, len(orders))
		for _, o := range orders {
			out = append(out, o.Snapshot())
		}
		return nil
	})
	return out, usecase.Result(err)
}

// ListAuditLog returns the audit entries of aggregateID, or every entry when
// it is empty. Administrators only.
func (s *Service) ListAuditLog(ctx context.Context, user domain.UserContext, aggregateID string) ([]domain.AuditLogEntry, error) {
	if err := usecase.RequireAdmin(user); err != nil {
		return nil, err
	}
	var out []domain.AuditLogEntry
	err := s.uow.Run(ctx, user, func(ctx context.Context, u *uow.UnitOfWork) error {
		entries, err := u.AuditLog().List(ctx, aggregateID)
		if err != nil {
			return err
		}
		out = entries
		return nil
	})
	if err != nil {
		s.logger.Warn("audit log read failed", zap.String("aggregate_id", aggregateID), zap.Error(err))
	}
	return out, usecase.Result(err)
}
