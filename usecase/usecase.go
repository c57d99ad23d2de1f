// Package usecase holds the helpers shared by the application services in
// its subpackages.
package usecase

import (
	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
)

// RequireUser rejects callers without an identity or with an unknown role.
func RequireUser(user domain.UserContext) error {
	if !user.IsAuthenticated() {
		return domain.Detail(domain.ErrPermissionDenied, "authenticated user required")
	}
	return nil
}

// RequireAdmin rejects callers that are not administrators.
func RequireAdmin(user domain.UserContext) error {
	if !user.IsAdmin() {
		return domain.Detail(domain.ErrPermissionDenied, "admin role required")
	}
	return nil
}

// Result passes domain errors through unchanged and classifies anything else
// as an internal failure.
func Result(err error) error {
	if err == nil || domain.CodeOf(err) != "" {
		return err
	}
	return domain.WrapError(domain.ErrCodeInternal, "internal error", err)
}

// LogOutcome records the end of an operation at a level matching its error.
func LogOutcome(logger *zap.Logger, op string, err error, fields ...zap.Field) {
	if err == nil {
		logger.Debug(op+" completed", fields...)
		return
	}
	fields = append(fields, zap.String("code", string(domain.CodeOf(err))), zap.Error(err))
	switch domain.CodeOf(err) {
	case domain.ErrCodeInternal, domain.ErrCodeUnavailable, domain.ErrCodeInvalidState:
		logger.Error(op+" failed", fields...)
	default:
		logger.Info(op+" rejected", fields...)
	}
}
