package app

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/resilience"
	"go.uber.org/zap"
)

const verifyTimeout = 30 * time.Second

// CredentialChecker интеграция, которая умеет проверить свои учётные данные
type CredentialChecker interface {
	VerifyCredentials(ctx context.Context) error
}

// VerifyIntegrations проверяет учётные данные интеграций при старте.
// Отказ в авторизации останавливает запуск. Прочие ошибки только логируются,
// записи в это время уходят в ручную синхронизацию
func VerifyIntegrations(ctx context.Context, checks map[string]CredentialChecker, logger *zap.Logger) error {
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		checkCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
		err := checks[name].VerifyCredentials(checkCtx)
		cancel()

		switch {
		case err == nil:
			logger.Info("Integration credentials verified", zap.String("gateway", name))
		case resilience.IsAuth(err):
			return fmt.Errorf("verify %s credentials: %w", name, err)
		default:
			logger.Warn("Integration unavailable at startup", zap.String("gateway", name), zap.Error(err))
		}
	}
	return nil
}
