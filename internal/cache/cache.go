package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	BusyPeriodsTTL  = 5 * time.Minute
	AvailabilityTTL = 5 * time.Minute
	CRMContactTTL   = 30 * time.Minute
)

// Префиксы ключей. Мутация бронирований сбрасывает SlotsPrefix и BusyPrefix
const (
	SlotsPrefix      = "slots:"
	BusyPrefix       = "busy:"
	CRMContactPrefix = "crm:contact:"
)

// Cache хранилище ключ-значение с TTL.
// Промах не ошибка: Get возвращает false, вызывающий пересчитывает значение сам.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
}

func BusyPeriodsKey(start, end time.Time) string {
	return fmt.Sprintf("%s%d:%d", BusyPrefix, start.Unix(), end.Unix())
}

func SlotsKey(start, end time.Time, duration int) string {
	return fmt.Sprintf("%s%d:%d:%d", SlotsPrefix, start.Unix(), end.Unix(), duration)
}

func CRMContactKey(email string) string {
	return CRMContactPrefix + strings.ToLower(strings.TrimSpace(email))
}
