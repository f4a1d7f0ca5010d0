package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Settings параметры устойчивого клиента одного внешнего сервиса
type Settings struct {
	Name             string
	Timeout          time.Duration
	MaxRetries       int
	BaseDelay        time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultSettings таймаут 10s, три повтора через 1s/2s/4s, размыкание после 5 ошибок подряд на минуту
func DefaultSettings(name string) Settings {
	return Settings{
		Name:             name,
		Timeout:          10 * time.Second,
		MaxRetries:       3,
		BaseDelay:        time.Second,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	}
}

// Client оборачивает вызовы одного внешнего сервиса: таймаут, повторы, circuit breaker.
// Один экземпляр на шлюз, создаётся при старте и внедряется в шлюз.
type Client struct {
	settings Settings
	breaker  *gobreaker.CircuitBreaker[struct{}]
	logger   *zap.Logger
	now      func() time.Time

	mu           sync.Mutex
	failureCount int
	lastFailure  time.Time
	nextRetry    time.Time
}

// NewClient создаёт клиента для сервиса settings.Name
func NewClient(settings Settings, logger *zap.Logger) *Client {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 1
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	if settings.BaseDelay <= 0 {
		settings.BaseDelay = time.Second
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}

	c := &Client{
		settings: settings,
		logger:   logger.With(zap.String("gateway", settings.Name)),
		now:      time.Now,
	}

	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(settings.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			// Ошибки авторизации и отмена вызывающим не говорят о недоступности сервиса
			return err == nil || IsAuth(err) || isCanceled(err)
		},
		OnStateChange: c.onStateChange,
	})

	return c
}

// Name возвращает имя внешнего сервиса
func (c *Client) Name() string {
	return c.settings.Name
}

// Do выполняет op с повторами и защитой circuit breaker.
// Каждая попытка ограничена таймаутом; при разомкнутой цепи сетевой вызов не выполняется.
func (c *Client) Do(ctx context.Context, operation string, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(c.settings.MaxRetries), retry.NewExponential(c.settings.BaseDelay))

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		err := c.attempt(ctx, op)
		if err == nil {
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}

		if IsRetryable(err) && attempts <= c.settings.MaxRetries {
			c.logger.Warn("Integration call failed, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}

		return err
	})

	if err == nil {
		return nil
	}

	if IsAuth(err) {
		c.logger.Error("Integration authentication failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return &AuthError{Gateway: c.settings.Name, Operation: operation, Err: err}
	}

	return &IntegrationError{Gateway: c.settings.Name, Operation: operation, Attempts: attempts, Err: err}
}

// Call то же что Do, но возвращает результат операции
func Call[T any](ctx context.Context, c *Client, operation string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, operation, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (c *Client) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
		defer cancel()
		return struct{}{}, op(callCtx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case isCanceled(err):
	case err == nil || IsAuth(err):
		c.failureCount = 0
	default:
		c.failureCount++
		c.lastFailure = c.now()
	}

	return err
}

// isCanceled контекст отменил вызывающий. Таймаут попытки даёт DeadlineExceeded и считается сбоем
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func (c *Client) onStateChange(name string, from, to gobreaker.State) {
	c.mu.Lock()
	switch to {
	case gobreaker.StateOpen:
		c.nextRetry = c.now().Add(c.settings.Cooldown)
	case gobreaker.StateClosed:
		c.nextRetry = time.Time{}
		c.failureCount = 0
	}
	c.mu.Unlock()

	c.logger.Warn("Circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// State снимок состояния circuit breaker для health-check
func (c *Client) State() CircuitState {
	state := fromBreakerState(c.breaker.State())

	c.mu.Lock()
	defer c.mu.Unlock()

	cs := CircuitState{
		Gateway:      c.settings.Name,
		State:        state,
		FailureCount: c.failureCount,
	}
	if !c.lastFailure.IsZero() {
		t := c.lastFailure
		cs.LastFailureTime = &t
	}
	if state != StateClosed && !c.nextRetry.IsZero() {
		t := c.nextRetry
		cs.NextRetryTime = &t
	}
	return cs
}
