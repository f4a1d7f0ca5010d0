package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrAuthFailure        = errors.New("integration authentication failed")
	ErrIntegrationFailure = errors.New("integration call failed")
)

type errorClass int

const (
	classPermanent errorClass = iota
	classTransient
	classAuth
)

type classifiedError struct {
	class errorClass
	err   error
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Transient помечает ошибку как временную: сеть, 5xx, таймаут. Такие вызовы повторяются
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: classTransient, err: err}
}

// Permanent помечает ошибку как постоянную, повтор не поможет
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: classPermanent, err: err}
}

// Auth помечает ошибку авторизации у внешнего сервиса
func Auth(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: classAuth, err: err}
}

func classify(err error) errorClass {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return classTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return classTransient
	}

	return classPermanent
}

// IsRetryable проверяет, стоит ли повторять вызов
func IsRetryable(err error) bool {
	return err != nil && classify(err) == classTransient
}

// IsAuth проверяет что ошибка связана с учётными данными интеграции
func IsAuth(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAuthFailure) || classify(err) == classAuth
}

// IntegrationError вызов внешнего сервиса не удался после всех попыток
type IntegrationError struct {
	Gateway   string
	Operation string
	Attempts  int
	Err       error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Gateway, e.Operation, e.Attempts, e.Err)
}

func (e *IntegrationError) Unwrap() []error {
	return []error{ErrIntegrationFailure, e.Err}
}

// AuthError внешний сервис отклонил учётные данные
type AuthError struct {
	Gateway   string
	Operation string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s %s: authentication failed: %v", e.Gateway, e.Operation, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{ErrAuthFailure, e.Err}
}
