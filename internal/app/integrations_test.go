package app

import (
	"context"
	"errors"
	"testing"

	"github.com/Freeeeeet/consult_booking/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) VerifyCredentials(ctx context.Context) error {
	return f(ctx)
}

func TestVerifyIntegrationsFailsOnAuth(t *testing.T) {
	var checked []string
	checks := map[string]CredentialChecker{
		"calendar": checkerFunc(func(ctx context.Context) error {
			checked = append(checked, "calendar")
			return nil
		}),
		"crm": checkerFunc(func(ctx context.Context) error {
			checked = append(checked, "crm")
			return &resilience.AuthError{Gateway: "crm", Operation: "verify_credentials", Err: errors.New("401")}
		}),
	}

	err := VerifyIntegrations(context.Background(), checks, zaptest.NewLogger(t))
	require.ErrorIs(t, err, resilience.ErrAuthFailure)
	assert.Contains(t, err.Error(), "crm")
	assert.Equal(t, []string{"calendar", "crm"}, checked)
}

func TestVerifyIntegrationsToleratesOutage(t *testing.T) {
	checks := map[string]CredentialChecker{
		"calendar": checkerFunc(func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return resilience.ErrCircuitOpen
		}),
	}

	require.NoError(t, VerifyIntegrations(context.Background(), checks, zaptest.NewLogger(t)))
	require.NoError(t, VerifyIntegrations(context.Background(), nil, zaptest.NewLogger(t)))
}
