package dbretry_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/robalyx/arbiter/internal/database/dbretry"
	"github.com/robalyx/arbiter/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	dbretry.Configure(config.Retry{MaxRetries: 3, Delay: 1, MaxDelay: 5})
	os.Exit(m.Run())
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "wrapped eof", err: fmt.Errorf("read: %w", errors.New("unexpected EOF")), want: true},
		{name: "plain", err: errors.New("duplicate key"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, dbretry.IsRetryableError(tt.err))
		})
	}
}

func TestOperationRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := dbretry.Operation(t.Context(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset by peer")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestNoResultStopsOnPermanentErrors(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("not found")
	calls := 0
	err := dbretry.NoResult(t.Context(), func(context.Context) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestNoResultGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	err := dbretry.NoResult(t.Context(), func(context.Context) error {
		calls++
		return errors.New("broken pipe")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after retries")
	assert.Equal(t, 4, calls)
}
