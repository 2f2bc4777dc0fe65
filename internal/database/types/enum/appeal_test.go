package enum_test

import (
	"testing"

	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppealStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[[2]enum.AppealStatus]bool{
		{enum.AppealStatusPendingAnalysis, enum.AppealStatusPendingReview}: true,
		{enum.AppealStatusPendingAnalysis, enum.AppealStatusApproved}:      true,
		{enum.AppealStatusPendingAnalysis, enum.AppealStatusRejected}:      true,
		{enum.AppealStatusPendingReview, enum.AppealStatusUnderReview}:     true,
		{enum.AppealStatusPendingReview, enum.AppealStatusExpired}:         true,
		{enum.AppealStatusPendingReview, enum.AppealStatusCancelled}:       true,
		{enum.AppealStatusUnderReview, enum.AppealStatusApproved}:          true,
		{enum.AppealStatusUnderReview, enum.AppealStatusRejected}:          true,
		{enum.AppealStatusUnderReview, enum.AppealStatusExpired}:           true,
		{enum.AppealStatusUnderReview, enum.AppealStatusCancelled}:         true,
	}

	// Every ordered pair, including self-loops and out-of-range values
	statuses := append(enum.AppealStatuses(), enum.AppealStatus(-1), enum.AppealStatus(42))
	checked := 0

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]enum.AppealStatus{from, to}]
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
			checked++
		}
	}

	require.Equal(t, len(statuses)*len(statuses), checked)
}

func TestAppealStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   enum.AppealStatus
		terminal bool
		decided  bool
	}{
		{enum.AppealStatusPendingAnalysis, false, false},
		{enum.AppealStatusPendingReview, false, false},
		{enum.AppealStatusUnderReview, false, false},
		{enum.AppealStatusApproved, true, true},
		{enum.AppealStatusRejected, true, true},
		{enum.AppealStatusExpired, true, false},
		{enum.AppealStatusCancelled, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.decided, tt.status.IsDecided())

			if tt.terminal {
				for _, next := range enum.AppealStatuses() {
					assert.False(t, tt.status.CanTransition(next), "terminal %s must not move to %s", tt.status, next)
				}
			}
		})
	}
}

func TestDescriptorsKeepTagsPlain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PendingReview", enum.AppealStatusPendingReview.String())
	assert.Equal(t, "Pending Review", enum.AppealStatusPendingReview.Describe().Label)
	assert.NotEmpty(t, enum.AppealStatusPendingReview.Describe().Glyph)
	assert.Equal(t, "Unknown", enum.AppealStatus(99).Describe().Label)

	assert.Equal(t, enum.SeverityBan, enum.ActionTypeBan.Severity())
	assert.Equal(t, enum.SeverityLow, enum.ActionTypeDeleteMessage.Severity())
	assert.False(t, enum.ActionTypeDeleteMessage.IsReversible())
	assert.Equal(t, "unban", enum.ActionTypeBan.Describe().Reversal)
	assert.Equal(t, enum.SeverityBan, enum.ActionType(99).Severity())
}

func TestParseDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    enum.Decision
		wantErr bool
	}{
		{"approve", enum.DecisionApprove, false},
		{" Rejected ", enum.DecisionReject, false},
		{"defer", enum.DecisionDefer, false},
		{"maybe", enum.DecisionDefer, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := enum.ParseDecision(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, enum.ErrUnknownDecision)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	status, ok := enum.DecisionApprove.Status()
	assert.True(t, ok)
	assert.Equal(t, enum.AppealStatusApproved, status)

	_, ok = enum.DecisionDefer.Status()
	assert.False(t, ok)
}
