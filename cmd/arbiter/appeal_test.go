package main

import (
	"testing"

	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRows(t *testing.T) {
	t.Parallel()

	rows := statusRows(map[enum.AppealStatus]int{
		enum.AppealStatusPendingReview: 3,
		enum.AppealStatusApproved:      2,
		enum.AppealStatusCancelled:     1,
	})

	require.Len(t, rows, len(enum.AppealStatuses())+1)
	for i, status := range enum.AppealStatuses() {
		assert.Equal(t, status.String(), rows[i][0])
	}

	assert.Equal(t, []string{enum.AppealStatusPendingAnalysis.String(), "0"}, rows[0])
	assert.Equal(t, []string{enum.AppealStatusPendingReview.String(), "3"}, rows[1])
	assert.Equal(t, []string{"Total", "6"}, rows[len(rows)-1])
}
