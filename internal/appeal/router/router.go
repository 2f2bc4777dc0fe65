package router

import (
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup/config"
)

// Policy holds the parameters routing depends on.
type Policy struct {
	Workflow           config.WorkflowConfig
	SincerityThreshold float64
}

// Route maps an analysed appeal to its processing path. Rules are checked
// from most to least conservative, so when several match the human-reviewed
// path wins and auto review never wins a tie.
//
// prior aggregates the user's earlier appeals in the guild, excluding this one.
func Route(
	appeal *types.Appeal, result *types.AutoReviewResult, prior types.UserAppealStats, policy Policy,
) enum.ProcessingPath {
	severity := appeal.Action.Type.Severity()

	switch {
	case result == nil || result.Degraded:
		return enum.ProcessingPathManualReview

	case policy.Workflow.EscalateAfterAppeals > 0 &&
		prior.Total >= policy.Workflow.EscalateAfterAppeals &&
		prior.Rejected > 0:
		return enum.ProcessingPathEscalatedReview

	case severity >= enum.SeverityBan:
		return enum.ProcessingPathPriorityReview

	case policy.Workflow.AutoReviewEnabled &&
		result.Confidence >= policy.SincerityThreshold &&
		result.Decision.IsFinal() &&
		severity == enum.SeverityLow:
		return enum.ProcessingPathAutoReview

	case result.Confidence >= policy.Workflow.AmbiguousBandLow &&
		result.Confidence < policy.SincerityThreshold:
		return enum.ProcessingPathManualReview

	case severity == enum.SeverityLow && !result.Complex && prior.Rejected == 0:
		return enum.ProcessingPathFastTrack
	}

	return enum.ProcessingPathManualReview
}
