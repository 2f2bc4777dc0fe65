package types

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/uptrace/bun"
)

var (
	ErrAppealNotFound    = errors.New("appeal not found")
	ErrActionNotFound    = errors.New("moderation action not found")
	ErrInvalidTransition = errors.New("invalid appeal status transition")
	ErrClaimConflict     = errors.New("appeal already claimed by another reviewer")
	ErrDuplicateAppeal   = errors.New("an open appeal already exists for this action")
)

// Appeal is a user-initiated dispute against a moderation action.
type Appeal struct {
	bun.BaseModel `bun:"table:appeals,alias:appeal"`

	ID              uuid.UUID           `bun:",pk,type:uuid"`                // Unique identifier
	UserID          uint64              `bun:",notnull"`                     // Discord ID of the appellant
	GuildID         uint64              `bun:",notnull"`                     // Guild the action was taken in
	ActionID        int64               `bun:",notnull"`                     // Originating moderation action
	Action          ModerationAction    `bun:"type:jsonb,notnull"`           // Snapshot of the action at submission
	Status          enum.AppealStatus   `bun:",notnull"`                     // Current lifecycle status
	ProcessingPath  enum.ProcessingPath `bun:",notnull"`                     // Routing hint
	ReasonText      string              `bun:",notnull"`                     // Appellant's explanation
	SubmittedAt     time.Time           `bun:",notnull"`                     // When the appeal was filed
	ReviewDeadline  time.Time           `bun:",nullzero"`                    // When a queued appeal expires
	ReviewClaimedBy uint64              `bun:",nullzero"`                    // Reviewer holding the claim
	ClaimedAt       time.Time           `bun:",nullzero"`                    // When the claim was taken
	Analysis        *AutoReviewResult   `bun:"type:jsonb,nullzero"`          // Analyzer output
	Review          *AppealReview       `bun:"type:jsonb,nullzero"`          // Decision record
	Execution       *ExecutionResult    `bun:"type:jsonb,nullzero"`          // Outcome of applying the decision
	ClosedAt        time.Time           `bun:",nullzero"`                    // When a terminal status was reached
	UpdatedAt       time.Time           `bun:",notnull"`                     // Last mutation
}

// Clone returns a copy that shares only immutable attachments with the original.
func (a *Appeal) Clone() *Appeal {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// IsClaimedBy reports whether the reviewer currently holds the claim.
func (a *Appeal) IsClaimedBy(reviewerID uint64) bool {
	return a.Status == enum.AppealStatusUnderReview && a.ReviewClaimedBy == reviewerID
}

// DeadlineFor returns when the appeal expires in its current status.
// Queued appeals count from submission and claimed appeals count from the claim.
func (a *Appeal) DeadlineFor(timeout time.Duration) time.Time {
	if a.Status == enum.AppealStatusUnderReview && !a.ClaimedAt.IsZero() {
		return a.ClaimedAt.Add(timeout)
	}
	return a.SubmittedAt.Add(timeout)
}

// ModerationAction is the record of the action an appeal disputes.
type ModerationAction struct {
	bun.BaseModel `bun:"table:moderation_actions,alias:action"`

	ID          int64           `bun:",pk,autoincrement" json:"id"`
	GuildID     uint64          `bun:",notnull" json:"guildId"`
	TargetID    uint64          `bun:",notnull" json:"targetId"`
	Type        enum.ActionType `bun:",notnull" json:"type"`
	Severity    enum.Severity   `bun:",notnull" json:"severity"`
	RoleID      uint64          `bun:",nullzero" json:"roleId,omitempty"` // Set for role removals
	ModeratorID uint64          `bun:",nullzero" json:"moderatorId,omitempty"`
	Reason      string          `bun:",nullzero" json:"reason,omitempty"`
	AppliedAt   time.Time       `bun:",notnull" json:"appliedAt"`
	ReversedAt  time.Time       `bun:",nullzero" json:"reversedAt"`
}

// AutoReviewResult is the analyzer's verdict on an appeal. Immutable once produced.
type AutoReviewResult struct {
	Decision   enum.Decision `json:"decision"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason"`
	Factors    []string      `json:"factors"`
	// Degraded is set when the analyzer lacked the inputs to score properly.
	Degraded bool `json:"degraded,omitempty"`
	// Complex is set when the appeal references context a reviewer should read.
	Complex bool `json:"complex,omitempty"`
}

// HasFactor reports whether the named signal contributed to the result.
func (r *AutoReviewResult) HasFactor(name string) bool {
	return r != nil && slices.Contains(r.Factors, name)
}

// AppealReview records who decided an appeal and how.
type AppealReview struct {
	ReviewerID uint64        `json:"reviewerId,omitempty"` // Zero means the system decided
	Decision   enum.Decision `json:"decision"`
	Notes      string        `json:"notes,omitempty"`
	ReviewedAt time.Time     `json:"reviewedAt"`
}

// IsSystem reports whether the review was produced automatically.
func (r *AppealReview) IsSystem() bool {
	return r.ReviewerID == 0
}

// ExecutionResult is the closed outcome of applying a decision.
// Exactly one of the variants is populated according to Outcome.
type ExecutionResult struct {
	Outcome    enum.ExecutionOutcome `json:"outcome"`
	Actions    []string              `json:"actions,omitempty"` // Success: applied action ids in order
	Reason     string                `json:"reason,omitempty"`  // NoAction: why nothing was applied
	Error      string                `json:"error,omitempty"`   // Error: collaborator failure message
	ExecutedAt time.Time             `json:"executedAt"`
}

// ExecutionSucceeded builds the variant for applied actions.
func ExecutionSucceeded(actions []string, at time.Time) *ExecutionResult {
	return &ExecutionResult{
		Outcome:    enum.ExecutionOutcomeSuccess,
		Actions:    slices.Clone(actions),
		ExecutedAt: at,
	}
}

// ExecutionNoAction builds the variant for decisions that need no change.
func ExecutionNoAction(reason string, at time.Time) *ExecutionResult {
	return &ExecutionResult{
		Outcome:    enum.ExecutionOutcomeNoAction,
		Reason:     reason,
		ExecutedAt: at,
	}
}

// ExecutionFailed builds the variant for a failed collaborator call.
func ExecutionFailed(message string, at time.Time) *ExecutionResult {
	return &ExecutionResult{
		Outcome:    enum.ExecutionOutcomeError,
		Error:      message,
		ExecutedAt: at,
	}
}

// Success reports whether the decision was applied or needed nothing applied.
func (r *ExecutionResult) Success() bool {
	return r != nil && r.Outcome != enum.ExecutionOutcomeError
}

// UserAppealStats aggregates a user's appeals within one guild.
type UserAppealStats struct {
	UserID       uint64  `json:"userId"`
	GuildID      uint64  `json:"guildId"`
	Total        int     `json:"total"`
	Approved     int     `json:"approved"`
	Rejected     int     `json:"rejected"`
	Pending      int     `json:"pending"`
	Expired      int     `json:"expired"`
	Cancelled    int     `json:"cancelled"`
	ApprovalRate float64 `json:"approvalRate"`
}

// UserAppealHistory is a user's appeals within a guild plus their aggregate.
type UserAppealHistory struct {
	Appeals []*Appeal
	Stats   UserAppealStats
}
