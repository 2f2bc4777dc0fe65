package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/robalyx/arbiter/internal/database/types"
	"github.com/robalyx/arbiter/internal/database/types/enum"
	"github.com/robalyx/arbiter/internal/setup/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FollowUpEscalate is the reject follow-up that reports upheld actions to moderators.
const FollowUpEscalate = "escalate"

// Reasons recorded on no-action results.
const (
	ReasonUpheld        = "upheld"
	ReasonNotReversible = "no reversible action"
)

// resultCacheSize bounds how many recent outcomes are remembered in process.
const resultCacheSize = 4096

var tracer = otel.Tracer("github.com/robalyx/arbiter/internal/appeal/executor")

// ActionSource is the moderation subsystem the executor acts against.
// Its operations are expected to be idempotent.
type ActionSource interface {
	// Action returns the moderation action record.
	Action(ctx context.Context, actionID int64) (*types.ModerationAction, error)
	// Reverse undoes a moderation action.
	Reverse(ctx context.Context, action *types.ModerationAction) error
	// Escalate reports an upheld action to the moderators.
	Escalate(ctx context.Context, action *types.ModerationAction, reason string) error
}

// Settings supplies workflow parameters per guild.
type Settings interface {
	Workflow(guildID uint64) config.WorkflowConfig
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// Executor applies decided appeals to the original moderation action.
// It calls the action source at most once per appeal and decision.
type Executor struct {
	source   ActionSource
	settings Settings
	logger   *zap.Logger
	now      func() time.Time
	group    singleflight.Group
	results  *expirable.LRU[string, *types.ExecutionResult]
}

// New creates an Executor.
func New(source ActionSource, settings Settings, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		source:   source,
		settings: settings,
		logger:   logger.Named("executor"),
		now:      time.Now,
		results:  expirable.NewLRU[string, *types.ExecutionResult](resultCacheSize, nil, 24*time.Hour),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute applies the appeal's decision and returns the outcome. An appeal
// that already carries a result, or whose decision was already applied,
// gets the earlier result back without another call to the action source.
// Collaborator failures are reported in the result and never roll back the
// appeal's status.
func (e *Executor) Execute(ctx context.Context, appeal *types.Appeal) *types.ExecutionResult {
	if appeal.Execution != nil {
		return appeal.Execution
	}

	if !appeal.Status.IsDecided() || appeal.Review == nil {
		return types.ExecutionFailed(
			fmt.Sprintf("appeal %s is not decided (status=%s)", appeal.ID, appeal.Status), e.now())
	}

	key := appeal.ID.String() + ":" + appeal.Review.Decision.String()
	if result, ok := e.results.Get(key); ok {
		return result
	}

	v, _, _ := e.group.Do(key, func() (any, error) {
		// A concurrent caller may have finished between the check and the call
		if result, ok := e.results.Get(key); ok {
			return result, nil
		}

		result := e.run(ctx, appeal)
		if result.Success() {
			e.results.Add(key, result)
		}
		return result, nil
	})

	return v.(*types.ExecutionResult)
}

// Retry runs a failed execution again. Appeals without a failed result are
// returned their current result untouched.
func (e *Executor) Retry(ctx context.Context, appeal *types.Appeal) *types.ExecutionResult {
	if appeal.Execution == nil || appeal.Execution.Success() {
		return e.Execute(ctx, appeal)
	}

	retry := appeal.Clone()
	retry.Execution = nil
	return e.Execute(ctx, retry)
}

// run performs the side effects for a decided appeal.
func (e *Executor) run(ctx context.Context, appeal *types.Appeal) *types.ExecutionResult {
	ctx, span := tracer.Start(ctx, "executor.Execute")
	defer span.End()

	span.SetAttributes(
		attribute.String("appeal.id", appeal.ID.String()),
		attribute.String("appeal.status", appeal.Status.String()),
		attribute.String("action.type", appeal.Action.Type.String()),
	)

	var result *types.ExecutionResult
	switch appeal.Status {
	case enum.AppealStatusApproved:
		result = e.reverse(ctx, appeal)
	case enum.AppealStatusRejected:
		result = e.uphold(ctx, appeal)
	case enum.AppealStatusPendingAnalysis,
		enum.AppealStatusPendingReview,
		enum.AppealStatusUnderReview,
		enum.AppealStatusExpired,
		enum.AppealStatusCancelled:
		result = types.ExecutionFailed("appeal is not decided", e.now())
	}

	span.SetAttributes(attribute.String("execution.outcome", result.Outcome.String()))
	if !result.Success() {
		span.SetStatus(codes.Error, result.Error)
		e.logger.Error("Failed to execute appeal decision",
			zap.String("appealID", appeal.ID.String()),
			zap.Int64("actionID", appeal.ActionID),
			zap.String("error", result.Error))
		return result
	}

	e.logger.Info("Executed appeal decision",
		zap.String("appealID", appeal.ID.String()),
		zap.String("outcome", result.Outcome.String()),
		zap.Strings("actions", result.Actions),
		zap.String("reason", result.Reason))

	return result
}

// reverse undoes the original action for an approved appeal.
func (e *Executor) reverse(ctx context.Context, appeal *types.Appeal) *types.ExecutionResult {
	action := appeal.Action
	descriptor := action.Type.Describe()

	if descriptor.Reversal == "" {
		return types.ExecutionNoAction(ReasonNotReversible, e.now())
	}

	if err := e.source.Reverse(ctx, &action); err != nil {
		return types.ExecutionFailed(fmt.Sprintf("failed to %s: %v", descriptor.Reversal, err), e.now())
	}

	return types.ExecutionSucceeded([]string{actionRef(descriptor.Reversal, action.ID)}, e.now())
}

// uphold keeps the original action and applies the guild's follow-up, if any.
func (e *Executor) uphold(ctx context.Context, appeal *types.Appeal) *types.ExecutionResult {
	if e.settings.Workflow(appeal.GuildID).RejectFollowUp != FollowUpEscalate {
		return types.ExecutionNoAction(ReasonUpheld, e.now())
	}

	action := appeal.Action
	reason := fmt.Sprintf("appeal %s by user %d was rejected", appeal.ID, appeal.UserID)
	if err := e.source.Escalate(ctx, &action, reason); err != nil {
		return types.ExecutionFailed(fmt.Sprintf("failed to escalate: %v", err), e.now())
	}

	return types.ExecutionSucceeded([]string{actionRef(FollowUpEscalate, action.ID)}, e.now())
}

// actionRef identifies an applied action by kind and original action id.
func actionRef(kind string, actionID int64) string {
	return fmt.Sprintf("%s:%d", kind, actionID)
}
